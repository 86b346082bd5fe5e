package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Grants up to ARGV[1] sends from a per-minute bucket capped at ARGV[2].
// Reading and incrementing in one script keeps concurrent workers from
// overshooting the cap.
const minuteBucketLuaScript = `
local key = KEYS[1]
local want = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key) or "0")
local granted = limit - current
if granted <= 0 then
    return 0
end
if granted > want then
    granted = want
end

local newVal = redis.call("INCRBY", key, granted)
if newVal == granted then
    redis.call("EXPIRE", key, ttl)
end

return granted
`

// RedisRateLimiter caps sends per wall-clock minute across every engine
// process sharing the Redis instance.
type RedisRateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	limit  int
	prefix string
	now    func() time.Time
}

// NewRedisRateLimiter creates a limiter allowing ratePerMinute sends.
func NewRedisRateLimiter(client *redis.Client, ratePerMinute int) *RedisRateLimiter {
	return &RedisRateLimiter{
		redis:  client,
		script: redis.NewScript(minuteBucketLuaScript),
		limit:  ratePerMinute,
		prefix: "campaign-engine:sends",
		now:    time.Now,
	}
}

// NewRedisRateLimiterFromURL connects to Redis and creates a limiter.
func NewRedisRateLimiterFromURL(redisURL string, ratePerMinute int) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewRedisRateLimiter(redis.NewClient(opts), ratePerMinute), nil
}

// Reserve grants up to want sends from the current minute's bucket.
func (r *RedisRateLimiter) Reserve(ctx context.Context, want int) (int, error) {
	if want <= 0 {
		return 0, nil
	}
	key := fmt.Sprintf("%s:%s", r.prefix, r.now().UTC().Format("200601021504"))
	granted, err := r.script.Run(ctx, r.redis, []string{key}, want, r.limit, 120).Int()
	if err != nil {
		return 0, fmt.Errorf("rate limit reserve: %w", err)
	}
	return granted, nil
}
