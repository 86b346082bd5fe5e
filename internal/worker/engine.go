package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// ErrAlreadyRunning is returned by StartWorker on a running engine.
var ErrAlreadyRunning = errors.New("engine already running")

// EngineConfig holds the tick periods of the two loops.
type EngineConfig struct {
	SchedulerInterval time.Duration
	QueueInterval     time.Duration
}

// Engine owns the scheduler and queue processor loops. Both run on one
// goroutine, so their tick bodies never overlap.
type Engine struct {
	scheduler *Scheduler
	queue     *QueueProcessor
	cfg       EngineConfig
	lock      distlock.DistLock

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewEngine creates an engine. Zero intervals default to 60s for the
// scheduler and 10s for the queue.
func NewEngine(scheduler *Scheduler, queue *QueueProcessor, cfg EngineConfig) *Engine {
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = 60 * time.Second
	}
	if cfg.QueueInterval <= 0 {
		cfg.QueueInterval = 10 * time.Second
	}
	return &Engine{scheduler: scheduler, queue: queue, cfg: cfg}
}

// SetLeaderLock makes every tick conditional on holding lock, so only one
// engine process sends at a time.
func (e *Engine) SetLeaderLock(lock distlock.DistLock) { e.lock = lock }

// Running reports whether the loop goroutine is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// StartWorker starts the tick loop. Tick bodies run on a context detached
// from ctx's cancellation; cancelling ctx stops the loop the same way
// StopWorker does.
func (e *Engine) StartWorker(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})

	logger.Info("engine starting", "component", "engine",
		"scheduler_interval", e.cfg.SchedulerInterval.String(),
		"queue_interval", e.cfg.QueueInterval.String(),
		"per_tick_budget", e.queue.Budget())

	go e.loop(ctx, e.stop, e.done)
	return nil
}

// StopWorker prevents further ticks and waits for a tick in progress to
// finish. It is safe to call on a stopped engine.
func (e *Engine) StopWorker() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	done := e.done
	e.mu.Unlock()

	<-done
	logger.Info("engine stopped", "component", "engine")
}

func (e *Engine) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	tickCtx := context.WithoutCancel(ctx)
	defer e.releaseLock(tickCtx)

	schedTicker := time.NewTicker(e.cfg.SchedulerInterval)
	defer schedTicker.Stop()
	queueTicker := time.NewTicker(e.cfg.QueueInterval)
	defer queueTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			return
		case <-schedTicker.C:
			if e.stopping(stop) || !e.leading(tickCtx) {
				continue
			}
			if err := e.scheduler.Tick(tickCtx); err != nil {
				logger.Error("scheduler tick failed", "component", "engine", "error", err)
			}
		case <-queueTicker.C:
			if e.stopping(stop) || !e.leading(tickCtx) {
				continue
			}
			if err := e.queue.Tick(tickCtx); err != nil {
				logger.Error("queue tick failed", "component", "engine", "error", err)
			}
		}
	}
}

func (e *Engine) stopping(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (e *Engine) leading(ctx context.Context) bool {
	if e.lock == nil {
		return true
	}
	ok, err := e.lock.Acquire(ctx)
	if err != nil {
		logger.Warn("leader lock check failed, skipping tick", "component", "engine", "error", err)
		return false
	}
	if !ok {
		logger.Debug("not leader, skipping tick", "component", "engine")
	}
	return ok
}

func (e *Engine) releaseLock(ctx context.Context) {
	if e.lock == nil {
		return
	}
	if err := e.lock.Release(ctx); err != nil {
		logger.Warn("leader lock release failed", "component", "engine", "error", err)
	}
}
