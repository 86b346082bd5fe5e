package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/api"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/render"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/segmentation"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/sending"
	"github.com/ignite/campaign-engine/internal/tracking"
	"github.com/ignite/campaign-engine/internal/worker"
)

const leaderLockKey = "campaign-engine:leader"

// logNotifier reports campaign lifecycle changes to the log.
type logNotifier struct{}

func (logNotifier) CampaignStarted(_ context.Context, campaignID string, recipients int) {
	logger.Info("campaign started", "campaign_id", campaignID, "recipients", recipients)
}

func (logNotifier) CampaignCompleted(_ context.Context, campaignID string) {
	logger.Info("campaign completed", "campaign_id", campaignID)
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redact := true
	if cfg.Log.RedactPII != nil {
		redact = *cfg.Log.RedactPII
	}
	logger.SetDefault(logger.New(logger.ParseLevel(cfg.Log.Level), redact))
	defer logger.Sync()

	logger.Info("starting campaign worker", "transport", cfg.Sender.Transport, "rate_per_minute", cfg.Engine.RatePerMinute)

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()
	store := postgres.NewStore(db)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	signer := tracking.NewSigner(cfg.Tracking.SigningKey, cfg.Tracking.BaseURL)
	injector := tracking.NewInjector(signer, cfg.Tracking.PhysicalAddress)
	enqueuer := campaign.NewEnqueuer(store, segmentation.NewQueryBuilder(), render.New(), signer, injector)
	campaigns := campaign.NewService(store, enqueuer)

	transport, err := newTransport(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialise %s transport: %v", cfg.Sender.Transport, err)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	notifier := logNotifier{}
	scheduler := worker.NewScheduler(store, enqueuer, notifier)
	queue := worker.NewQueueProcessor(store, enqueuer, transport, worker.QueueConfig{
		Interval:      cfg.Engine.QueueInterval(),
		RatePerMinute: cfg.Engine.RatePerMinute,
		FromName:      cfg.Sender.FromName,
	})
	queue.SetNotifier(notifier)
	queue.SetUnsubscribeLinks(signer)
	if redisClient != nil {
		queue.SetRateLimiter(worker.NewRedisRateLimiter(redisClient, cfg.Engine.RatePerMinute))
	}

	engine := worker.NewEngine(scheduler, queue, worker.EngineConfig{
		SchedulerInterval: cfg.Engine.SchedulerInterval(),
		QueueInterval:     cfg.Engine.QueueInterval(),
	})
	if cfg.Engine.LeaderLock {
		engine.SetLeaderLock(distlock.NewLock(redisClient, db, leaderLockKey, cfg.Engine.LeaderLockTTL()))
	}
	if err := engine.StartWorker(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	// Tracking events queued by the tracking service are persisted here.
	var consumer *tracking.Consumer
	if cfg.Tracking.SQSQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(sqsRegion(cfg)))
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		consumer = tracking.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Tracking.SQSQueueURL, store)
		consumer.Start(ctx)
	}

	handlers := api.NewHandlers(campaigns, store)
	handlers.SetEngine(engine)
	handlers.SetPing(db.PingContext)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port),
		Handler:      handlers.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())

	engine.StopWorker()
	if consumer != nil {
		consumer.Stop()
	}
	stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown", "error", err)
	}
	logger.Info("worker stopped")
}

func newTransport(ctx context.Context, cfg *config.Config) (sending.Transport, error) {
	switch cfg.Sender.Transport {
	case "ses":
		return sending.NewSESTransport(ctx, sending.SESConfig{
			Region:           cfg.SES.Region,
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey,
			From:             cfg.SES.From,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
	case "smtp":
		return sending.NewSMTPTransport(sending.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.SMTP.Timeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Sender.Transport)
	}
}

func sqsRegion(cfg *config.Config) string {
	if cfg.Tracking.SQSRegion != "" {
		return cfg.Tracking.SQSRegion
	}
	return cfg.SES.Region
}
