package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/tracking"
)

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

	if cfg.Tracking.SigningKey == "" {
		log.Fatal("tracking signing key is required")
	}
	signer := tracking.NewSigner(cfg.Tracking.SigningKey, cfg.Tracking.BaseURL)

	// With a queue configured the service never touches the database; the
	// worker's consumer persists events instead.
	var sink tracking.EventSink
	if cfg.Tracking.SQSQueueURL != "" {
		region := cfg.Tracking.SQSRegion
		if region == "" {
			region = cfg.SES.Region
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		pub := tracking.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.Tracking.SQSQueueURL)
		defer pub.Close()
		sink = pub
	} else {
		db, err := postgres.Open(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		sink = postgres.NewStore(db)
	}

	r := tracking.NewHandler(signer, sink).Routes()
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         cfg.Tracking.ListenAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("tracking service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
