package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/cmd/mainconfig"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/app/bootstrap"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/config"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/events"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/mirror"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

// outbox-worker retries mirror tasks that failed during a booking request.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel).Component("outbox-worker")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("outbox worker requires DATABASE_URL")
		os.Exit(1)
	}

	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	patientDB := bootstrap.OpenPatientDB(cfg.PatientDatabaseURL, logger)
	if patientDB != nil {
		defer patientDB.Close()
	}

	deps := bootstrap.TargetDeps{PatientDB: patientDB, Redis: redisClient}
	if cfg.ReservationMirrorTable != "" || cfg.ReservationFeedQueueURL != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		deps.AWS = &awsCfg
	}

	handler := mirror.NewRouter(bootstrap.BuildMirrorTargets(cfg, deps, logger))
	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), handler, logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval).
		WithMaxAttempts(cfg.OutboxMaxAttempts)

	go deliverer.Start(ctx)
	logger.Info("outbox worker started",
		"interval", cfg.OutboxPollInterval.String(),
		"batch_size", cfg.OutboxBatchSize,
		"max_attempts", cfg.OutboxMaxAttempts,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down outbox worker")
	cancel()
}
