package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/cmd/mainconfig"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/api/router"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/app/bootstrap"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/booking"
	appconfig "github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/config"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/observability/metrics"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/schedule"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded .env")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"lock_backend", cfg.LockBackend,
		"lock_scope", cfg.LockScope,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, cleanup, err := setup(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LockTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// setup wires the HTTP handler and returns a cleanup for the opened connections.
func setup(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (http.Handler, func(), error) {
	reg, metricsHandler := setupMetrics()
	bookingMetrics := metrics.NewBookingMetrics(reg)

	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	patientDB := bootstrap.OpenPatientDB(cfg.PatientDatabaseURL, logger)
	cleanup := func() {
		if pool != nil {
			pool.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if patientDB != nil {
			_ = patientDB.Close()
		}
	}

	locker, err := bootstrap.BuildLocker(cfg, redisClient, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	deps := bootstrap.TargetDeps{PatientDB: patientDB, Redis: redisClient}
	if cfg.ReservationMirrorTable != "" || cfg.ReservationFeedQueueURL != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("load aws config: %w", err)
		}
		deps.AWS = &awsCfg
	}

	stores := bootstrap.BuildStores(pool, logger)
	targets := bootstrap.BuildMirrorTargets(cfg, deps, logger)
	syncer := bootstrap.BuildSyncer(cfg, targets, stores.Outbox, bookingMetrics, logger)
	svc, resolver := bootstrap.BuildBookingService(cfg, stores, locker, syncer, bookingMetrics, logger)

	handler := router.New(&router.Config{
		Logger:             logger,
		Booking:            booking.NewHandler(svc, logger),
		Schedules:          schedule.NewAdminHandler(stores.Rules, resolver, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		Gatherer:           reg,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		HealthChecks:       bootstrap.PingChecks(pool, redisClient, patientDB),
	})
	return handler, cleanup, nil
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
