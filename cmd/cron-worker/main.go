package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumina-photos/lumina-backend/internal/bootstrap"
	"github.com/lumina-photos/lumina-backend/internal/cron"
	"github.com/lumina-photos/lumina-backend/pkg/config"
	"github.com/lumina-photos/lumina-backend/pkg/db"
	"github.com/lumina-photos/lumina-backend/pkg/instance"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/metrics"
	"github.com/lumina-photos/lumina-backend/pkg/migrate"
	"github.com/lumina-photos/lumina-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Fields:      map[string]string{"instance": instance.GetID()},
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	engine, err := bootstrap.NewEngine(cfg, dbClient, logg, metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout engine", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	registry, err := buildRegistry(cfg, dbClient, engine, logg, metricsCollector)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+lockScope(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metricsCollector,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
	})
	logg.Info(ctx, "starting cron worker")

	go func() {
		if err := metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, dbClient *db.Client, engine *bootstrap.Engine, logg *logger.Logger, collector *metrics.CronJobMetrics) (*cron.Registry, error) {
	pending, err := cron.NewPendingReconcileJob(cron.PendingReconcileJobParams{
		Logger:       logg,
		Ledger:       engine.Purchases,
		Reconciler:   engine.Checkout,
		Metrics:      collector,
		MinAge:       cfg.Cron.PendingMinAge,
		Lookback:     cfg.Cron.PendingLookback,
		AbandonAfter: cfg.Cron.PendingAbandonAfter,
		BatchLimit:   cfg.Cron.BatchLimit,
		Concurrency:  cfg.Cron.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("pending reconcile job: %w", err)
	}

	backfill, err := cron.NewRevenueBackfillJob(cron.RevenueBackfillJobParams{
		Logger:     logg,
		DB:         dbClient,
		Shares:     engine.Revenue,
		Recorder:   engine.Recorder,
		Metrics:    collector,
		BatchLimit: cfg.Cron.BatchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("revenue backfill job: %w", err)
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  engine.Outbox,
		Metrics:     collector,
		Retention:   cfg.Outbox.Retention,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	return cron.NewRegistry(pending, backfill, retention)
}

func lockScope(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
