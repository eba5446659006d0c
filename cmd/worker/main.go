// Package main runs background jobs: outbox delivery, near-limit alerts,
// expiry of unused OR numbers and idempotency key cleanup.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"orseries/internal/config"
	"orseries/internal/domain/ornumber"
	"orseries/internal/domain/series"
	"orseries/internal/infrastructure/monitor"
	"orseries/internal/infrastructure/publisher"
	"orseries/internal/infrastructure/storage/postgres"
	"orseries/internal/infrastructure/storage/postgres/series_repo"
	"orseries/internal/infrastructure/worker"
	"orseries/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateWorker()
	}
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Service:     cfg.App.Name,
		Environment: cfg.App.Env,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("starting worker", "app", cfg.App.Name, "env", cfg.App.Env)

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.DSN)
	poolCfg.ApplicationName = cfg.App.Name + "-worker"
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txOpts := postgres.DefaultTxOptions()
	txOpts.StatementTimeout = cfg.Database.StatementTimeout
	txOpts.LockTimeout = cfg.Database.LockTimeout
	txManager := postgres.NewTxManagerWithOptions(pool, txOpts)

	auditService, err := postgres.NewAuditService(txManager)
	if err != nil {
		log.Fatalw("failed to initialize audit service", "error", err)
	}
	outbox := postgres.NewOutboxPublisher(txManager)

	// --- Redis ---
	rdb, err := publisher.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalw("failed to connect to redis", "error", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Infow("redis connection established", "addr", cfg.Redis.Addr)

	// --- Domain services ---
	seriesRepo := series_repo.NewSeriesRepo(txManager)
	registry := series.NewService(series.Config{
		Repo:      seriesRepo,
		TxManager: txManager,
		Audit:     auditService,
		Events:    outbox,
		Logger:    log,
	})
	allocator := ornumber.NewService(ornumber.Config{
		Registry:   registry,
		SeriesRepo: seriesRepo,
		Repo:       series_repo.NewGenerationRepo(txManager),
		TxManager:  txManager,
		Audit:      auditService,
		Events:     outbox,
		Logger:     log,
		Options: ornumber.Options{
			MaxRetries:       cfg.Allocator.MaxRetries,
			RetryInterval:    cfg.Allocator.RetryInterval,
			MaxRetryInterval: cfg.Allocator.MaxRetryInterval,
			MaxJump:          cfg.Allocator.MaxJump,
			NearLimitPercent: cfg.Allocator.NearLimitPercent,
		},
	})

	// --- Jobs ---
	relay := postgres.NewOutboxRelay(
		txManager,
		cfg.Worker.OutboxBatchSize,
		publisher.NewEventPublisher(rdb, cfg.Redis.EventsChannel, log),
		log,
	)

	rule, err := monitor.CompileRule(cfg.Worker.AlertRule)
	if err != nil {
		log.Fatalw("invalid alert rule", "rule", cfg.Worker.AlertRule, "error", err)
	}
	seriesMonitor := monitor.New(monitor.Config{
		Source: allocator,
		Rule:   rule,
		Notifier: monitor.Notifiers{
			monitor.LogNotifier{Log: log},
			publisher.NewAlertPublisher(rdb, cfg.Redis.AlertsChannel),
		},
		DedupeWindow: cfg.Worker.AlertDedupeWindow,
		Logger:       log,
	})

	idempotency := postgres.NewIdempotencyStore(txManager, cfg.Idempotency.TTL)

	runner := worker.NewRunner(
		worker.Config{
			Locker:    worker.NewRedisLocker(rdb),
			LockTTL:   cfg.Worker.LeaderLockTTL,
			KeyPrefix: cfg.App.Name + ":worker:",
			Logger:    log,
		},
		worker.OutboxJob(relay, cfg.Worker.OutboxBatchSize, cfg.Worker.OutboxInterval),
		worker.OutboxMaintenanceJob(relay, cfg.Worker.OutboxRetention, cfg.Worker.CleanupInterval, log),
		worker.MonitorJob(seriesMonitor, cfg.Worker.MonitorInterval),
		worker.ExpireJob(allocator, cfg.Worker.ExpireAfter, cfg.Worker.ExpireBatchSize, cfg.Worker.ExpireInterval),
		worker.IdempotencyCleanupJob(idempotency, cfg.Worker.CleanupInterval, log),
	)

	if err := runner.Run(ctx); err != nil {
		log.Errorw("worker stopped with error", "error", err)
	}
	pool.LogStats(context.Background())
}
