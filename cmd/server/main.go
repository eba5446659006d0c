// Package main is the entry point for the OR series API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"orseries/internal/config"
	"orseries/internal/domain/auth"
	"orseries/internal/domain/ornumber"
	"orseries/internal/domain/series"
	v1 "orseries/internal/infrastructure/http/v1"
	"orseries/internal/infrastructure/http/v1/middleware"
	"orseries/internal/infrastructure/storage/postgres"
	"orseries/internal/infrastructure/storage/postgres/series_repo"
	"orseries/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
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

	log.Infow("starting server", "app", cfg.App.Name, "env", cfg.App.Env, "version", version)

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.DSN)
	poolCfg.ApplicationName = cfg.App.Name
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txOpts := postgres.DefaultTxOptions()
	txOpts.StatementTimeout = cfg.Database.StatementTimeout
	txOpts.LockTimeout = cfg.Database.LockTimeout
	txManager := postgres.NewTxManagerWithOptions(pool, txOpts)

	auditService, err := postgres.NewAuditService(txManager)
	if err != nil {
		log.Fatalw("failed to initialize audit service", "error", err)
	}
	outbox := postgres.NewOutboxPublisher(txManager)

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

	// --- JWT ---
	jwtConfig := auth.DefaultJWTConfig(cfg.Auth.JWTSecret)
	if cfg.Auth.Issuer != "" {
		jwtConfig.Issuer = cfg.Auth.Issuer
	}
	jwtService := auth.NewJWTService(jwtConfig)

	// --- Router ---
	routerCfg := v1.RouterConfig{
		Mode:         gin.ReleaseMode,
		AppName:      cfg.App.Name,
		Version:      version,
		Logger:       log,
		JWTValidator: jwtService,
		Pool:         pool,
		Registry:     registry,
		Allocator:    allocator,
		Audit:        auditService,
	}
	if cfg.IsDevelopment() {
		routerCfg.Mode = gin.DebugMode
	}
	if cfg.Idempotency.Enabled {
		var store middleware.IdempotencyStore = postgres.NewIdempotencyStore(txManager, cfg.Idempotency.TTL)
		routerCfg.Idempotency = store
	}
	router := v1.NewRouter(routerCfg)

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Infow("server listening", "port", cfg.Server.Port, "idempotency", cfg.Idempotency.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	pool.LogStats(shutdownCtx)
	log.Info("server stopped")
}
