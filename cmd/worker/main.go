// Package main provides the worker application entry point.
// The worker consumes AI processing tasks from RabbitMQ, runs them through
// the task engine, and reports outcomes through the Store HTTP collaborator.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-task-pipeline/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-task-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-task-pipeline/internal/broker"
	"github.com/fairyhunter13/ai-task-pipeline/internal/config"
	"github.com/fairyhunter13/ai-task-pipeline/internal/consumer"
	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-task-pipeline/internal/engine"
	"github.com/fairyhunter13/ai-task-pipeline/internal/idempotency"
	"github.com/fairyhunter13/ai-task-pipeline/internal/storeclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	conns := broker.NewConnectionManager(cfg, logger)
	if err := conns.Start(ctx); err != nil {
		slog.Error("broker connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = conns.Close() }()

	bus, err := broker.NewBus(conns)
	if err != nil {
		slog.Error("broker topology setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = bus.Close() }()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()
	idem := idempotency.New(rdb, cfg.IdempotentTTL)

	store := storeclient.New(cfg.StoreBaseURL, cfg.StoreHTTPTimeout)

	eng := engine.New([]domain.ModelAdapter{engine.NewMockAdapter(cfg.DefaultModel)}, engine.Config{
		DefaultModel:         cfg.DefaultModel,
		EngineTimeout:        cfg.EngineTimeout,
		CircuitFailThreshold: cfg.CircuitFailThreshold,
		CircuitRecovery:      cfg.CircuitRecovery,
	})

	retryCfg := domain.DefaultRetryConfig()
	cfgRetry := cfg.GetRetryConfig()
	retryCfg.MaxRetries = cfgRetry.MaxRetries
	retryCfg.InitialDelay = cfgRetry.InitialDelay
	retryCfg.MaxDelay = cfgRetry.MaxDelay
	retryCfg.Multiplier = cfgRetry.Multiplier
	retryCfg.Jitter = cfgRetry.Jitter

	c := consumer.New(bus, bus, store, idem, eng, retryCfg, cfg.PrefetchCount, cfg.OTELServiceName, logger)

	pools := consumer.WorkerPools{
		High:   cfg.WorkersHigh,
		Normal: cfg.WorkersNormal,
		Low:    cfg.WorkersLow,
		Batch:  cfg.WorkersBatch,
	}

	router := httpserver.NewRouter(conns, idem)
	adminSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.AdminMetricsPort), Handler: router}
	go func() {
		slog.Info("admin/metrics server listening", slog.String("addr", adminSrv.Addr))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", slog.Any("error", err))
		}
	}()

	consumerErrCh := make(chan error, 1)
	go func() {
		slog.Info("starting task consumer",
			slog.Int("workers_high", pools.High), slog.Int("workers_normal", pools.Normal),
			slog.Int("workers_low", pools.Low), slog.Int("workers_batch", pools.Batch))
		consumerErrCh <- c.Run(ctx, pools)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		stop()
		if err := <-consumerErrCh; err != nil {
			slog.Error("consumer stopped with error", slog.Any("error", err))
		}
	case err := <-consumerErrCh:
		if err != nil {
			slog.Error("consumer stopped with error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server shutdown error", slog.Any("error", err))
	}

	slog.Info("worker stopped")
}
