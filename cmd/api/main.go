// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/adiadia/webhook-runtime/internal/config"
	"github.com/adiadia/webhook-runtime/internal/endpoints"
	"github.com/adiadia/webhook-runtime/internal/lock"
	"github.com/adiadia/webhook-runtime/internal/logging"
	"github.com/adiadia/webhook-runtime/internal/persistence/postgres"
	"github.com/adiadia/webhook-runtime/internal/repository"
	"github.com/adiadia/webhook-runtime/internal/signals"
	"github.com/adiadia/webhook-runtime/internal/telemetry"
	httptransport "github.com/adiadia/webhook-runtime/internal/transport/http"
	"github.com/adiadia/webhook-runtime/internal/webhook"
	"github.com/adiadia/webhook-runtime/internal/worker"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.NewLogger(cfg.Env, "api")

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	chain := signals.NewChain(logger)
	for _, sig := range []os.Signal{os.Interrupt, syscall.SIGTERM} {
		if err := chain.Add(sig, signals.LogHandler(logger)); err != nil {
			return err
		}
		if err := chain.SetFallback(sig, signals.FallbackShutdown); err != nil {
			return err
		}
	}
	ctx, stop := chain.Start(context.Background())
	defer stop()

	commit := valueOr(cfg.BuildCommit, Commit)

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing, logger)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{ApplicationName: "webhook-api"})
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			return err
		}
	}

	registry := endpoints.NewRegistry()
	if cfg.EndpointsFile != "" {
		registry, err = endpoints.Load(cfg.EndpointsFile)
		if err != nil {
			return err
		}
		logger.Info("webhook endpoints loaded", "path", cfg.EndpointsFile, "count", registry.Len())
	}

	redisClient, err := lock.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	queueClient, err := worker.NewInsertClient(pool, worker.ClientConfigFrom(cfg.Webhook, logger))
	if err != nil {
		return err
	}

	repo := repository.NewWebhookEventRepository(pool, logger)
	svc := webhook.NewService(webhook.Deps{
		Store:          repo,
		Queue:          worker.NewQueue(queueClient, cfg.Webhook.MaxAttempts(), logger),
		Endpoints:      registry,
		Locker:         lock.NewRedisLocker(redisClient, logger),
		Logger:         logger,
		LockTTL:        cfg.Webhook.RedeliverLockTTL,
		RedeliverBatch: cfg.Webhook.RedeliverBatchMax,
	})

	handler := httptransport.NewRouter(httptransport.Deps{
		Service:         svc,
		HealthChecker:   postgres.NewSchemaHealthChecker(pool),
		Logger:          logger,
		AdminToken:      cfg.AdminToken,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Version:         Version,
		Commit:          commit,
		BuildDate:       BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	return nil
}

func flushTracing(shutdown telemetry.ShutdownFunc, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
}

func valueOr(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
