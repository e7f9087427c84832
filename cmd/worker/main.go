// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/adiadia/webhook-runtime/internal/config"
	"github.com/adiadia/webhook-runtime/internal/logging"
	"github.com/adiadia/webhook-runtime/internal/metrics"
	"github.com/adiadia/webhook-runtime/internal/persistence/postgres"
	"github.com/adiadia/webhook-runtime/internal/repository"
	"github.com/adiadia/webhook-runtime/internal/signals"
	"github.com/adiadia/webhook-runtime/internal/telemetry"
	"github.com/adiadia/webhook-runtime/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Extra connections beyond one per queue slot, for the queue client's own
// leader election, scheduling and notifications.
const poolHeadroom = 5

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.NewLogger(cfg.Env, "worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	chain, err := newSignalChain(logger)
	if err != nil {
		return err
	}
	ctx, stop := chain.Start(context.Background())
	defer stop()

	commit := cfg.BuildCommit
	if commit == "" {
		commit = Commit
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{
		MaxConns:        int32(cfg.Webhook.MaxWorkers + poolHeadroom),
		MinConns:        2,
		ApplicationName: "webhook-worker",
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			return err
		}
	} else if err := postgres.SchemaReady(ctx, pool); err != nil {
		return err
	}

	metrics.Init()

	w, err := worker.New(worker.Deps{
		Pool:    pool,
		Store:   repository.NewWebhookEventRepository(pool, logger),
		Logger:  logger,
		Version: commit,
		Webhook: cfg.Webhook,
	})
	if err != nil {
		return err
	}

	health := newHealthServer(cfg.WorkerHealthAddr, pool, logger)
	if health != nil {
		go func() {
			logger.Info("worker health listening", "addr", cfg.WorkerHealthAddr)
			if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker health server failed", "error", err)
			}
		}()
	}

	// Canceling the start context hard-stops the queue client, so shutdown
	// goes through w.Stop instead.
	if err := w.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	logger.Info("worker running",
		"version", Version,
		"commit", commit,
		"build_date", BuildDate,
		"max_workers", cfg.Webhook.MaxWorkers,
		"max_attempts", cfg.Webhook.MaxAttempts(),
	)

	<-ctx.Done()
	logger.Info("shutting down worker")

	// In-flight deliveries get one request timeout to finish; after that they
	// are canceled and left to the queue's retry.
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Webhook.Timeout+5*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		logger.Error("worker stop error", "error", err)
	}

	if health != nil {
		healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer healthCancel()
		if err := health.Shutdown(healthCtx); err != nil {
			logger.Error("worker health shutdown error", "error", err)
		}
	}
	return nil
}

func newSignalChain(logger *slog.Logger) (*signals.Chain, error) {
	chain := signals.NewChain(logger)

	for _, sig := range append(signals.CatchableSignals(), os.Interrupt) {
		if err := chain.Add(sig, signals.LogHandler(logger)); err != nil {
			return nil, err
		}
	}

	for sig, fb := range signals.ServiceFallbacks() {
		if err := chain.SetFallback(sig, fb); err != nil {
			return nil, err
		}
	}
	return chain, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func newHealthServer(addr string, pool pinger, logger *slog.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			logger.Warn("worker readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
