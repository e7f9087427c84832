// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adiadia/webhook-runtime/internal/config"
	"github.com/adiadia/webhook-runtime/internal/lock"
	"github.com/adiadia/webhook-runtime/internal/persistence/postgres"
	"github.com/adiadia/webhook-runtime/internal/repository"
	"github.com/adiadia/webhook-runtime/internal/webhook"
	"github.com/adiadia/webhook-runtime/internal/worker"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func openPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	return postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{
		MaxConns:        2,
		ApplicationName: "webhook-cli",
	})
}

func runMigrate(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func runRedeliver(ctx context.Context, logger *slog.Logger, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid webhook event id %q: %w", rawID, err)
	}

	return withService(ctx, logger, func(svc *webhook.Service) error {
		ev, err := svc.Redeliver(ctx, id)
		if err != nil {
			return err
		}
		logger.Info("webhook event queued for redelivery", "event_id", ev.ID, "state", ev.State())
		return nil
	})
}

func runRedeliverFailed(ctx context.Context, logger *slog.Logger, limit int) error {
	return withService(ctx, logger, func(svc *webhook.Service) error {
		n, err := svc.RedeliverFailed(ctx, limit)
		if err != nil {
			return err
		}
		logger.Info("failed webhook events queued for redelivery", "count", n)
		return nil
	})
}

// withService wires the same service the API uses, against the configured
// database, queue and Redis lock.
func withService(ctx context.Context, logger *slog.Logger, fn func(*webhook.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.SchemaReady(ctx, pool); err != nil {
		return err
	}

	redisClient, err := lock.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	svc, err := newService(pool, cfg, lock.NewRedisLocker(redisClient, logger), logger)
	if err != nil {
		return err
	}
	return fn(svc)
}

func newService(pool *pgxpool.Pool, cfg config.Config, locker webhook.Locker, logger *slog.Logger) (*webhook.Service, error) {
	queueClient, err := worker.NewInsertClient(pool, worker.ClientConfigFrom(cfg.Webhook, logger))
	if err != nil {
		return nil, err
	}

	return webhook.NewService(webhook.Deps{
		Store:          repository.NewWebhookEventRepository(pool, logger),
		Queue:          worker.NewQueue(queueClient, cfg.Webhook.MaxAttempts(), logger),
		Locker:         locker,
		Logger:         logger,
		LockTTL:        cfg.Webhook.RedeliverLockTTL,
		RedeliverBatch: cfg.Webhook.RedeliverBatchMax,
	}), nil
}
