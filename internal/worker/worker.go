// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/adiadia/webhook-runtime/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
)

type Deps struct {
	Pool       *pgxpool.Pool
	Store      EventStore
	HTTPClient *http.Client
	Logger     *slog.Logger
	Version    string
	Webhook    config.WebhookConfig
}

// Worker consumes the webhooks queue and delivers each job's event.
type Worker struct {
	client *river.Client[pgx.Tx]
	logger *slog.Logger
}

func New(deps Deps) (*Worker, error) {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	if deps.Pool == nil {
		return nil, errors.New("worker: pool is required")
	}
	if deps.Store == nil {
		return nil, errors.New("worker: event store is required")
	}

	deliverer := NewDeliverer(DelivererDeps{
		Store:      deps.Store,
		HTTPClient: deps.HTTPClient,
		Logger:     l,
		Version:    deps.Version,
		Timeout:    deps.Webhook.Timeout,
	})

	client, err := NewClient(deps.Pool, RegisterWorkers(deliverer, l), ClientConfigFrom(deps.Webhook, l))
	if err != nil {
		return nil, err
	}

	return &Worker{client: client, logger: l}, nil
}

func (w *Worker) Start(ctx context.Context) error {
	if err := w.client.Start(ctx); err != nil {
		return fmt.Errorf("start queue client: %w", err)
	}
	w.logger.Info("worker started", "queue", QueueWebhooks)
	return nil
}

// Stop waits for running jobs to finish. When ctx expires first, running jobs
// are canceled and left for the queue to retry.
func (w *Worker) Stop(ctx context.Context) error {
	err := w.client.Stop(ctx)
	if err == nil {
		w.logger.Info("worker stopped")
		return nil
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stop queue client: %w", err)
	}

	w.logger.Warn("graceful stop timed out, canceling running jobs", "error", err)
	hardCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	if err := w.client.StopAndCancel(hardCtx); err != nil {
		return fmt.Errorf("stop and cancel queue client: %w", err)
	}
	return nil
}

// Stopped is closed once the client has fully stopped.
func (w *Worker) Stopped() <-chan struct{} {
	return w.client.Stopped()
}
