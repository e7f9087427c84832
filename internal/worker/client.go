// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/webhook-runtime/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

const (
	DefaultJobTimeout   = 35 * time.Minute
	jobRetentionPeriod  = 30 * 24 * time.Hour
	minRescueStuckAfter = time.Hour
)

// ClientConfig carries the queue settings shared by producers and consumers.
type ClientConfig struct {
	Logger      *slog.Logger
	MaxAttempts int
	BackoffMax  time.Duration
	JobTimeout  time.Duration
	MaxWorkers  int
}

func ClientConfigFrom(cfg config.WebhookConfig, logger *slog.Logger) ClientConfig {
	return ClientConfig{
		Logger:      logger,
		MaxAttempts: cfg.MaxAttempts(),
		BackoffMax:  cfg.BackoffMax,
		JobTimeout:  cfg.JobTimeout,
		MaxWorkers:  cfg.MaxWorkers,
	}
}

// RegisterWorkers lists every job kind this process knows how to run.
func RegisterWorkers(d deliverer, logger *slog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewProcessWebhookWorker(d, logger))
	return workers
}

// NewInsertClient returns a client that can only enqueue jobs. The API uses
// it; it never works jobs.
func NewInsertClient(pool *pgxpool.Pool, cfg ClientConfig) (*river.Client[pgx.Tx], error) {
	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig(cfg, nil))
	if err != nil {
		return nil, fmt.Errorf("new queue insert client: %w", err)
	}
	return client, nil
}

// NewClient returns a client that works the webhooks queue with the given
// workers.
func NewClient(pool *pgxpool.Pool, workers *river.Workers, cfg ClientConfig) (*river.Client[pgx.Tx], error) {
	rc := riverConfig(cfg, workers)
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	rc.Queues = map[string]river.QueueConfig{
		QueueWebhooks: {MaxWorkers: maxWorkers},
	}

	client, err := river.NewClient(riverpgxv5.New(pool), rc)
	if err != nil {
		return nil, fmt.Errorf("new queue client: %w", err)
	}
	return client, nil
}

func riverConfig(cfg ClientConfig, workers *river.Workers) *river.Config {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}

	return &river.Config{
		Logger:                      logger,
		Workers:                     workers,
		MaxAttempts:                 cfg.MaxAttempts,
		JobTimeout:                  jobTimeout,
		RetryPolicy:                 &BackoffPolicy{Max: cfg.BackoffMax},
		CompletedJobRetentionPeriod: jobRetentionPeriod,
		DiscardedJobRetentionPeriod: jobRetentionPeriod,
		CancelledJobRetentionPeriod: jobRetentionPeriod,
		RescueStuckJobsAfter:        rescueAfter(jobTimeout),
	}
}

// rescueAfter keeps a running job from being handed to a second worker while
// the first may still be inside its timeout.
func rescueAfter(jobTimeout time.Duration) time.Duration {
	if d := jobTimeout + 5*time.Minute; d > minRescueStuckAfter {
		return d
	}
	return minRescueStuckAfter
}
