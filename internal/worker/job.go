// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/adiadia/webhook-runtime/internal/domain"
	"github.com/adiadia/webhook-runtime/internal/metrics"
	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

const (
	QueueWebhooks         = "webhooks"
	ProcessWebhookJobKind = "process_webhook"
)

// ProcessWebhookArgs is the only thing a queued delivery carries. Everything
// else is read from the event store when the job runs.
type ProcessWebhookArgs struct {
	EventID uuid.UUID `json:"event_id"`
}

func (ProcessWebhookArgs) Kind() string { return ProcessWebhookJobKind }

var _ river.JobArgs = ProcessWebhookArgs{}

func (ProcessWebhookArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueWebhooks, UniqueOpts: uniqueDelivery()}
}

// An event has at most one job that can still run. Inserting another while
// one is waiting, retrying or running is skipped as a duplicate; completed,
// cancelled and discarded jobs do not block a redelivery.
func uniqueDelivery() river.UniqueOpts {
	return river.UniqueOpts{
		ByArgs: true,
		ByState: []rivertype.JobState{
			rivertype.JobStateAvailable,
			rivertype.JobStatePending,
			rivertype.JobStateRetryable,
			rivertype.JobStateRunning,
			rivertype.JobStateScheduled,
		},
	}
}

type deliverer interface {
	Deliver(ctx context.Context, eventID uuid.UUID) (DeliveryResult, error)
}

type ProcessWebhookWorker struct {
	river.WorkerDefaults[ProcessWebhookArgs]

	deliverer deliverer
	logger    *slog.Logger
}

func NewProcessWebhookWorker(d deliverer, logger *slog.Logger) *ProcessWebhookWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessWebhookWorker{deliverer: d, logger: logger}
}

// Work runs one delivery attempt. A returned error makes the queue schedule a
// retry until the attempt budget is spent; a missing event cancels the job.
func (w *ProcessWebhookWorker) Work(ctx context.Context, job *river.Job[ProcessWebhookArgs]) error {
	logger := w.logger.With(
		"job_id", job.ID,
		"job_kind", job.Kind,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
		"event_id", job.Args.EventID,
	)

	logger.Info("process webhook start")

	result, err := w.deliverer.Deliver(ctx, job.Args.EventID)
	if err == nil {
		logger.Debug("process webhook done", "status", result.Status, "status_code", result.StatusCode)
		return nil
	}

	if errors.Is(err, domain.ErrWebhookEventNotFound) {
		logger.Error("webhook event missing, canceling job", "error", err)
		metrics.IncJobCanceled()
		return river.JobCancel(err)
	}

	if job.Attempt >= job.MaxAttempts {
		logger.Error("webhook retries exhausted", "error", err)
	} else {
		logger.Warn("webhook attempt failed, retry scheduled", "error", err)
	}
	return err
}
