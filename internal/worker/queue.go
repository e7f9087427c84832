// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

type inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error)
}

// Queue enqueues delivery jobs. Jobs carry only the event id.
type Queue struct {
	inserter    inserter
	logger      *slog.Logger
	maxAttempts int
}

func NewQueue(ins inserter, maxAttempts int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{inserter: ins, logger: logger, maxAttempts: maxAttempts}
}

func (q *Queue) insertOpts() *river.InsertOpts {
	opts := &river.InsertOpts{Queue: QueueWebhooks, UniqueOpts: uniqueDelivery()}
	if q.maxAttempts > 0 {
		opts.MaxAttempts = q.maxAttempts
	}
	return opts
}

func (q *Queue) Enqueue(ctx context.Context, eventID uuid.UUID) error {
	res, err := q.inserter.Insert(ctx, ProcessWebhookArgs{EventID: eventID}, q.insertOpts())
	if err != nil {
		return fmt.Errorf("enqueue webhook %s: %w", eventID, err)
	}

	attrs := []any{"event_id", eventID}
	if res != nil && res.Job != nil {
		attrs = append(attrs, "job_id", res.Job.ID)
	}
	if res != nil && res.UniqueSkippedAsDuplicate {
		q.logger.Info("webhook already queued", attrs...)
		return nil
	}
	q.logger.Info("webhook queued", attrs...)
	return nil
}

// EnqueueMany inserts one job per event in a single round trip and returns
// how many were new. Events that already have a live job are skipped.
func (q *Queue) EnqueueMany(ctx context.Context, eventIDs []uuid.UUID) (int, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}

	params := make([]river.InsertManyParams, 0, len(eventIDs))
	for _, id := range eventIDs {
		params = append(params, river.InsertManyParams{
			Args:       ProcessWebhookArgs{EventID: id},
			InsertOpts: q.insertOpts(),
		})
	}

	res, err := q.inserter.InsertMany(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("enqueue %d webhooks: %w", len(eventIDs), err)
	}
	queued := 0
	for _, r := range res {
		if r == nil || !r.UniqueSkippedAsDuplicate {
			queued++
		}
	}
	q.logger.Info("webhooks queued", "count", queued, "already_queued", len(res)-queued)
	return queued, nil
}
