// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adiadia/webhook-runtime/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const webhookEventColumns = `
	id, destination, type, payload, originating_id,
	failed_at, succeeded_at, response_payload, created_at, updated_at
`

type WebhookEventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewWebhookEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *WebhookEventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookEventRepository{
		pool:   pool,
		logger: logger,
	}
}

// Create inserts a new event with no status timestamps set.
func (r *WebhookEventRepository) Create(ctx context.Context, params domain.CreateWebhookEventParams) (domain.WebhookEvent, error) {
	eventType, err := params.Validate()
	if err != nil {
		return domain.WebhookEvent{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("generate webhook event id: %w", err)
	}

	ev, err := scanWebhookEvent(r.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (id, destination, type, payload, originating_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+webhookEventColumns,
		id,
		params.Destination,
		string(eventType),
		params.Payload,
		params.OriginatingID,
	))
	if err != nil {
		r.logger.Error("insert webhook event failed",
			"event_type", eventType,
			"destination", params.Destination,
			"error", err,
		)
		return domain.WebhookEvent{}, fmt.Errorf("insert webhook event: %w", err)
	}

	r.logger.Debug("webhook event created",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"destination", ev.Destination,
	)
	return ev, nil
}

func (r *WebhookEventRepository) Get(ctx context.Context, id uuid.UUID) (domain.WebhookEvent, error) {
	ev, err := scanWebhookEvent(r.pool.QueryRow(ctx, `
		SELECT `+webhookEventColumns+`
		FROM webhook_events
		WHERE id=$1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookEvent{}, fmt.Errorf("%w: %s", domain.ErrWebhookEventNotFound, id)
		}
		r.logger.Error("get webhook event failed", "event_id", id, "error", err)
		return domain.WebhookEvent{}, fmt.Errorf("get webhook event: %w", err)
	}

	return ev, nil
}

// RecordOutcome writes the result of one delivery attempt. A success stamps
// succeeded_at, clears failed_at and stores the response body. A failure only
// stamps failed_at, so an earlier success is never erased.
func (r *WebhookEventRepository) RecordOutcome(ctx context.Context, id uuid.UUID, outcome domain.DeliveryOutcome) (domain.WebhookEvent, error) {
	var row pgx.Row
	if outcome.Succeeded {
		response := outcome.ResponsePayload
		if len(response) == 0 {
			response = emptyJSONObject
		}
		row = r.pool.QueryRow(ctx, `
			UPDATE webhook_events
			SET succeeded_at=$2,
			    failed_at=NULL,
			    response_payload=$3,
			    updated_at=NOW()
			WHERE id=$1
			RETURNING `+webhookEventColumns,
			id,
			outcome.At,
			response,
		)
	} else {
		row = r.pool.QueryRow(ctx, `
			UPDATE webhook_events
			SET failed_at=$2,
			    updated_at=NOW()
			WHERE id=$1
			RETURNING `+webhookEventColumns,
			id,
			outcome.At,
		)
	}

	ev, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookEvent{}, fmt.Errorf("%w: %s", domain.ErrWebhookEventNotFound, id)
		}
		r.logger.Error("record webhook outcome failed",
			"event_id", id,
			"succeeded", outcome.Succeeded,
			"error", err,
		)
		return domain.WebhookEvent{}, fmt.Errorf("record webhook outcome: %w", err)
	}

	return ev, nil
}

// List returns events newest first, optionally filtered by state and type.
func (r *WebhookEventRepository) List(ctx context.Context, params domain.ListWebhookEventsParams) ([]domain.WebhookEvent, error) {
	query, args := buildListQuery(params)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("list webhook events query failed",
			"state", params.State,
			"event_type", params.Type,
			"error", err,
		)
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.WebhookEvent, 0, params.EffectiveLimit())
	for rows.Next() {
		ev, err := scanWebhookEvent(rows)
		if err != nil {
			r.logger.Error("scan webhook event row failed", "error", err)
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("webhook events rows iteration failed", "error", err)
		return nil, fmt.Errorf("iterate webhook events: %w", err)
	}

	return out, nil
}

func buildListQuery(params domain.ListWebhookEventsParams) (string, []any) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 2)

	switch params.State {
	case domain.DeliveryPending:
		where = append(where, "succeeded_at IS NULL AND failed_at IS NULL")
	case domain.DeliveryFailed:
		where = append(where, "failed_at IS NOT NULL AND succeeded_at IS NULL")
	case domain.DeliverySucceeded:
		where = append(where, "succeeded_at IS NOT NULL")
	}

	if params.Type != "" {
		args = append(args, string(params.Type))
		where = append(where, fmt.Sprintf("type=$%d", len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(webhookEventColumns)
	b.WriteString(" FROM webhook_events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	args = append(args, params.EffectiveLimit())
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	return b.String(), args
}

var emptyJSONObject = []byte(`{}`)

func scanWebhookEvent(row pgx.Row) (domain.WebhookEvent, error) {
	var (
		ev        domain.WebhookEvent
		eventType string
	)
	if err := row.Scan(
		&ev.ID,
		&ev.Destination,
		&eventType,
		&ev.Payload,
		&ev.OriginatingID,
		&ev.FailedAt,
		&ev.SucceededAt,
		&ev.ResponsePayload,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	); err != nil {
		return domain.WebhookEvent{}, err
	}
	ev.Type = domain.EventType(eventType)
	return ev, nil
}
