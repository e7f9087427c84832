// SPDX-License-Identifier: Apache-2.0

// Package webhook is the entry point application code uses to record and
// queue outbound webhook events.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/webhook-runtime/internal/domain"
	"github.com/adiadia/webhook-runtime/internal/endpoints"
	"github.com/adiadia/webhook-runtime/internal/lock"
	"github.com/adiadia/webhook-runtime/internal/metrics"
	"github.com/google/uuid"
)

const (
	redeliverFailedLock     = "redeliver-failed"
	DefaultRedeliverLockTTL = time.Hour
	DefaultRedeliverBatch   = 500
)

type Store interface {
	Create(ctx context.Context, params domain.CreateWebhookEventParams) (domain.WebhookEvent, error)
	Get(ctx context.Context, id uuid.UUID) (domain.WebhookEvent, error)
	List(ctx context.Context, params domain.ListWebhookEventsParams) ([]domain.WebhookEvent, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, eventID uuid.UUID) error
	EnqueueMany(ctx context.Context, eventIDs []uuid.UUID) (int, error)
}

type EndpointResolver interface {
	Lookup(name string) (endpoints.Endpoint, error)
}

type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (lock.ReleaseFunc, error)
}

type Deps struct {
	Store     Store
	Queue     Enqueuer
	Endpoints EndpointResolver
	// Locker is optional; without it bulk redelivery runs unguarded.
	Locker         Locker
	Logger         *slog.Logger
	LockTTL        time.Duration
	RedeliverBatch int
}

type Service struct {
	store          Store
	queue          Enqueuer
	endpoints      EndpointResolver
	locker         Locker
	logger         *slog.Logger
	lockTTL        time.Duration
	redeliverBatch int
}

func NewService(deps Deps) *Service {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	ttl := deps.LockTTL
	if ttl <= 0 {
		ttl = DefaultRedeliverLockTTL
	}
	batch := deps.RedeliverBatch
	if batch <= 0 {
		batch = DefaultRedeliverBatch
	}
	resolver := deps.Endpoints
	if resolver == nil {
		resolver = endpoints.NewRegistry()
	}

	return &Service{
		store:          deps.Store,
		queue:          deps.Queue,
		endpoints:      resolver,
		locker:         deps.Locker,
		logger:         l,
		lockTTL:        ttl,
		redeliverBatch: batch,
	}
}

// CreateAndQueue stores a new pending event and schedules its delivery. If
// enqueueing fails the event stays pending and can be redelivered.
func (s *Service) CreateAndQueue(ctx context.Context, params domain.CreateWebhookEventParams) (domain.WebhookEvent, error) {
	ev, err := s.store.Create(ctx, params)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	metrics.IncEventCreated(string(ev.Type))

	if err := s.queue.Enqueue(ctx, ev.ID); err != nil {
		s.logger.Error("queue webhook failed",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"error", err,
		)
		return ev, err
	}

	s.logger.Info("webhook event queued",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"destination", ev.Destination,
	)
	return ev, nil
}

type PublishParams struct {
	Endpoint      string          `json:"endpoint"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	OriginatingID *uuid.UUID      `json:"originating_id,omitempty"`
}

type PublishResult struct {
	Skipped bool                 `json:"skipped"`
	Event   *domain.WebhookEvent `json:"event,omitempty"`
}

// Publish routes an application event to a named endpoint. An endpoint with
// no URL is not an error: nothing is stored and the result reports a skip.
// When the event is stored but enqueueing fails, the result still carries
// the event alongside the error.
func (s *Service) Publish(ctx context.Context, params PublishParams) (PublishResult, error) {
	eventType, err := domain.ParseEventType(params.Type)
	if err != nil {
		return PublishResult{}, err
	}

	ep, err := s.endpoints.Lookup(params.Endpoint)
	if err != nil {
		return PublishResult{}, err
	}

	if !ep.Configured() {
		s.logger.Info("skip webhook enqueue, no endpoint",
			"endpoint", ep.Name,
			"event_type", eventType,
			"originating_id", params.OriginatingID,
		)
		metrics.IncPublishSkipped(ep.Name)
		return PublishResult{Skipped: true}, nil
	}

	if !ep.Accepts(eventType) {
		return PublishResult{}, fmt.Errorf("%w: %s does not accept %s", domain.ErrEventTypeNotAllowed, ep.Name, eventType)
	}

	ev, err := s.CreateAndQueue(ctx, domain.CreateWebhookEventParams{
		Destination:   ep.URL,
		Type:          string(eventType),
		Payload:       params.Payload,
		OriginatingID: params.OriginatingID,
	})
	if err != nil {
		if ev.ID != uuid.Nil {
			// Stored but not queued: the caller needs the id to redeliver it.
			return PublishResult{Event: &ev}, err
		}
		return PublishResult{}, err
	}
	return PublishResult{Event: &ev}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.WebhookEvent, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, params domain.ListWebhookEventsParams) ([]domain.WebhookEvent, error) {
	return s.store.List(ctx, params)
}

// Redeliver schedules another delivery of a pending or failed event.
func (s *Service) Redeliver(ctx context.Context, id uuid.UUID) (domain.WebhookEvent, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	if ev.Delivered() {
		return ev, fmt.Errorf("%w: %s", domain.ErrWebhookAlreadyDelivered, id)
	}

	if err := s.queue.Enqueue(ctx, ev.ID); err != nil {
		return ev, err
	}
	metrics.AddRedeliveries(1)

	s.logger.Info("webhook event redelivery queued",
		"event_id", ev.ID,
		"state", ev.State(),
	)
	return ev, nil
}

// RedeliverFailed re-enqueues up to limit failed events, newest first. Only
// one bulk redelivery may run at a time across all processes.
func (s *Service) RedeliverFailed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 || limit > s.redeliverBatch {
		limit = s.redeliverBatch
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, redeliverFailedLock, s.lockTTL)
		if errors.Is(err, lock.ErrLockHeld) {
			return 0, domain.ErrRedeliveryInProgress
		}
		if err != nil {
			return 0, fmt.Errorf("acquire redelivery lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release redelivery lock failed", "error", err)
			}
		}()
	}

	failed, err := s.store.List(ctx, domain.ListWebhookEventsParams{
		State: domain.DeliveryFailed,
		Limit: limit,
	})
	if err != nil {
		return 0, err
	}
	if len(failed) == 0 {
		s.logger.Info("no failed webhook events to redeliver")
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(failed))
	for _, ev := range failed {
		ids = append(ids, ev.ID)
	}

	n, err := s.queue.EnqueueMany(ctx, ids)
	if err != nil {
		return 0, err
	}
	metrics.AddRedeliveries(n)

	s.logger.Info("failed webhook events redelivery queued", "count", n)
	return n, nil
}
