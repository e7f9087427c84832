// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/webhook-runtime/internal/domain"
	"github.com/adiadia/webhook-runtime/internal/webhook"
	"github.com/google/uuid"
)

type WebhookEventService interface {
	CreateAndQueue(ctx context.Context, params domain.CreateWebhookEventParams) (domain.WebhookEvent, error)
	Publish(ctx context.Context, params webhook.PublishParams) (webhook.PublishResult, error)
	Get(ctx context.Context, id uuid.UUID) (domain.WebhookEvent, error)
	List(ctx context.Context, params domain.ListWebhookEventsParams) ([]domain.WebhookEvent, error)
	Redeliver(ctx context.Context, id uuid.UUID) (domain.WebhookEvent, error)
	RedeliverFailed(ctx context.Context, limit int) (int, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
