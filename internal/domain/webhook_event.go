// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryFailed    DeliveryState = "failed"
	DeliverySucceeded DeliveryState = "succeeded"
)

func ParseDeliveryState(raw string) (DeliveryState, error) {
	switch DeliveryState(strings.ToLower(strings.TrimSpace(raw))) {
	case DeliveryPending:
		return DeliveryPending, nil
	case DeliveryFailed:
		return DeliveryFailed, nil
	case DeliverySucceeded:
		return DeliverySucceeded, nil
	default:
		return "", fmt.Errorf("unknown delivery state %q", raw)
	}
}

// WebhookEvent is one outbound notification. Payload never changes after
// creation; only the status timestamps and ResponsePayload are written by
// delivery attempts.
type WebhookEvent struct {
	ID              uuid.UUID       `json:"id"`
	Destination     string          `json:"destination"`
	Type            EventType       `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	OriginatingID   *uuid.UUID      `json:"originating_id,omitempty"`
	FailedAt        *time.Time      `json:"failed_at,omitempty"`
	SucceededAt     *time.Time      `json:"succeeded_at,omitempty"`
	ResponsePayload json.RawMessage `json:"response_payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// State derives the delivery state from the status timestamps. A success
// always wins, so an event that succeeded is never sent again.
func (e WebhookEvent) State() DeliveryState {
	switch {
	case e.SucceededAt != nil:
		return DeliverySucceeded
	case e.FailedAt != nil:
		return DeliveryFailed
	default:
		return DeliveryPending
	}
}

func (e WebhookEvent) Delivered() bool {
	return e.SucceededAt != nil
}

type CreateWebhookEventParams struct {
	Destination   string
	Type          string
	Payload       json.RawMessage
	OriginatingID *uuid.UUID
}

// Validate normalizes the params and returns the parsed event type.
func (p *CreateWebhookEventParams) Validate() (EventType, error) {
	eventType, err := ParseEventType(p.Type)
	if err != nil {
		return "", err
	}

	p.Destination = strings.TrimSpace(p.Destination)
	if err := ValidateDestination(p.Destination); err != nil {
		return "", err
	}

	if len(p.Payload) == 0 || !json.Valid(p.Payload) {
		return "", ErrInvalidPayload
	}

	return eventType, nil
}

func ValidateDestination(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDestination)
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidDestination, raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDestination, parsed.Scheme)
	}
	return nil
}

// DeliveryOutcome is what one attempt writes back to the event row.
type DeliveryOutcome struct {
	Succeeded       bool
	At              time.Time
	ResponsePayload json.RawMessage
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type ListWebhookEventsParams struct {
	State DeliveryState
	Type  EventType
	Limit int
}

func (p ListWebhookEventsParams) EffectiveLimit() int {
	switch {
	case p.Limit <= 0:
		return DefaultListLimit
	case p.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return p.Limit
	}
}
