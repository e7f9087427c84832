// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseEventType(t *testing.T) {
	got, err := ParseEventType(" order.created ")
	if err != nil {
		t.Fatalf("parse order.created: %v", err)
	}
	if got != EventOrderCreated {
		t.Fatalf("expected %s got %s", EventOrderCreated, got)
	}

	for _, raw := range []string{"", "   ", "order.deleted"} {
		if _, err := ParseEventType(raw); !errors.Is(err, ErrUnknownEventType) {
			t.Fatalf("ParseEventType(%q): expected ErrUnknownEventType, got %v", raw, err)
		}
	}
}

func TestWebhookEventState(t *testing.T) {
	now := time.Now()

	var ev WebhookEvent
	if ev.State() != DeliveryPending {
		t.Fatalf("expected pending got %s", ev.State())
	}

	ev.FailedAt = &now
	if ev.State() != DeliveryFailed {
		t.Fatalf("expected failed got %s", ev.State())
	}
	if ev.Delivered() {
		t.Fatal("expected failed event to not be delivered")
	}

	ev.SucceededAt = &now
	if ev.State() != DeliverySucceeded {
		t.Fatalf("expected succeeded to win over failed, got %s", ev.State())
	}
	if !ev.Delivered() {
		t.Fatal("expected succeeded event to be delivered")
	}
}

func TestCreateWebhookEventParamsValidate(t *testing.T) {
	params := CreateWebhookEventParams{
		Destination: "  https://example.com/webhook ",
		Type:        "order.created",
		Payload:     json.RawMessage(`{"id":"ob_123"}`),
	}
	eventType, err := params.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if eventType != EventOrderCreated {
		t.Fatalf("expected %s got %s", EventOrderCreated, eventType)
	}
	if params.Destination != "https://example.com/webhook" {
		t.Fatalf("expected trimmed destination, got %q", params.Destination)
	}

	cases := []struct {
		name   string
		params CreateWebhookEventParams
		want   error
	}{
		{
			name:   "unknown type",
			params: CreateWebhookEventParams{Destination: "https://example.com", Type: "nope", Payload: json.RawMessage(`{}`)},
			want:   ErrUnknownEventType,
		},
		{
			name:   "ftp destination",
			params: CreateWebhookEventParams{Destination: "ftp://example.com", Type: "order.created", Payload: json.RawMessage(`{}`)},
			want:   ErrInvalidDestination,
		},
		{
			name:   "relative destination",
			params: CreateWebhookEventParams{Destination: "/webhook", Type: "order.created", Payload: json.RawMessage(`{}`)},
			want:   ErrInvalidDestination,
		},
		{
			name:   "empty payload",
			params: CreateWebhookEventParams{Destination: "https://example.com", Type: "order.created"},
			want:   ErrInvalidPayload,
		},
		{
			name:   "broken payload",
			params: CreateWebhookEventParams{Destination: "https://example.com", Type: "order.created", Payload: json.RawMessage(`{"id":`)},
			want:   ErrInvalidPayload,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.params.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, err)
			}
		})
	}
}

func TestListParamsEffectiveLimit(t *testing.T) {
	if got := (ListWebhookEventsParams{}).EffectiveLimit(); got != DefaultListLimit {
		t.Fatalf("expected default limit %d got %d", DefaultListLimit, got)
	}
	if got := (ListWebhookEventsParams{Limit: 10_000}).EffectiveLimit(); got != MaxListLimit {
		t.Fatalf("expected capped limit %d got %d", MaxListLimit, got)
	}
	if got := (ListWebhookEventsParams{Limit: 7}).EffectiveLimit(); got != 7 {
		t.Fatalf("expected limit 7 got %d", got)
	}
}

func TestParseDeliveryState(t *testing.T) {
	if got, err := ParseDeliveryState("FAILED"); err != nil || got != DeliveryFailed {
		t.Fatalf("expected failed, got %q %v", got, err)
	}
	if _, err := ParseDeliveryState("abandoned"); err == nil {
		t.Fatal("expected unknown state to fail")
	}
}
