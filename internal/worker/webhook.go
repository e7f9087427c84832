// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adiadia/webhook-runtime/internal/domain"
	"github.com/adiadia/webhook-runtime/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultWebhookTimeout = 30 * time.Second

	webhookHeaderVersion = "X-Application-Version"
	maxResponseBytes     = 1 << 20
	tracerName           = "github.com/adiadia/webhook-runtime/internal/worker"
)

// EventStore is the slice of the webhook event store a delivery needs.
type EventStore interface {
	Get(ctx context.Context, id uuid.UUID) (domain.WebhookEvent, error)
	RecordOutcome(ctx context.Context, id uuid.UUID, outcome domain.DeliveryOutcome) (domain.WebhookEvent, error)
}

type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliverySkipped   DeliveryStatus = "skipped"
	DeliveryFailed    DeliveryStatus = "failed"
)

type DeliveryResult struct {
	Status     DeliveryStatus
	StatusCode int
	Event      domain.WebhookEvent
}

// RemoteRejectionError reports a destination that answered outside 2xx.
type RemoteRejectionError struct {
	StatusCode  int
	Destination string
}

func (e *RemoteRejectionError) Error() string {
	return fmt.Sprintf("webhook destination %s responded with status %d", e.Destination, e.StatusCode)
}

type DelivererDeps struct {
	Store      EventStore
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Version is sent in the X-Application-Version header.
	Version string
	Timeout time.Duration
	Now     func() time.Time
}

// Deliverer performs a single delivery attempt per call. Retrying is the job
// queue's concern.
type Deliverer struct {
	store      EventStore
	httpClient *http.Client
	logger     *slog.Logger
	version    string
	timeout    time.Duration
	now        func() time.Time
	tracer     trace.Tracer
}

func NewDeliverer(deps DelivererDeps) *Deliverer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}

	client := &http.Client{Timeout: timeout}
	if deps.HTTPClient != nil {
		clone := *deps.HTTPClient
		client = &clone
	}
	// A redirect would be replayed as a bodyless GET; the 3xx itself is the
	// outcome of the attempt.
	client.CheckRedirect = noRedirect

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Deliverer{
		store:      deps.Store,
		httpClient: client,
		logger:     logger,
		version:    strings.TrimSpace(deps.Version),
		timeout:    timeout,
		now:        now,
		tracer:     otel.Tracer(tracerName),
	}
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// Deliver loads the event, skips it when it already succeeded, otherwise
// POSTs the payload and records the outcome. Transport errors and non-2xx
// responses are recorded as failures and returned unchanged so the queue can
// retry.
func (d *Deliverer) Deliver(ctx context.Context, eventID uuid.UUID) (DeliveryResult, error) {
	ev, err := d.store.Get(ctx, eventID)
	if err != nil {
		return DeliveryResult{}, err
	}

	if ev.Delivered() {
		d.logger.Info("webhook already processed",
			"event_id", ev.ID,
			"destination", ev.Destination,
			"event_type", ev.Type,
			"skipped", true,
		)
		metrics.IncDelivery(metrics.OutcomeSkipped)
		return DeliveryResult{Status: DeliverySkipped, Event: ev}, nil
	}

	ctx, span := d.tracer.Start(ctx, "webhook.deliver", trace.WithAttributes(
		attribute.String("webhook.event_id", ev.ID.String()),
		attribute.String("webhook.event_type", string(ev.Type)),
		semconv.HTTPRequestMethodPost,
		semconv.URLFull(ev.Destination),
	), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	d.logger.Info("POST webhook",
		"event_id", ev.ID,
		"destination", ev.Destination,
		"event_type", ev.Type,
		"timeout", d.timeout.String(),
	)

	started := time.Now()
	statusCode, response, postErr := d.post(ctx, ev)
	if statusCode != 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(statusCode))
		metrics.IncRemoteStatus(statusCode)
	}

	if postErr != nil {
		metrics.ObserveDeliveryDuration(metrics.OutcomeFailed, time.Since(started))
		metrics.IncDelivery(metrics.OutcomeFailed)
		span.RecordError(postErr)
		span.SetStatus(codes.Error, postErr.Error())

		d.logger.Warn("webhook failure",
			"event_id", ev.ID,
			"destination", ev.Destination,
			"event_type", ev.Type,
			"status_code", statusCode,
			"error", postErr,
		)

		updated, recordErr := d.store.RecordOutcome(context.WithoutCancel(ctx), ev.ID, domain.DeliveryOutcome{
			Succeeded: false,
			At:        d.now().UTC(),
		})
		if recordErr != nil {
			d.logger.Error("record webhook failure failed", "event_id", ev.ID, "error", recordErr)
			return DeliveryResult{Status: DeliveryFailed, StatusCode: statusCode, Event: ev},
				errors.Join(postErr, fmt.Errorf("record webhook failure: %w", recordErr))
		}
		return DeliveryResult{Status: DeliveryFailed, StatusCode: statusCode, Event: updated}, postErr
	}

	metrics.ObserveDeliveryDuration(metrics.OutcomeDelivered, time.Since(started))

	updated, err := d.store.RecordOutcome(context.WithoutCancel(ctx), ev.ID, domain.DeliveryOutcome{
		Succeeded:       true,
		At:              d.now().UTC(),
		ResponsePayload: response,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("record webhook success failed", "event_id", ev.ID, "error", err)
		return DeliveryResult{Status: DeliveryDelivered, StatusCode: statusCode, Event: ev},
			fmt.Errorf("record webhook success: %w", err)
	}

	metrics.IncDelivery(metrics.OutcomeDelivered)
	span.SetStatus(codes.Ok, "")

	d.logger.Info("process webhook end",
		"event_id", ev.ID,
		"destination", ev.Destination,
		"event_type", ev.Type,
		"status_code", statusCode,
	)

	return DeliveryResult{Status: DeliveryDelivered, StatusCode: statusCode, Event: updated}, nil
}

// post sends the payload and returns the status code and the response body
// to store. The status code is zero when no response arrived.
func (d *Deliverer) post(ctx context.Context, ev domain.WebhookEvent) (int, json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ev.Destination, bytes.NewReader(ev.Payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.version != "" {
		req.Header.Set(webhookHeaderVersion, d.version)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return resp.StatusCode, nil, &RemoteRejectionError{
			StatusCode:  resp.StatusCode,
			Destination: ev.Destination,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		d.logger.Warn("webhook response body unreadable, storing empty object",
			"event_id", ev.ID,
			"status_code", resp.StatusCode,
			"error", err,
		)
		return resp.StatusCode, emptyResponse(), nil
	}

	return resp.StatusCode, parseResponseBody(body), nil
}

// parseResponseBody keeps a JSON body as-is. Anything else, including an
// empty body or a JSON null, becomes an empty object so the delivery is never
// reported as failed because of what the destination replied with.
func parseResponseBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) || bytes.Equal(trimmed, []byte("null")) {
		return emptyResponse()
	}
	return json.RawMessage(trimmed)
}

func emptyResponse() json.RawMessage {
	return json.RawMessage(`{}`)
}
