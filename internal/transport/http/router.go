// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/adiadia/webhook-runtime/internal/domain"
	"github.com/adiadia/webhook-runtime/internal/metrics"
	"github.com/adiadia/webhook-runtime/internal/transport/middleware"
	"github.com/adiadia/webhook-runtime/internal/webhook"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type createWebhookEventRequest struct {
	Destination   string          `json:"destination" validate:"required"`
	Type          string          `json:"type" validate:"required"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
	OriginatingID *uuid.UUID      `json:"originating_id"`
}

type publishWebhookRequest struct {
	Endpoint      string          `json:"endpoint" validate:"required"`
	Type          string          `json:"type" validate:"required"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
	OriginatingID *uuid.UUID      `json:"originating_id"`
}

type Deps struct {
	Service         WebhookEventService
	HealthChecker   HealthChecker
	Logger          *slog.Logger
	AdminToken      string
	RateLimitPerMin int
	Version         string
	Commit          string
	BuildDate       string
}

var requestValidator = validator.New()

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.Check(r.Context()); err != nil {
				logger.Warn("readiness check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	if deps.Service == nil {
		return r
	}
	svc := deps.Service

	// ---------------- WEBHOOK EVENTS (ADMIN) ----------------

	r.Route("/webhook-events", func(admin chi.Router) {
		if deps.RateLimitPerMin > 0 {
			admin.Use(middleware.ClientRateLimit(deps.RateLimitPerMin, logger))
		}
		admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

		// ---------------- CREATE + QUEUE ----------------

		admin.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req createWebhookEventRequest
			if err := decodeJSONBody(r, &req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			ev, err := svc.CreateAndQueue(r.Context(), domain.CreateWebhookEventParams{
				Destination:   req.Destination,
				Type:          req.Type,
				Payload:       req.Payload,
				OriginatingID: req.OriginatingID,
			})
			if err != nil {
				if ev.ID != uuid.Nil {
					writeStoredNotQueued(w, logger, ev.ID, err)
					return
				}
				writeServiceError(w, logger, "create webhook event", err)
				return
			}

			writeJSON(w, http.StatusCreated, ev)
		})

		// ---------------- PUBLISH ----------------

		admin.Post("/publish", func(w http.ResponseWriter, r *http.Request) {
			var req publishWebhookRequest
			if err := decodeJSONBody(r, &req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			res, err := svc.Publish(r.Context(), webhook.PublishParams{
				Endpoint:      req.Endpoint,
				Type:          req.Type,
				Payload:       req.Payload,
				OriginatingID: req.OriginatingID,
			})
			if err != nil {
				if res.Event != nil && res.Event.ID != uuid.Nil {
					writeStoredNotQueued(w, logger, res.Event.ID, err)
					return
				}
				writeServiceError(w, logger, "publish webhook event", err)
				return
			}

			status := http.StatusCreated
			if res.Skipped {
				status = http.StatusOK
			}
			writeJSON(w, status, res)
		})

		// ---------------- LIST ----------------

		admin.Get("/", func(w http.ResponseWriter, r *http.Request) {
			params, err := parseListParams(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			events, err := svc.List(r.Context(), params)
			if err != nil {
				writeServiceError(w, logger, "list webhook events", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"webhook_events": events,
			})
		})

		// ---------------- BULK REDELIVER ----------------

		admin.Post("/redeliver-failed", func(w http.ResponseWriter, r *http.Request) {
			limit := 0
			if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 1 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = n
			}

			n, err := svc.RedeliverFailed(r.Context(), limit)
			if err != nil {
				writeServiceError(w, logger, "redeliver failed webhook events", err)
				return
			}

			logger.Info("failed webhook events redelivered via API", "count", n)
			writeJSON(w, http.StatusAccepted, map[string]int{
				"queued": n,
			})
		})

		// ---------------- GET ----------------

		admin.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid webhook event ID", http.StatusBadRequest)
				return
			}

			ev, err := svc.Get(r.Context(), id)
			if err != nil {
				writeServiceError(w, logger, "get webhook event", err)
				return
			}

			writeJSON(w, http.StatusOK, ev)
		})

		// ---------------- REDELIVER ----------------

		admin.Post("/{id}/redeliver", func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid webhook event ID", http.StatusBadRequest)
				return
			}

			ev, err := svc.Redeliver(r.Context(), id)
			if err != nil {
				writeServiceError(w, logger, "redeliver webhook event", err)
				return
			}

			logger.Info("webhook event redelivered via API", "event_id", ev.ID)
			writeJSON(w, http.StatusAccepted, ev)
		})
	})

	return r
}

// writeServiceError maps domain errors to status codes. Anything unmapped is
// logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, action string, err error) {
	switch {
	case errors.Is(err, domain.ErrWebhookEventNotFound):
		http.Error(w, "webhook event not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrEndpointNotFound):
		http.Error(w, "webhook endpoint not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrUnknownEventType),
		errors.Is(err, domain.ErrInvalidDestination),
		errors.Is(err, domain.ErrInvalidPayload):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrEventTypeNotAllowed):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrWebhookAlreadyDelivered):
		http.Error(w, "webhook event already delivered", http.StatusConflict)
	case errors.Is(err, domain.ErrRedeliveryInProgress):
		w.Header().Set("Retry-After", "60")
		http.Error(w, "redelivery already in progress", http.StatusConflict)
	default:
		logger.Error(action+" failed", "error", err)
		http.Error(w, "failed to "+action, http.StatusInternalServerError)
	}
}

// writeStoredNotQueued reports an event that was persisted but has no job. It
// stays pending until someone redelivers it by id.
func writeStoredNotQueued(w http.ResponseWriter, logger *slog.Logger, id uuid.UUID, err error) {
	logger.Error("webhook event stored but not queued", "event_id", id, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":    "webhook event stored but not queued",
		"event_id": id.String(),
	})
}

func parseListParams(r *http.Request) (domain.ListWebhookEventsParams, error) {
	q := r.URL.Query()
	var params domain.ListWebhookEventsParams

	if raw := strings.TrimSpace(q.Get("state")); raw != "" {
		state, err := domain.ParseDeliveryState(raw)
		if err != nil {
			return params, errors.New("invalid state")
		}
		params.State = state
	}

	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		eventType, err := domain.ParseEventType(raw)
		if err != nil {
			return params, errors.New("invalid type")
		}
		params.Type = eventType
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return params, errors.New("invalid limit")
		}
		params.Limit = n
	}

	return params, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSONBody decodes exactly one JSON object with no unknown fields and
// runs the struct's validate tags.
func decodeJSONBody(r *http.Request, dst any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return errors.New("request body is required")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}

	return requestValidator.Struct(dst)
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
