// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRequestIDMiddlewareGeneratesRequestIDWhenMissing(t *testing.T) {
	var gotRequestID string
	h := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := requestIDFromContext(r.Context())
		if !ok {
			t.Fatal("expected request_id in context")
		}
		gotRequestID = requestID
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook-events", nil))

	respRequestID := rec.Header().Get(headerRequestID)
	if respRequestID == "" {
		t.Fatal("expected X-Request-Id response header")
	}
	if gotRequestID != respRequestID {
		t.Fatalf("expected context request_id %q got %q", respRequestID, gotRequestID)
	}
}

func TestRequestIDMiddlewareHandlesIncomingIDs(t *testing.T) {
	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "plain id kept", incoming: "req-fixed-id", keep: true},
		{name: "control characters replaced", incoming: "bad\tid", keep: false},
		{name: "spaces replaced", incoming: "two words", keep: false},
		{name: "oversized replaced", incoming: strings.Repeat("a", maxRequestIDLength+1), keep: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(headerRequestID, tc.incoming)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(headerRequestID)
			if tc.keep && got != tc.incoming {
				t.Fatalf("expected X-Request-Id %q got %q", tc.incoming, got)
			}
			if !tc.keep && (got == tc.incoming || got == "") {
				t.Fatalf("expected generated X-Request-Id, got %q", got)
			}
		})
	}
}

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var lines []map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(raw, &entry); err != nil {
			t.Fatalf("decode log line %q: %v", raw, err)
		}
		lines = append(lines, entry)
	}
	return lines
}

func TestRequestLoggingMiddlewareLogsRoutePatternAndEventID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))
	r.Get("/webhook-events/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	})

	req := httptest.NewRequest(http.MethodGet, "/webhook-events/abc", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	lines := decodeLogLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line got %d", len(lines))
	}
	entry := lines[0]
	if entry["route"] != "/webhook-events/{id}" {
		t.Fatalf("expected route pattern, got %v", entry["route"])
	}
	if entry["event_id"] != "abc" {
		t.Fatalf("expected event_id abc, got %v", entry["event_id"])
	}
	if entry["client_ip"] != "203.0.113.9" {
		t.Fatalf("expected client_ip 203.0.113.9, got %v", entry["client_ip"])
	}
	if entry["bytes"] != float64(5) {
		t.Fatalf("expected bytes 5, got %v", entry["bytes"])
	}
	if entry["level"] != "INFO" {
		t.Fatalf("expected INFO, got %v", entry["level"])
	}
	if entry["request_id"] != rec.Header().Get(headerRequestID) {
		t.Fatalf("expected request_id to match response header")
	}
}

func TestRequestLoggingMiddlewareLevels(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		status int
		level  string
	}{
		{name: "health check is debug", path: "/healthz", status: http.StatusOK, level: "DEBUG"},
		{name: "client error is info", path: "/webhook-events", status: http.StatusBadRequest, level: "INFO"},
		{name: "server error is warn", path: "/webhook-events", status: http.StatusInternalServerError, level: "WARN"},
		{name: "failing readiness check is warn", path: "/readyz", status: http.StatusServiceUnavailable, level: "WARN"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			h := requestLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tc.path, nil))

			lines := decodeLogLines(t, &buf)
			if len(lines) != 1 {
				t.Fatalf("expected 1 log line got %d", len(lines))
			}
			if lines[0]["level"] != tc.level {
				t.Fatalf("expected level %s got %v", tc.level, lines[0]["level"])
			}
			if lines[0]["status"] != float64(tc.status) {
				t.Fatalf("expected status %d got %v", tc.status, lines[0]["status"])
			}
		})
	}
}
