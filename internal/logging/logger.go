// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const redacted = "[REDACTED]"

// Attribute keys whose values never reach the log output.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"admin_token":   {},
	"token":         {},
	"password":      {},
	"database_url":  {},
	"redis_url":     {},
}

// NewLogger returns the process logger on stdout, tagged with its component
// (api, worker, cli). See New.
func NewLogger(env, component string) *slog.Logger {
	return New(os.Stdout, env, component)
}

// New builds a JSON handler for env=prod and a text handler with source
// locations otherwise. LOG_LEVEL picks the level (debug/info/warn/error,
// default info).
func New(w io.Writer, env, component string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(os.Getenv("LOG_LEVEL")),
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(env), "prod") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.AddSource = true
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	if component = strings.TrimSpace(component); component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "warning":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	default:
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return slog.LevelInfo
		}
		return level
	}
}
