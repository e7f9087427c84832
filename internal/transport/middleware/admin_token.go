// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/adiadia/webhook-runtime/internal/realip"
)

// AdminTokenAuth guards operator routes with a bearer token. adminTokens may
// hold several comma separated tokens so one can be rotated out while the
// next is already accepted.
func AdminTokenAuth(adminTokens string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	accepted := parseAdminTokens(adminTokens)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(accepted) == 0 {
				logger.Error("admin token not configured", "path", r.URL.Path)
				http.Error(w, "admin auth not configured", http.StatusInternalServerError)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || !matchesAny(token, accepted) {
				reason := "invalid bearer token"
				if !ok {
					reason = "missing bearer token"
				}
				logger.Warn("admin request rejected",
					"reason", reason,
					"path", r.URL.Path,
					"client_ip", realip.FromRequest(r),
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid admin token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func parseAdminTokens(raw string) [][]byte {
	var tokens [][]byte
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			tokens = append(tokens, []byte(part))
		}
	}
	return tokens
}

// matchesAny compares against every accepted token so timing does not reveal
// which one matched.
func matchesAny(token string, accepted [][]byte) bool {
	match := 0
	for _, want := range accepted {
		match |= subtle.ConstantTimeCompare([]byte(token), want)
	}
	return match == 1
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
