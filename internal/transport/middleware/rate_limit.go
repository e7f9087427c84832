// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/adiadia/webhook-runtime/internal/metrics"
	"github.com/adiadia/webhook-runtime/internal/realip"
)

const headerRateLimitLimit = "X-RateLimit-Limit"
const headerRateLimitRemaining = "X-RateLimit-Remaining"
const headerRetryAfter = "Retry-After"

// ClientRateLimit applies a per client IP token bucket of limitPerMinute
// requests. The client IP is resolved from proxy headers first.
func ClientRateLimit(limitPerMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	return clientRateLimitWithLimiter(limitPerMinute, newClientRateLimiter(), time.Now, logger)
}

func clientRateLimitWithLimiter(
	limitPerMinute int,
	limiter *clientRateLimiter,
	now func() time.Time,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if limiter == nil {
		panic("middleware.ClientRateLimit requires a limiter")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := realip.FromRequest(r)

			decision := limiter.Allow(clientIP, limitPerMinute, now())
			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				logger.Warn("request blocked by rate limit",
					"path", r.URL.Path,
					"client_ip", clientIP,
				)
				metrics.IncRateLimited()
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
