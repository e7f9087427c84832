// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type rateLimitDecision struct {
	Allowed           bool
	LimitPerMinute    int
	Remaining         int
	RetryAfterSeconds int
}

type clientBucket struct {
	limiter  *rate.Limiter
	perMin   int
	lastSeen time.Time
}

const (
	maxTrackedClients = 4096
	idleBucketTTL     = 10 * time.Minute
)

// clientRateLimiter keeps one token bucket per client key. Buckets refill at
// limitPerMinute/60 tokens a second and hold at most limitPerMinute tokens.
type clientRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
}

func newClientRateLimiter() *clientRateLimiter {
	return &clientRateLimiter{
		buckets: make(map[string]*clientBucket, 32),
	}
}

func (l *clientRateLimiter) Allow(key string, limitPerMinute int, now time.Time) rateLimitDecision {
	if limitPerMinute <= 0 {
		limitPerMinute = 1
	}
	perSecond := float64(limitPerMinute) / 60.0

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) >= maxTrackedClients {
		l.evictIdle(now)
	}

	bucket, ok := l.buckets[key]
	if !ok || bucket.perMin != limitPerMinute {
		bucket = &clientBucket{
			limiter: rate.NewLimiter(rate.Limit(perSecond), limitPerMinute),
			perMin:  limitPerMinute,
		}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now

	decision := rateLimitDecision{LimitPerMinute: limitPerMinute}
	if bucket.limiter.AllowN(now, 1) {
		decision.Allowed = true
		decision.Remaining = int(math.Floor(bucket.limiter.TokensAt(now)))
		return decision
	}

	missing := 1 - bucket.limiter.TokensAt(now)
	decision.RetryAfterSeconds = max(1, int(math.Ceil(missing/perSecond)))
	return decision
}

// evictIdle drops buckets untouched for idleBucketTTL; by then they have
// refilled and match a fresh bucket.
func (l *clientRateLimiter) evictIdle(now time.Time) {
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) > idleBucketTTL {
			delete(l.buckets, key)
		}
	}
}
