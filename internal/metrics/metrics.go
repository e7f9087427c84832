// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/adiadia/webhook-runtime/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes used as label values.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var (
	initOnce sync.Once

	eventsCreatedCounter      *prometheus.CounterVec
	deliveriesCounter         *prometheus.CounterVec
	deliveryDurationMetric    *prometheus.HistogramVec
	redeliveriesCounter       prometheus.Counter
	publishSkippedCounter     *prometheus.CounterVec
	rateLimitedCounter        prometheus.Counter
	jobsCanceledCounter       prometheus.Counter
	remoteStatusCodesObserved *prometheus.CounterVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		eventsCreatedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_created_total",
				Help: "Total number of webhook events created by type.",
			},
			[]string{"type"},
		)

		deliveriesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts by outcome.",
			},
			[]string{"outcome"},
		)

		deliveryDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_duration_seconds",
				Help:    "Duration of outbound webhook POSTs in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		redeliveriesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webhook_redeliveries_total",
				Help: "Total number of webhook events re-enqueued by an operator.",
			},
		)

		publishSkippedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_publish_skipped_total",
				Help: "Total number of publishes skipped because the endpoint has no URL.",
			},
			[]string{"endpoint"},
		)

		rateLimitedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total number of HTTP requests rejected by the rate limiter.",
			},
		)

		jobsCanceledCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webhook_jobs_canceled_total",
				Help: "Total number of delivery jobs canceled because the event no longer exists.",
			},
		)

		remoteStatusCodesObserved = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_remote_responses_total",
				Help: "Total number of responses received from webhook destinations by status class.",
			},
			[]string{"class"},
		)

		prometheus.MustRegister(
			eventsCreatedCounter,
			deliveriesCounter,
			deliveryDurationMetric,
			redeliveriesCounter,
			publishSkippedCounter,
			rateLimitedCounter,
			jobsCanceledCounter,
			remoteStatusCodesObserved,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, eventType := range domain.EventTypes {
			eventsCreatedCounter.WithLabelValues(string(eventType))
		}
		for _, outcome := range []string{OutcomeDelivered, OutcomeFailed, OutcomeSkipped} {
			deliveriesCounter.WithLabelValues(outcome)
		}
	})
}

func IncEventCreated(eventType string) {
	Init()
	eventsCreatedCounter.WithLabelValues(eventType).Inc()
}

func IncDelivery(outcome string) {
	Init()
	deliveriesCounter.WithLabelValues(outcome).Inc()
}

func ObserveDeliveryDuration(outcome string, d time.Duration) {
	Init()
	deliveryDurationMetric.WithLabelValues(outcome).Observe(d.Seconds())
}

func AddRedeliveries(n int) {
	Init()
	redeliveriesCounter.Add(float64(n))
}

func IncPublishSkipped(endpoint string) {
	Init()
	publishSkippedCounter.WithLabelValues(endpoint).Inc()
}

func IncRateLimited() {
	Init()
	rateLimitedCounter.Inc()
}

func IncJobCanceled() {
	Init()
	jobsCanceledCounter.Inc()
}

// IncRemoteStatus records a destination response as 2xx, 3xx, 4xx or 5xx.
func IncRemoteStatus(code int) {
	Init()
	remoteStatusCodesObserved.WithLabelValues(statusClass(code)).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}
