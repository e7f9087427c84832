// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusClass(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "other",
	}
	for code, want := range cases {
		if got := statusClass(code); got != want {
			t.Fatalf("statusClass(%d): expected %s got %s", code, want, got)
		}
	}
}

func TestCountersIncrement(t *testing.T) {
	Init()

	before := testutil.ToFloat64(deliveriesCounter.WithLabelValues(OutcomeSkipped))
	IncDelivery(OutcomeSkipped)
	if got := testutil.ToFloat64(deliveriesCounter.WithLabelValues(OutcomeSkipped)); got != before+1 {
		t.Fatalf("expected skipped deliveries %v got %v", before+1, got)
	}

	beforeRedeliveries := testutil.ToFloat64(redeliveriesCounter)
	AddRedeliveries(3)
	if got := testutil.ToFloat64(redeliveriesCounter); got != beforeRedeliveries+3 {
		t.Fatalf("expected redeliveries %v got %v", beforeRedeliveries+3, got)
	}

	ObserveDeliveryDuration(OutcomeDelivered, 150*time.Millisecond)
	if n := testutil.CollectAndCount(deliveryDurationMetric); n == 0 {
		t.Fatal("expected delivery duration series to be collected")
	}
}
