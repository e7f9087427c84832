// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"math/rand/v2"
	"time"

	"github.com/riverqueue/river/rivertype"
)

const DefaultBackoffMax = 700 * time.Second

// BackoffPolicy schedules retries with exponential backoff capped at Max and
// full jitter: the delay before retry n is a random whole number of seconds in
// [0, min(Max, 2^n)].
type BackoffPolicy struct {
	Max  time.Duration
	Now  func() time.Time
	Rand func(n int64) int64
}

func (p *BackoffPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	// Attempt is already incremented for the run that just failed.
	retries := job.Attempt - 1
	if retries < 0 {
		retries = 0
	}
	return now().UTC().Add(p.Delay(retries))
}

// Delay returns the jittered wait before the given retry, counted from zero.
func (p *BackoffPolicy) Delay(retries int) time.Duration {
	ceiling := p.ceilingSeconds(retries)
	if ceiling <= 0 {
		return 0
	}
	intn := rand.Int64N
	if p.Rand != nil {
		intn = p.Rand
	}
	return time.Duration(intn(ceiling+1)) * time.Second
}

func (p *BackoffPolicy) ceilingSeconds(retries int) int64 {
	max := p.Max
	if max <= 0 {
		max = DefaultBackoffMax
	}
	maxSeconds := int64(max / time.Second)

	if retries >= 62 {
		return maxSeconds
	}
	countdown := int64(1) << retries
	if countdown > maxSeconds {
		return maxSeconds
	}
	return countdown
}
