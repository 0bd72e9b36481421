// SPDX-License-Identifier: Apache-2.0

package toolclient

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/finalyze/analysis-runtime/internal/domain"
)

// RetryPolicy controls backoff between attempts of one tool call. Only
// transport-level faults (unavailable, timeout) are retried; everything else
// surfaces immediately.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0 to 1.0
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		p.JitterFactor = 0.2
	}
	return p
}

// Delay computes the backoff before the given retry. attempt is 1-based and
// names the attempt that just failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		jitter := d * p.JitterFactor
		d = d - jitter + rand.Float64()*2*jitter
	}
	return time.Duration(d)
}

// retryable reports whether the fault is a transport fault worth another
// attempt.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrToolUnavailable) ||
		errors.Is(err, domain.ErrToolTimeout)
}
