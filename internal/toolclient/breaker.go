// SPDX-License-Identifier: Apache-2.0

package toolclient

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker is a per-service circuit breaker. It opens after a configured
// number of consecutive failures, fails fast while open, and half-opens after
// the cool-down to let a single probe through.
type Breaker struct {
	mu                  sync.Mutex
	threshold           int
	cooldown            time.Duration
	consecutiveFailures int
	lastFailureAt       time.Time
	state               breakerState
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     breakerClosed,
	}
}

// AllowRequest reports whether a call may proceed. An open breaker whose
// cool-down has elapsed transitions to half-open and admits one probe.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.lastFailureAt) >= b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	case breakerHalfOpen:
		return true
	}
	return false
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == breakerHalfOpen {
		b.state = breakerClosed
	}
}

// RecordFailure counts one failure. It returns true when this failure opened
// the breaker (either by crossing the threshold or by failing the half-open
// probe).
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureAt = time.Now()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		return true
	}
	if b.state == breakerClosed && b.consecutiveFailures >= b.threshold {
		b.state = breakerOpen
		return true
	}
	return false
}

// State returns the failure count and openness for inspection.
func (b *Breaker) State() (failures int, open bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures, b.state != breakerClosed
}
