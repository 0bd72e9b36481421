// SPDX-License-Identifier: Apache-2.0

package toolclient

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/finalyze/analysis-runtime/internal/domain"
)

func TestRetryPolicyDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{
		MaxAttempts:  5,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     400 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0, // deterministic for the test
	}

	if got := p.Delay(1); got != 100*time.Millisecond {
		t.Fatalf("attempt 1: expected 100ms, got %s", got)
	}
	if got := p.Delay(2); got != 200*time.Millisecond {
		t.Fatalf("attempt 2: expected 200ms, got %s", got)
	}
	if got := p.Delay(4); got != 400*time.Millisecond {
		t.Fatalf("attempt 4: expected cap at 400ms, got %s", got)
	}
}

func TestRetryPolicyJitterStaysBounded(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}

	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("jittered delay out of bounds: %s", d)
		}
	}
}

func TestRetryPolicyNormalized(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{}.normalized()
	if p.MaxAttempts != 1 {
		t.Fatalf("expected MaxAttempts floor of 1, got %d", p.MaxAttempts)
	}
	if p.Multiplier < 1 {
		t.Fatalf("expected multiplier >= 1, got %f", p.Multiplier)
	}
}

func TestRetryableClassification(t *testing.T) {
	t.Parallel()

	if !retryable(fmt.Errorf("wrap: %w", domain.ErrToolUnavailable)) {
		t.Fatal("expected unavailable to be retryable")
	}
	if !retryable(fmt.Errorf("wrap: %w", domain.ErrToolTimeout)) {
		t.Fatal("expected timeout to be retryable")
	}
	if retryable(domain.ErrMalformedToolResponse) {
		t.Fatal("expected malformed response to be non-retryable")
	}
	if retryable(errors.New("other")) {
		t.Fatal("expected unknown error to be non-retryable")
	}
}
