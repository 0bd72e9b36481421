// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type tokenBucket struct {
	capacity        float64
	tokens          float64
	refillPerSecond float64
	lastRefill      time.Time
}

// RateLimiter is a per-client token bucket used on run submission. Clients
// are keyed by address since submissions are unauthenticated.
type RateLimiter struct {
	mu             sync.Mutex
	buckets        map[string]*tokenBucket
	limitPerMinute int
}

func NewRateLimiter(limitPerMinute int) *RateLimiter {
	if limitPerMinute <= 0 {
		limitPerMinute = 60
	}
	return &RateLimiter{
		buckets:        make(map[string]*tokenBucket, 32),
		limitPerMinute: limitPerMinute,
	}
}

type decision struct {
	allowed           bool
	remaining         int
	retryAfterSeconds int
}

func (l *RateLimiter) allow(key string, now time.Time) decision {
	capacity := float64(l.limitPerMinute)
	refillPerSecond := capacity / 60.0

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &tokenBucket{
			capacity:        capacity,
			tokens:          capacity,
			refillPerSecond: refillPerSecond,
			lastRefill:      now,
		}
		l.buckets[key] = bucket
	}

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	if elapsed > 0 {
		bucket.tokens += elapsed * bucket.refillPerSecond
		if bucket.tokens > bucket.capacity {
			bucket.tokens = bucket.capacity
		}
		bucket.lastRefill = now
	}

	if bucket.tokens >= 1 {
		bucket.tokens--
		return decision{allowed: true, remaining: int(math.Floor(bucket.tokens))}
	}

	retryAfter := int(math.Ceil((1 - bucket.tokens) / bucket.refillPerSecond))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return decision{remaining: 0, retryAfterSeconds: retryAfter}
}

// Limit wraps a handler with the bucket check and the usual rate headers.
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := l.allow(clientKey(r), time.Now())

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limitPerMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		if !d.allowed {
			w.Header().Set("Retry-After", strconv.Itoa(d.retryAfterSeconds))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey prefers the first X-Forwarded-For hop, which is what a fronting
// proxy sets, and falls back to the peer address.
func clientKey(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
