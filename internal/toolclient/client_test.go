// SPDX-License-Identifier: Apache-2.0

package toolclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finalyze/analysis-runtime/internal/domain"
	"github.com/finalyze/analysis-runtime/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler, deps Deps) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	deps.Registry = registry.New(map[string]string{"svc": srv.URL})
	deps.Logger = testLogger()
	if deps.Retry.MaxAttempts == 0 {
		deps.Retry = RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, JitterFactor: 0}
	}
	return New(deps), srv
}

func TestInvokeSuccess(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.ToolRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.ToolName != "get_market_context" {
			t.Errorf("unexpected tool name %q", req.ToolName)
		}
		if req.RequestID == "" {
			t.Error("expected a request id")
		}
		_ = json.NewEncoder(w).Encode(domain.ToolResponse{
			Status: domain.ToolStatusOK,
			Data:   json.RawMessage(`{"sentiment":"bullish"}`),
		})
	})

	c, _ := newTestClient(t, handler, Deps{})

	resp, err := c.Invoke(context.Background(), "svc", "get_market_context", map[string]any{"sector": "Technology"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected ok response, got %+v", resp)
	}

	var data map[string]string
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("bad data payload: %v", err)
	}
	if data["sentiment"] != "bullish" {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestInvokeRetriesTransportFaults(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.ToolResponse{
			Status: domain.ToolStatusOK,
			Data:   json.RawMessage(`{}`),
		})
	})

	c, _ := newTestClient(t, handler, Deps{
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, JitterFactor: 0},
	})

	resp, err := c.Invoke(context.Background(), "svc", "extract_financial_data", map[string]any{})
	if err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected ok response, got %+v", resp)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestInvokeExhaustionReturnsUnavailable(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c, _ := newTestClient(t, handler, Deps{
		Retry: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, JitterFactor: 0},
	})

	resp, err := c.Invoke(context.Background(), "svc", "check_regulatory_compliance", map[string]any{})
	if !errors.Is(err, domain.ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	if resp.Status != domain.ToolStatusError {
		t.Fatalf("expected error response, got %+v", resp)
	}
	if resp.Error == nil || resp.Error.Kind != domain.KindToolUnavailable {
		t.Fatalf("expected tool_unavailable kind, got %+v", resp.Error)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestInvokeTimeout(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	c, _ := newTestClient(t, handler, Deps{
		Timeout: 20 * time.Millisecond,
		Retry:   RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, JitterFactor: 0},
	})

	_, err := c.Invoke(context.Background(), "svc", "get_market_context", map[string]any{})
	if !errors.Is(err, domain.ErrToolTimeout) {
		t.Fatalf("expected ErrToolTimeout, got %v", err)
	}
}

func TestInvokeCircuitOpensAndFailsFast(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	c, _ := newTestClient(t, handler, Deps{
		Retry:            RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, JitterFactor: 0},
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	})

	for i := 0; i < 2; i++ {
		if _, err := c.Invoke(context.Background(), "svc", "x", nil); !errors.Is(err, domain.ErrToolUnavailable) {
			t.Fatalf("call %d: expected ErrToolUnavailable, got %v", i, err)
		}
	}
	attemptsBefore := calls.Load()

	resp, err := c.Invoke(context.Background(), "svc", "x", nil)
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if resp.Error == nil || resp.Error.Kind != domain.KindCircuitOpen {
		t.Fatalf("expected circuit_open kind, got %+v", resp.Error)
	}
	if calls.Load() != attemptsBefore {
		t.Fatal("expected no network attempt while circuit is open")
	}
}

func TestInvokeCircuitClosesAfterProbe(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	fail.Store(true)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.ToolResponse{Status: domain.ToolStatusOK, Data: json.RawMessage(`{}`)})
	})

	c, _ := newTestClient(t, handler, Deps{
		Retry:            RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, JitterFactor: 0},
		BreakerThreshold: 1,
		BreakerCooldown:  10 * time.Millisecond,
	})

	if _, err := c.Invoke(context.Background(), "svc", "x", nil); err == nil {
		t.Fatal("expected failure to open the circuit")
	}

	fail.Store(false)
	time.Sleep(20 * time.Millisecond)

	// Half-open probe succeeds and closes the circuit.
	if _, err := c.Invoke(context.Background(), "svc", "x", nil); err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if _, err := c.Invoke(context.Background(), "svc", "x", nil); err != nil {
		t.Fatalf("expected closed circuit, got %v", err)
	}
}

func TestInvokeCancelledContextNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newTestClient(t, handler, Deps{
		Retry: RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 1, JitterFactor: 0},
	})

	cancel()
	_, err := c.Invoke(ctx, "svc", "x", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() > 1 {
		t.Fatalf("expected at most one attempt after cancellation, got %d", calls.Load())
	}
}

func TestInvokeMalformedEnvelope(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	c, _ := newTestClient(t, handler, Deps{})

	_, err := c.Invoke(context.Background(), "svc", "x", nil)
	if !errors.Is(err, domain.ErrMalformedToolResponse) {
		t.Fatalf("expected ErrMalformedToolResponse, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.ToolRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ToolName != "health_check" {
			t.Errorf("unexpected tool name %q", req.ToolName)
		}
		_ = json.NewEncoder(w).Encode(domain.ToolResponse{
			Status: domain.ToolStatusOK,
			Data:   json.RawMessage(`{"status":"healthy","uptime":"72h"}`),
		})
	})

	c, _ := newTestClient(t, handler, Deps{})

	ok, uptime := c.HealthCheck(context.Background(), "svc")
	if !ok {
		t.Fatal("expected healthy service")
	}
	if uptime != "72h" {
		t.Fatalf("unexpected uptime %q", uptime)
	}
}
