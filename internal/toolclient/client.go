// SPDX-License-Identifier: Apache-2.0

// Package toolclient implements the uniform request/response protocol used to
// reach every external tool service and the reasoning service. It owns the
// per-call timeout, the retry/backoff policy and the per-service circuit
// breaker; argument schemas are the stage executor's concern.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/finalyze/analysis-runtime/internal/domain"
	"github.com/finalyze/analysis-runtime/internal/metrics"
	"github.com/finalyze/analysis-runtime/internal/registry"
	"github.com/google/uuid"
)

const toolCallPath = "/tools/call"

type Deps struct {
	Registry   *registry.ServiceRegistry
	Logger     *slog.Logger
	HTTPClient *http.Client
	Timeout    time.Duration
	Retry      RetryPolicy
	// BreakerThreshold and BreakerCooldown configure one breaker per
	// registered service.
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// APIKeys holds optional bearer credentials by service name.
	APIKeys map[string]string
}

type Client struct {
	registry   *registry.ServiceRegistry
	logger     *slog.Logger
	httpClient *http.Client
	timeout    time.Duration
	retry      RetryPolicy
	breakers   map[string]*Breaker
	apiKeys    map[string]string
}

func New(deps Deps) *Client {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	hc := deps.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breakers := make(map[string]*Breaker)
	if deps.Registry != nil {
		for _, svc := range deps.Registry.Services() {
			breakers[svc] = NewBreaker(deps.BreakerThreshold, deps.BreakerCooldown)
		}
	}

	return &Client{
		registry:   deps.Registry,
		logger:     l,
		httpClient: hc,
		timeout:    timeout,
		retry:      deps.Retry.normalized(),
		breakers:   breakers,
		apiKeys:    deps.APIKeys,
	}
}

// Invoke issues one tool call against the named service. Transport faults are
// retried with exponential backoff and jitter; after exhausting retries the
// returned response carries status=error with the fault kind, and the
// matching sentinel error is returned alongside it. A call rejected by the
// circuit breaker never touches the network.
func (c *Client) Invoke(ctx context.Context, service, toolName string, args map[string]any) (domain.ToolResponse, error) {
	breaker := c.breakers[service]
	if breaker != nil && !breaker.AllowRequest() {
		metrics.IncToolCall(service, "circuit_open")
		c.logger.Warn("tool call rejected by open circuit",
			"service", service,
			"tool", toolName,
		)
		return errorResponse(domain.KindCircuitOpen, "circuit open for service "+service),
			fmt.Errorf("%s.%s: %w", service, toolName, domain.ErrCircuitOpen)
	}

	req := domain.ToolRequest{
		ToolName:  toolName,
		Arguments: args,
		RequestID: uuid.NewString(),
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		resp, err := c.call(ctx, service, req)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			metrics.IncToolCall(service, "ok")
			return resp, nil
		}

		lastErr = err

		// A cancelled run must not be retried.
		if ctx.Err() != nil {
			metrics.IncToolCall(service, "cancelled")
			return errorResponse(domain.KindCancelled, ctx.Err().Error()), ctx.Err()
		}

		if breaker != nil && breaker.RecordFailure() {
			metrics.IncBreakerOpen(service)
			c.logger.Warn("circuit breaker opened",
				"service", service,
				"tool", toolName,
			)
		}

		if !retryable(err) || attempt == c.retry.MaxAttempts {
			break
		}

		delay := c.retry.Delay(attempt)
		c.logger.Warn("tool call failed, retrying",
			"service", service,
			"tool", toolName,
			"request_id", req.RequestID,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.IncToolCall(service, "cancelled")
			return errorResponse(domain.KindCancelled, ctx.Err().Error()), ctx.Err()
		case <-timer.C:
		}
	}

	metrics.IncToolCall(service, "error")
	c.logger.Error("tool call exhausted",
		"service", service,
		"tool", toolName,
		"request_id", req.RequestID,
		"error", lastErr,
	)
	return errorResponse(domain.ErrorKind(lastErr), lastErr.Error()), lastErr
}

// HealthCheck probes a service through the same protocol. It reports
// reachability plus the service's self-declared uptime.
func (c *Client) HealthCheck(ctx context.Context, service string) (bool, string) {
	resp, err := c.Invoke(ctx, service, "health_check", map[string]any{})
	if err != nil || !resp.OK() {
		return false, ""
	}

	var data struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return false, ""
	}
	return data.Status == "healthy" || data.Status == "ok", data.Uptime
}

func (c *Client) call(ctx context.Context, service string, toolReq domain.ToolRequest) (domain.ToolResponse, error) {
	base, err := c.registry.BaseURL(service)
	if err != nil {
		return domain.ToolResponse{}, err
	}

	body, err := json.Marshal(toolReq)
	if err != nil {
		return domain.ToolResponse{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, base+toolCallPath, bytes.NewReader(body))
	if err != nil {
		return domain.ToolResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := c.apiKeys[service]; key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	started := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	metrics.ObserveToolCallDuration(service, time.Since(started))
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return domain.ToolResponse{}, fmt.Errorf("%s.%s: %w", service, toolReq.ToolName, domain.ErrToolTimeout)
		}
		if ctx.Err() != nil {
			return domain.ToolResponse{}, ctx.Err()
		}
		return domain.ToolResponse{}, fmt.Errorf("%s.%s: %w: %v", service, toolReq.ToolName, domain.ErrToolUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		httpResp.Body.Close()
	}()

	if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
		return domain.ToolResponse{}, fmt.Errorf("%s.%s: %w: status %d",
			service, toolReq.ToolName, domain.ErrToolUnavailable, httpResp.StatusCode)
	}

	var resp domain.ToolResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return domain.ToolResponse{}, fmt.Errorf("%s.%s: %w: %v",
			service, toolReq.ToolName, domain.ErrMalformedToolResponse, err)
	}
	if resp.Status != domain.ToolStatusOK && resp.Status != domain.ToolStatusError {
		return domain.ToolResponse{}, fmt.Errorf("%s.%s: %w: unknown status %q",
			service, toolReq.ToolName, domain.ErrMalformedToolResponse, resp.Status)
	}

	return resp, nil
}

func errorResponse(kind, message string) domain.ToolResponse {
	return domain.ToolResponse{
		Status: domain.ToolStatusError,
		Error:  &domain.ToolError{Kind: kind, Message: message},
	}
}

// Unavailable reports whether err is one of the transport-level faults the
// caller may treat as a degraded-but-not-fatal outcome.
func Unavailable(err error) bool {
	return errors.Is(err, domain.ErrToolUnavailable) ||
		errors.Is(err, domain.ErrToolTimeout) ||
		errors.Is(err, domain.ErrCircuitOpen)
}
