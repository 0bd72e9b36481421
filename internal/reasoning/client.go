// SPDX-License-Identifier: Apache-2.0

// Package reasoning wraps the external reasoning service behind the same tool
// protocol as every other collaborator, adding structured prompt construction
// and schema validation of the response.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finalyze/analysis-runtime/internal/domain"
	"github.com/finalyze/analysis-runtime/internal/metrics"
	"github.com/finalyze/analysis-runtime/internal/registry"
	"github.com/finalyze/analysis-runtime/internal/schema"
)

const correctiveInstruction = "The previous response did not match the required schema. " +
	"Respond again with only a JSON object that validates against the schema. " +
	"Do not include prose, markdown or code fences."

// PromptSpec describes one reasoning request. Context values are JSON-encoded
// into the prompt, never concatenated raw, so untrusted data stays inert.
type PromptSpec struct {
	Task    string
	Context map[string]any
}

// Invoker is the slice of the tool client the reasoning client needs.
type Invoker interface {
	Invoke(ctx context.Context, service, toolName string, args map[string]any) (domain.ToolResponse, error)
}

type Client struct {
	invoker Invoker
	logger  *slog.Logger
}

func New(invoker Invoker, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{invoker: invoker, logger: logger}
}

// Reason sends a structured prompt and returns the response payload once it
// validates against expectedSchema. A first validation failure triggers one
// corrective retry; a second one fails with ErrMalformedReasoningResponse.
// The result is never coerced or guessed.
func (c *Client) Reason(ctx context.Context, spec PromptSpec, expectedSchema string) (json.RawMessage, error) {
	compiled, err := schema.CompileOne("reasoning_expected", expectedSchema)
	if err != nil {
		return nil, fmt.Errorf("expected schema invalid: %w", err)
	}

	prompt, err := buildPrompt(spec, expectedSchema, "")
	if err != nil {
		return nil, err
	}

	payload, invErr := c.once(ctx, prompt, expectedSchema)
	if invErr != nil {
		return nil, invErr
	}

	verr := schema.ValidateAgainst(compiled, payload)
	if verr == nil {
		return payload, nil
	}
	c.logger.Warn("reasoning response failed validation, issuing corrective retry",
		"task", spec.Task,
		"error", verr,
	)
	metrics.IncReasoningRetries()

	prompt, err = buildPrompt(spec, expectedSchema, correctiveInstruction)
	if err != nil {
		return nil, err
	}

	payload, invErr = c.once(ctx, prompt, expectedSchema)
	if invErr != nil {
		return nil, invErr
	}

	if err := schema.ValidateAgainst(compiled, payload); err != nil {
		c.logger.Error("reasoning response still invalid after corrective retry",
			"task", spec.Task,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedReasoningResponse, err)
	}
	return payload, nil
}

func (c *Client) once(ctx context.Context, prompt, expectedSchema string) (json.RawMessage, error) {
	resp, err := c.invoker.Invoke(ctx, registry.ServiceReasoning, "reason", map[string]any{
		"prompt": prompt,
		"schema": json.RawMessage(expectedSchema),
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		msg := "reasoning service error"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrMalformedReasoningResponse, msg)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrMalformedReasoningResponse)
	}
	return resp.Data, nil
}

// buildPrompt renders a deterministic prompt: fixed template, JSON-encoded
// context (object keys are sorted by encoding/json), and the expected schema.
func buildPrompt(spec PromptSpec, expectedSchema, corrective string) (string, error) {
	ctxJSON, err := json.Marshal(spec.Context)
	if err != nil {
		return "", fmt.Errorf("prompt context marshal failed: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a financial analysis expert.\n")
	b.WriteString("Task: ")
	b.WriteString(spec.Task)
	b.WriteString("\n\nContext (JSON):\n")
	b.Write(ctxJSON)
	b.WriteString("\n\nRespond with only a JSON object matching this schema:\n")
	b.WriteString(expectedSchema)
	if corrective != "" {
		b.WriteString("\n\n")
		b.WriteString(corrective)
	}
	return b.String(), nil
}
