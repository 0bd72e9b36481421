// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/finalyze/analysis-runtime/internal/domain"
	"github.com/finalyze/analysis-runtime/internal/metrics"
	"github.com/finalyze/analysis-runtime/internal/reasoning"
	"github.com/finalyze/analysis-runtime/internal/schema"
)

// ToolInvoker is the slice of the tool client the executor needs.
type ToolInvoker interface {
	Invoke(ctx context.Context, service, toolName string, args map[string]any) (domain.ToolResponse, error)
}

// Reasoner is the slice of the reasoning client the executor needs.
type Reasoner interface {
	Reason(ctx context.Context, spec reasoning.PromptSpec, expectedSchema string) (json.RawMessage, error)
}

// Executor runs one stage attempt: it resolves dependency outputs, dispatches
// to the matching client and validates the raw result against the stage's
// output schema. Stages are idempotent from the orchestrator's point of view,
// so re-issuing an attempt is always safe.
type Executor struct {
	tools    ToolInvoker
	reasoner Reasoner
	schemas  *schema.Catalog
	logger   *slog.Logger
}

func NewExecutor(tools ToolInvoker, reasoner Reasoner, schemas *schema.Catalog, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		tools:    tools,
		reasoner: reasoner,
		schemas:  schemas,
		logger:   logger,
	}
}

// Execute performs one attempt of the stage. states is a read-only view of
// the run's stage map; the executor never mutates it.
func (e *Executor) Execute(
	ctx context.Context,
	def StageDef,
	req domain.AnalysisRequest,
	states map[string]*domain.StageState,
) (json.RawMessage, error) {
	started := time.Now()
	defer func() {
		metrics.ObserveStageExecutionDuration(time.Since(started))
	}()

	deps, err := resolveDependencies(def, states)
	if err != nil {
		return nil, err
	}

	var output json.RawMessage
	switch def.Kind {
	case domain.KindTool:
		output, err = e.executeTool(ctx, def, req, deps)
	case domain.KindReasoning:
		output, err = e.executeReasoning(ctx, def, req, deps)
	default:
		err = fmt.Errorf("stage %q: unknown kind %q", def.Name, def.Kind)
	}
	if err != nil {
		return nil, err
	}

	if err := e.schemas.Validate(def.Name, output); err != nil {
		return nil, fmt.Errorf("stage %q output: %w", def.Name, err)
	}
	return output, nil
}

func (e *Executor) executeTool(
	ctx context.Context,
	def StageDef,
	req domain.AnalysisRequest,
	deps map[string]json.RawMessage,
) (json.RawMessage, error) {
	args, err := def.Arguments(req, deps)
	if err != nil {
		return nil, fmt.Errorf("stage %q arguments: %w", def.Name, err)
	}

	resp, err := e.tools.Invoke(ctx, def.Service, def.Tool, args)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		kind, msg := "unknown", "tool reported an error"
		if resp.Error != nil {
			kind, msg = resp.Error.Kind, resp.Error.Message
		}
		return nil, fmt.Errorf("stage %q: tool error (%s): %s", def.Name, kind, msg)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("stage %q: %w: empty data", def.Name, domain.ErrMalformedToolResponse)
	}
	return resp.Data, nil
}

func (e *Executor) executeReasoning(
	ctx context.Context,
	def StageDef,
	req domain.AnalysisRequest,
	deps map[string]json.RawMessage,
) (json.RawMessage, error) {
	promptCtx, err := def.PromptContext(req, deps)
	if err != nil {
		return nil, fmt.Errorf("stage %q prompt context: %w", def.Name, err)
	}

	expected, ok := schema.StageSchemaJSON(def.Name)
	if !ok {
		return nil, fmt.Errorf("stage %q: no output schema registered", def.Name)
	}

	return e.reasoner.Reason(ctx, reasoning.PromptSpec{
		Task:    def.Task,
		Context: promptCtx,
	}, expected)
}

// resolveDependencies collects the outputs of the stage's dependencies,
// failing fast if any of them did not succeed.
func resolveDependencies(def StageDef, states map[string]*domain.StageState) (map[string]json.RawMessage, error) {
	deps := make(map[string]json.RawMessage, len(def.DependsOn))
	for _, name := range def.DependsOn {
		st, ok := states[name]
		if !ok || st.Status != domain.StageSucceeded {
			return nil, fmt.Errorf("stage %q: %w: dependency %q",
				def.Name, domain.ErrDependencyNotSatisfied, name)
		}
		deps[name] = st.Output
	}
	return deps, nil
}
