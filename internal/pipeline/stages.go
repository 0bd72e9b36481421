// SPDX-License-Identifier: Apache-2.0

// Package pipeline contains the stage graph, the stage executor and the
// orchestrator that drives one analysis run from submission to a terminal
// status.
package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/finalyze/analysis-runtime/internal/domain"
	"github.com/finalyze/analysis-runtime/internal/registry"
	"github.com/finalyze/analysis-runtime/internal/schema"
)

// StageDef declares one unit of pipeline work: exactly one tool or reasoning
// call, its dependencies and how its request is built from their outputs.
type StageDef struct {
	Name      string
	Kind      domain.StageKind
	Service   string
	Tool      string
	DependsOn []string

	// Optional stages may fail without failing the run; the record carries a
	// missing marker instead.
	Optional bool

	// Arguments builds the tool call arguments for KindTool stages.
	Arguments func(req domain.AnalysisRequest, deps map[string]json.RawMessage) (map[string]any, error)

	// Task and PromptContext shape the prompt for KindReasoning stages; the
	// stage's output schema doubles as the expected response schema.
	Task          string
	PromptContext func(req domain.AnalysisRequest, deps map[string]json.RawMessage) (map[string]any, error)
}

// DefaultStages returns the financial analysis DAG: document extraction, a
// reasoning-backed ratio analysis, the regulatory compliance check, and the
// market context snapshot. Compliance and market are independent of each
// other and run concurrently once their dependencies are met.
func DefaultStages() []StageDef {
	return []StageDef{
		{
			Name:    domain.StageExtract,
			Kind:    domain.KindTool,
			Service: registry.ServiceDocument,
			Tool:    "extract_financial_data",
			Arguments: func(req domain.AnalysisRequest, _ map[string]json.RawMessage) (map[string]any, error) {
				return map[string]any{
					"document_ref":   req.DocumentRef,
					"extract_tables": true,
					"ocr_enabled":    true,
					"language":       "en",
				}, nil
			},
		},
		{
			Name:      domain.StageFinancialAnalysis,
			Kind:      domain.KindReasoning,
			Service:   registry.ServiceReasoning,
			DependsOn: []string{domain.StageExtract},
			Task: "Compute profitability, liquidity and leverage ratios for the extracted " +
				"financial statements and summarize strengths and weaknesses.",
			PromptContext: func(req domain.AnalysisRequest, deps map[string]json.RawMessage) (map[string]any, error) {
				return map[string]any{
					"company":   req.Company.Name,
					"sector":    req.Company.Sector,
					"extracted": deps[domain.StageExtract],
				}, nil
			},
		},
		{
			Name:      domain.StageCompliance,
			Kind:      domain.KindTool,
			Service:   registry.ServiceCompliance,
			Tool:      "check_regulatory_compliance",
			DependsOn: []string{domain.StageExtract, domain.StageFinancialAnalysis},
			Arguments: func(req domain.AnalysisRequest, deps map[string]json.RawMessage) (map[string]any, error) {
				return map[string]any{
					"dataset":    deps[domain.StageExtract],
					"analysis":   deps[domain.StageFinancialAnalysis],
					"frameworks": []string{"SEC", "SOX", "IFRS", "GAAP"},
				}, nil
			},
		},
		{
			Name:     domain.StageMarket,
			Kind:     domain.KindTool,
			Service:  registry.ServiceMarket,
			Tool:     "get_market_context",
			Optional: true,
			Arguments: func(req domain.AnalysisRequest, _ map[string]json.RawMessage) (map[string]any, error) {
				return map[string]any{
					"company_id": req.Company.CompanyID,
					"sector":     req.Company.Sector,
					"tickers":    req.Company.Tickers,
				}, nil
			},
		},
	}
}

// ValidateStages checks the graph at configuration-load time: unique names,
// known kinds and services, a schema for every output, declared dependencies
// that exist, and no cycles. A graph that fails here never starts a run.
func ValidateStages(stages []StageDef, catalog *schema.Catalog, reg *registry.ServiceRegistry) error {
	byName := make(map[string]StageDef, len(stages))
	for _, s := range stages {
		if s.Name == "" {
			return fmt.Errorf("stage with empty name")
		}
		if _, dup := byName[s.Name]; dup {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		byName[s.Name] = s

		switch s.Kind {
		case domain.KindTool:
			if s.Tool == "" {
				return fmt.Errorf("stage %q: tool stages need a tool name", s.Name)
			}
			if s.Arguments == nil {
				return fmt.Errorf("stage %q: tool stages need an argument builder", s.Name)
			}
		case domain.KindReasoning:
			if s.Task == "" || s.PromptContext == nil {
				return fmt.Errorf("stage %q: reasoning stages need a task and prompt context", s.Name)
			}
		default:
			return fmt.Errorf("stage %q: unknown kind %q", s.Name, s.Kind)
		}

		if _, err := reg.BaseURL(s.Service); err != nil {
			return fmt.Errorf("stage %q: %w", s.Name, err)
		}
		if !catalog.Has(s.Name) {
			return fmt.Errorf("stage %q: no output schema registered", s.Name)
		}
	}

	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("stage %q depends on unknown stage %q", s.Name, dep)
			}
			if dep == s.Name {
				return fmt.Errorf("stage %q depends on itself", s.Name)
			}
		}
	}

	return checkAcyclic(byName)
}

func checkAcyclic(byName map[string]StageDef) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(byName))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("stage dependency cycle through %q", name)
		case done:
			return nil
		}
		state[name] = visiting
		for _, dep := range byName[name].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for name := range byName {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
