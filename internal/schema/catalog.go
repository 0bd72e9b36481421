// SPDX-License-Identifier: Apache-2.0

// Package schema holds the compiled JSON Schemas that gate every stage output
// before it is trusted. Compilation happens once at startup so a broken
// schema, like an unknown tool name, fails before any run is accepted.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/finalyze/analysis-runtime/internal/domain"
)

const extractSchema = `{
	"type": "object",
	"required": ["income", "balance", "confidence"],
	"properties": {
		"income": {
			"type": "object",
			"required": ["revenue", "net_income"],
			"properties": {
				"revenue": {"type": "number"},
				"cost_of_goods": {"type": "number"},
				"gross_profit": {"type": "number"},
				"operating_expenses": {"type": "number"},
				"operating_income": {"type": "number"},
				"net_income": {"type": "number"}
			}
		},
		"balance": {
			"type": "object",
			"required": ["assets", "liabilities", "equity"],
			"properties": {
				"assets": {"type": "number"},
				"liabilities": {"type": "number"},
				"equity": {"type": "number"},
				"cash": {"type": "number"},
				"receivables": {"type": "number"},
				"inventory": {"type": "number"}
			}
		},
		"disclosures": {"type": "array", "items": {"type": "string"}},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

const financialAnalysisSchema = `{
	"type": "object",
	"required": ["net_margin", "return_on_assets", "return_on_equity", "current_ratio", "debt_to_equity"],
	"properties": {
		"net_margin": {"type": "number"},
		"return_on_assets": {"type": "number"},
		"return_on_equity": {"type": "number"},
		"current_ratio": {"type": "number", "minimum": 0},
		"debt_to_equity": {"type": "number", "minimum": 0},
		"commentary": {"type": "string"}
	}
}`

const complianceSchema = `{
	"type": "object",
	"required": ["status", "violations", "warnings", "score"],
	"properties": {
		"status": {"type": "string", "enum": ["compliant", "non_compliant"]},
		"violations": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["framework", "rule", "severity"],
				"properties": {
					"framework": {"type": "string"},
					"rule": {"type": "string"},
					"severity": {"type": "string", "enum": ["low", "medium", "high"]},
					"description": {"type": "string"}
				}
			}
		},
		"warnings": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["framework", "rule", "severity"],
				"properties": {
					"framework": {"type": "string"},
					"rule": {"type": "string"},
					"severity": {"type": "string", "enum": ["low", "medium", "high"]},
					"description": {"type": "string"}
				}
			}
		},
		"score": {"type": "number", "minimum": 0, "maximum": 1},
		"frameworks_checked": {"type": "array", "items": {"type": "string"}}
	}
}`

const marketSchema = `{
	"type": "object",
	"required": ["sector", "sentiment", "volatility_index"],
	"properties": {
		"sector": {"type": "string"},
		"sentiment": {"type": "string", "enum": ["bullish", "neutral", "bearish"]},
		"sector_avg_pe": {"type": "number"},
		"sector_growth": {"type": "number"},
		"volatility_index": {"type": "number", "minimum": 0, "maximum": 100},
		"as_of": {"type": "string"}
	}
}`

const reportSchema = `{
	"type": "object",
	"required": ["report_id", "format"],
	"properties": {
		"report_id": {"type": "string", "minLength": 1},
		"format": {"type": "string"},
		"url": {"type": "string"}
	}
}`

// RiskAdjustmentSchema bounds the qualitative correction the reasoning
// service may apply to a score.
const RiskAdjustmentSchema = `{
	"type": "object",
	"required": ["delta"],
	"properties": {
		"delta": {"type": "integer", "minimum": -10, "maximum": 10},
		"rationale": {"type": "string"}
	}
}`

// NameReport keys the report handle schema, the only entry not named after
// a stage.
const NameReport = "report"

var stageSchemas = map[string]string{
	domain.StageExtract:           extractSchema,
	domain.StageFinancialAnalysis: financialAnalysisSchema,
	domain.StageCompliance:        complianceSchema,
	domain.StageMarket:            marketSchema,
	NameReport:                    reportSchema,
}

// Catalog holds one compiled schema per stage output.
type Catalog struct {
	compiled map[string]*jsonschema.Schema
}

// Compile builds the full catalog. Called once at startup.
func Compile() (*Catalog, error) {
	compiled := make(map[string]*jsonschema.Schema, len(stageSchemas))
	for name, raw := range stageSchemas {
		s, err := CompileOne(name, raw)
		if err != nil {
			return nil, err
		}
		compiled[name] = s
	}
	return &Catalog{compiled: compiled}, nil
}

// CompileOne compiles a single named schema. Also used by the reasoning
// client for per-call expected schemas.
func CompileOne(name, schemaJSON string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://finalyze.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("schema %s: load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: compile failed: %w", name, err)
	}
	return compiled, nil
}

// StageSchemaJSON returns the raw schema source for a stage, for callers that
// need to hand the schema itself to a collaborator (the reasoning service).
func StageSchemaJSON(name string) (string, bool) {
	raw, ok := stageSchemas[name]
	return raw, ok
}

// Has reports whether a schema exists for the name.
func (c *Catalog) Has(name string) bool {
	_, ok := c.compiled[name]
	return ok
}

// Validate checks a raw stage output against its schema. A payload that does
// not decode as JSON, or that violates the schema, is a malformed response.
func (c *Catalog) Validate(name string, raw json.RawMessage) error {
	s, ok := c.compiled[name]
	if !ok {
		return fmt.Errorf("no schema registered for %q", name)
	}
	return ValidateAgainst(s, raw)
}

// ValidateAgainst validates raw JSON against an already compiled schema.
func ValidateAgainst(s *jsonschema.Schema, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedToolResponse, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedToolResponse, err)
	}
	return nil
}
