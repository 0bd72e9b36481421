// SPDX-License-Identifier: Apache-2.0

// Package aggregate builds the AnalysisRecord from terminal stage states.
// Building is pure and per-field: each record section depends on exactly one
// stage, so the result is independent of stage completion order.
package aggregate

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/finalyze/analysis-runtime/internal/domain"
)

// Build assembles the record from the run's stage map. Succeeded stages fill
// their section; anything else leaves the section nil and adds a marker to
// Missing. A decode failure on a succeeded stage is a malformed-response
// error, not a missing section.
func Build(stages map[string]*domain.StageState) (*domain.AnalysisRecord, error) {
	rec := &domain.AnalysisRecord{}

	if out, ok := stageOutput(stages, domain.StageExtract); ok {
		var ds domain.FinancialDataset
		if err := decodeSection(domain.StageExtract, out, &ds); err != nil {
			return nil, err
		}
		rec.Financials = &ds
	} else {
		rec.Missing = append(rec.Missing, domain.StageExtract)
	}

	if out, ok := stageOutput(stages, domain.StageFinancialAnalysis); ok {
		var fa domain.FinancialAnalysis
		if err := decodeSection(domain.StageFinancialAnalysis, out, &fa); err != nil {
			return nil, err
		}
		rec.Analysis = &fa
	} else {
		rec.Missing = append(rec.Missing, domain.StageFinancialAnalysis)
	}

	if out, ok := stageOutput(stages, domain.StageCompliance); ok {
		var cf domain.ComplianceFindings
		if err := decodeSection(domain.StageCompliance, out, &cf); err != nil {
			return nil, err
		}
		rec.Compliance = &cf
	} else {
		rec.Missing = append(rec.Missing, domain.StageCompliance)
	}

	if out, ok := stageOutput(stages, domain.StageMarket); ok {
		var mc domain.MarketContext
		if err := decodeSection(domain.StageMarket, out, &mc); err != nil {
			return nil, err
		}
		rec.Market = &mc
	} else {
		rec.Missing = append(rec.Missing, domain.StageMarket)
	}

	sort.Strings(rec.Missing)
	return rec, nil
}

func stageOutput(stages map[string]*domain.StageState, name string) (json.RawMessage, bool) {
	st, ok := stages[name]
	if !ok || st.Status != domain.StageSucceeded || len(st.Output) == 0 {
		return nil, false
	}
	return st.Output, true
}

func decodeSection(name string, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("section %q: %w: %v", name, domain.ErrMalformedToolResponse, err)
	}
	return nil
}
