// SPDX-License-Identifier: Apache-2.0

// Package quality runs the final consistency pass over an aggregated record:
// a fixed checklist of cross-section invariants plus a confidence estimate.
// The review itself is pure; the engine decides whether requested reruns are
// still within budget.
package quality

import (
	"fmt"
	"math"

	"github.com/finalyze/analysis-runtime/internal/domain"
)

// Sections the record cannot do without. Market context is enrichment and
// never blocks a verdict.
var criticalSections = []string{
	domain.StageExtract,
	domain.StageFinancialAnalysis,
	domain.StageCompliance,
}

const (
	baseConfidence      = 0.95
	failedStagePenalty  = 0.10
	missingCriticalCost = 0.05
	confidenceFloor     = 0.50
	netMarginTolerance  = 0.05
	riskySubScoreFloor  = 50.0
)

// Review evaluates the record against the checklist. The trail supplies the
// stage outcomes used for the confidence estimate and for deciding which
// missing sections are worth rerunning.
func Review(rec *domain.AnalysisRecord, trail []domain.StageRecord) *domain.QualityVerdict {
	v := &domain.QualityVerdict{}

	missing := missingSet(rec)
	for _, name := range criticalSections {
		if !missing[name] {
			continue
		}
		v.Issues = append(v.Issues, fmt.Sprintf("missing critical section %q", name))
		if rerunnable(name, trail) {
			v.RerunsRequested = append(v.RerunsRequested, name)
		}
	}

	checkNetMargin(rec, v)
	checkRisk(rec, v)

	v.Confidence = confidence(trail, missing)
	v.Passed = len(v.Issues) == 0
	return v
}

// checkNetMargin cross-checks the reasoned net margin against the extracted
// statements when both sections are present.
func checkNetMargin(rec *domain.AnalysisRecord, v *domain.QualityVerdict) {
	if rec.Financials == nil || rec.Analysis == nil {
		return
	}
	revenue := rec.Financials.Income.Revenue
	if revenue <= 0 {
		return
	}
	expected := rec.Financials.Income.NetIncome / revenue
	if math.Abs(expected-rec.Analysis.NetMargin) > netMarginTolerance {
		v.Inconsistency = fmt.Sprintf(
			"net margin %.3f disagrees with extracted statements (%.3f)",
			rec.Analysis.NetMargin, expected)
		v.Issues = append(v.Issues, v.Inconsistency)
	}
}

// checkRisk verifies the assessment is internally consistent: the category
// must match the score band, and high-severity compliance violations must be
// reflected in the compliance factor.
func checkRisk(rec *domain.AnalysisRecord, v *domain.QualityVerdict) {
	if rec.Risk == nil {
		v.Issues = append(v.Issues, "missing risk assessment")
		return
	}
	if got := domain.CategoryForScore(rec.Risk.Score); got != rec.Risk.Category {
		v.Issues = append(v.Issues, fmt.Sprintf(
			"risk category %s does not match score %.1f", rec.Risk.Category, rec.Risk.Score))
	}
	if rec.Compliance == nil || rec.Compliance.HighSeverityCount() == 0 {
		return
	}
	for _, f := range rec.Risk.Factors {
		if f.Name == domain.FactorCompliance && f.SubScore <= riskySubScoreFloor {
			v.Issues = append(v.Issues, fmt.Sprintf(
				"high-severity violations with compliance sub-score %.1f", f.SubScore))
		}
	}
}

// confidence starts from the base and decays with failed stages and missing
// critical sections, never dropping below the floor.
func confidence(trail []domain.StageRecord, missing map[string]bool) float64 {
	c := baseConfidence
	for _, st := range trail {
		if st.Status == domain.StageFailed {
			c -= failedStagePenalty
		}
	}
	for _, name := range criticalSections {
		if missing[name] {
			c -= missingCriticalCost
		}
	}
	if c < confidenceFloor {
		c = confidenceFloor
	}
	return c
}

func missingSet(rec *domain.AnalysisRecord) map[string]bool {
	m := make(map[string]bool, len(rec.Missing))
	for _, name := range rec.Missing {
		m[name] = true
	}
	return m
}

// rerunnable reports whether the stage behind a missing section failed in a
// way a rerun could fix. Skipped stages rerun too, since rerunning their
// failed dependency may unblock them.
func rerunnable(name string, trail []domain.StageRecord) bool {
	for _, st := range trail {
		if st.Name != name {
			continue
		}
		switch st.Status {
		case domain.StageSkipped:
			return true
		case domain.StageFailed:
			return st.ErrorKind != domain.KindCancelled
		}
	}
	return false
}
