// SPDX-License-Identifier: Apache-2.0

// Package risk turns an aggregated analysis record into a weighted 0-100
// risk score with a category band and an optional reasoning-backed
// qualitative adjustment.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/finalyze/analysis-runtime/internal/config"
	"github.com/finalyze/analysis-runtime/internal/domain"
	"github.com/finalyze/analysis-runtime/internal/reasoning"
	"github.com/finalyze/analysis-runtime/internal/schema"
)

// AdjustmentProvider proposes a bounded qualitative delta for a computed
// score. Implementations are expected to already enforce the [-10,10] bound;
// the scorer clamps the delta again before applying it.
type AdjustmentProvider interface {
	ProposeAdjustment(ctx context.Context, rec *domain.AnalysisRecord, score float64) (*domain.RiskAdjustment, error)
}

// Scorer computes risk assessments. Weights are validated at configuration
// load; when a section is missing its weight is redistributed over the
// remaining factors per the configured fallback rule.
type Scorer struct {
	weights     config.RiskWeights
	missingRule string
	adjuster    AdjustmentProvider
	enabled     bool
	logger      *slog.Logger
}

type Deps struct {
	Weights config.RiskWeights
	// MissingFactorRule defaults to config.MissingFactorProportional.
	MissingFactorRule string
	Adjuster          AdjustmentProvider
	AdjustmentEnabled bool
	Logger            *slog.Logger
}

func NewScorer(deps Deps) *Scorer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MissingFactorRule == "" {
		deps.MissingFactorRule = config.MissingFactorProportional
	}
	return &Scorer{
		weights:     deps.Weights,
		missingRule: deps.MissingFactorRule,
		adjuster:    deps.Adjuster,
		enabled:     deps.AdjustmentEnabled,
		logger:      deps.Logger,
	}
}

// Score computes the assessment for a record. At least the financial analysis
// or the compliance section must be present; a record with no scorable
// section is a computation error, not a zero score.
func (s *Scorer) Score(ctx context.Context, rec *domain.AnalysisRecord) (*domain.RiskAssessment, error) {
	factors, err := s.subScores(rec)
	if err != nil {
		return nil, err
	}
	if len(factors) == 0 {
		return nil, fmt.Errorf("%w: no scorable sections", domain.ErrScoreComputation)
	}

	s.redistribute(factors)

	score := 0.0
	for i := range factors {
		score += factors[i].Weight * factors[i].SubScore
	}

	assessment := &domain.RiskAssessment{
		Score:   score,
		Factors: factors,
	}

	if s.enabled && s.adjuster != nil {
		adj, err := s.adjuster.ProposeAdjustment(ctx, rec, score)
		if err != nil {
			// The adjustment is advisory; a reasoning failure never fails
			// the assessment.
			s.logger.Warn("risk adjustment unavailable", "error", err)
		} else if adj != nil {
			adj.Delta = clampInt(adj.Delta, -10, 10)
			assessment.Adjustment = adj
			assessment.Score = clampFloat(score+float64(adj.Delta), 0, 100)
		}
	}

	assessment.Category = domain.CategoryForScore(assessment.Score)
	return assessment, nil
}

// subScores computes one factor per available record section. Each sub-score
// must land in [0,100]; an out-of-range value means the inputs were invalid
// and the whole computation fails.
func (s *Scorer) subScores(rec *domain.AnalysisRecord) ([]domain.RiskFactor, error) {
	var factors []domain.RiskFactor

	if rec.Analysis != nil {
		sub := financialSubScore(rec.Analysis)
		if err := checkRange(domain.FactorFinancial, sub); err != nil {
			return nil, err
		}
		factors = append(factors, domain.RiskFactor{
			Name: domain.FactorFinancial, Weight: s.weights.Financial, SubScore: sub,
		})
	}
	if rec.Compliance != nil {
		sub, err := complianceSubScore(rec.Compliance)
		if err != nil {
			return nil, err
		}
		factors = append(factors, domain.RiskFactor{
			Name: domain.FactorCompliance, Weight: s.weights.Compliance, SubScore: sub,
		})
	}
	if rec.Market != nil {
		sub, err := marketSubScore(rec.Market)
		if err != nil {
			return nil, err
		}
		factors = append(factors, domain.RiskFactor{
			Name: domain.FactorMarket, Weight: s.weights.Market, SubScore: sub,
		})
	}

	sort.Slice(factors, func(i, j int) bool { return factors[i].Name < factors[j].Name })
	return factors, nil
}

// financialSubScore starts at a neutral 50 and moves on margin, leverage and
// liquidity signals. The construction keeps the result inside [0,100] for any
// input.
func financialSubScore(fa *domain.FinancialAnalysis) float64 {
	sub := 50.0
	switch {
	case fa.NetMargin < 0.10:
		sub += 10
	case fa.NetMargin > 0.30:
		sub -= 10
	}
	switch {
	case fa.DebtToEquity > 2.0:
		sub += 20
	case fa.DebtToEquity < 0.5:
		sub -= 10
	}
	switch {
	case fa.CurrentRatio < 1.0:
		sub += 10
	case fa.CurrentRatio > 2.0:
		sub -= 5
	}
	return sub
}

// complianceSubScore combines the service's own 0-1 compliance score with the
// finding counts. Severity points are capped so only an invalid score can
// push the result out of range.
func complianceSubScore(cf *domain.ComplianceFindings) (float64, error) {
	if cf.Score < 0 || cf.Score > 1 {
		return 0, fmt.Errorf("%w: compliance score %v outside [0,1]", domain.ErrScoreComputation, cf.Score)
	}
	sub := (1 - cf.Score) * 40
	if !cf.Compliant() {
		sub += 20
	}
	points := 0.0
	for _, v := range cf.Violations {
		if v.Severity == domain.SeverityHigh {
			points += 15
		} else {
			points += 5
		}
	}
	points += 2 * float64(len(cf.Warnings))
	if points > 40 {
		points = 40
	}
	sub += points
	if err := checkRange(domain.FactorCompliance, sub); err != nil {
		return 0, err
	}
	return sub, nil
}

// marketSubScore blends sector sentiment with the volatility index.
func marketSubScore(mc *domain.MarketContext) (float64, error) {
	var base float64
	switch mc.Sentiment {
	case "bearish":
		base = 70
	case "neutral":
		base = 50
	case "bullish":
		base = 30
	default:
		return 0, fmt.Errorf("%w: unknown sentiment %q", domain.ErrScoreComputation, mc.Sentiment)
	}
	sub := 0.7*base + 0.3*mc.VolatilityIndex
	if err := checkRange(domain.FactorMarket, sub); err != nil {
		return 0, err
	}
	return sub, nil
}

// redistribute rescales the configured weights of the available factors so
// they sum to 1 again, per the configured fallback rule: proportionally,
// preserving their ratios, or equally, splitting the missing weight evenly.
func (s *Scorer) redistribute(factors []domain.RiskFactor) {
	total := 0.0
	for i := range factors {
		total += factors[i].Weight
	}
	if total <= 0 {
		return
	}

	switch s.missingRule {
	case config.MissingFactorEqual:
		share := (1 - total) / float64(len(factors))
		for i := range factors {
			factors[i].Weight += share
		}
	default:
		for i := range factors {
			factors[i].Weight /= total
		}
	}
}

func checkRange(name string, sub float64) error {
	if sub < 0 || sub > 100 {
		return fmt.Errorf("%w: %s sub-score %v outside [0,100]", domain.ErrScoreComputation, name, sub)
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Reasoner is the slice of the reasoning client the adjuster needs.
type Reasoner interface {
	Reason(ctx context.Context, spec reasoning.PromptSpec, expectedSchema string) (json.RawMessage, error)
}

// ReasoningAdjuster obtains the qualitative adjustment from the reasoning
// service, validated against the adjustment schema.
type ReasoningAdjuster struct {
	reasoner Reasoner
}

func NewReasoningAdjuster(r Reasoner) *ReasoningAdjuster {
	return &ReasoningAdjuster{reasoner: r}
}

func (a *ReasoningAdjuster) ProposeAdjustment(ctx context.Context, rec *domain.AnalysisRecord, score float64) (*domain.RiskAdjustment, error) {
	raw, err := a.reasoner.Reason(ctx, reasoning.PromptSpec{
		Task: "Review the aggregated analysis and propose a bounded adjustment " +
			"to the computed risk score, with a short rationale.",
		Context: map[string]any{
			"record":         rec,
			"computed_score": score,
		},
	}, schema.RiskAdjustmentSchema)
	if err != nil {
		return nil, err
	}
	var adj domain.RiskAdjustment
	if err := json.Unmarshal(raw, &adj); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedReasoningResponse, err)
	}
	return &adj, nil
}
