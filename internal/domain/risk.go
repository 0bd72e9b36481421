// SPDX-License-Identifier: Apache-2.0

package domain

type RiskCategory string

const (
	RiskLow    RiskCategory = "LOW"
	RiskMedium RiskCategory = "MEDIUM"
	RiskHigh   RiskCategory = "HIGH"
)

// Category thresholds on the 0-100 score. Fixed, not configuration.
const (
	riskMediumFloor = 40.0
	riskHighFloor   = 70.0
)

// CategoryForScore maps a 0-100 score onto its risk band.
func CategoryForScore(score float64) RiskCategory {
	switch {
	case score >= riskHighFloor:
		return RiskHigh
	case score >= riskMediumFloor:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Factor names as they appear in RiskFactor.Name. Shared by the scorer that
// emits them and the quality reviewer that inspects them.
const (
	FactorFinancial  = "financial"
	FactorCompliance = "compliance"
	FactorMarket     = "market"
)

// RiskFactor is one weighted contributor to the final score. SubScore is
// normalized to [0,100] before weighting.
type RiskFactor struct {
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
	SubScore float64 `json:"sub_score"`
}

// RiskAdjustment is the bounded qualitative correction obtained from the
// reasoning service.
type RiskAdjustment struct {
	Delta     int    `json:"delta"`
	Rationale string `json:"rationale,omitempty"`
}

// RiskAssessment is the scored outcome. Factor weights sum to 1.0 within
// tolerance, enforced at configuration load.
type RiskAssessment struct {
	Score      float64         `json:"score"`
	Category   RiskCategory    `json:"category"`
	Factors    []RiskFactor    `json:"factors"`
	Adjustment *RiskAdjustment `json:"adjustment,omitempty"`
}
