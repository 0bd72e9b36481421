// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// Severity levels used by compliance findings.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

type IncomeStatement struct {
	Revenue           float64 `json:"revenue"`
	CostOfGoods       float64 `json:"cost_of_goods"`
	GrossProfit       float64 `json:"gross_profit"`
	OperatingExpenses float64 `json:"operating_expenses"`
	OperatingIncome   float64 `json:"operating_income"`
	NetIncome         float64 `json:"net_income"`
}

type BalanceSheet struct {
	Assets      float64 `json:"assets"`
	Liabilities float64 `json:"liabilities"`
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	Receivables float64 `json:"receivables"`
	Inventory   float64 `json:"inventory"`
}

// FinancialDataset is the structured output of the document extraction stage.
type FinancialDataset struct {
	Income      IncomeStatement `json:"income"`
	Balance     BalanceSheet    `json:"balance"`
	Disclosures []string        `json:"disclosures,omitempty"`
	Confidence  float64         `json:"confidence"`
}

// FinancialAnalysis holds the ratio set produced by the reasoning-backed
// analysis stage.
type FinancialAnalysis struct {
	NetMargin      float64 `json:"net_margin"`
	ReturnOnAssets float64 `json:"return_on_assets"`
	ReturnOnEquity float64 `json:"return_on_equity"`
	CurrentRatio   float64 `json:"current_ratio"`
	DebtToEquity   float64 `json:"debt_to_equity"`
	Commentary     string  `json:"commentary,omitempty"`
}

// Finding is a single compliance violation or warning.
type Finding struct {
	Framework   string `json:"framework"`
	Rule        string `json:"rule"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

type ComplianceFindings struct {
	Status            string    `json:"status"`
	Violations        []Finding `json:"violations"`
	Warnings          []Finding `json:"warnings"`
	Score             float64   `json:"score"`
	FrameworksChecked []string  `json:"frameworks_checked,omitempty"`
}

func (c ComplianceFindings) Compliant() bool {
	return c.Status == "compliant"
}

// HighSeverityCount counts violations with severity=high.
func (c ComplianceFindings) HighSeverityCount() int {
	n := 0
	for _, v := range c.Violations {
		if v.Severity == SeverityHigh {
			n++
		}
	}
	return n
}

type MarketContext struct {
	Sector          string    `json:"sector"`
	Sentiment       string    `json:"sentiment"`
	SectorAvgPE     float64   `json:"sector_avg_pe"`
	SectorGrowth    float64   `json:"sector_growth"`
	VolatilityIndex float64   `json:"volatility_index"`
	AsOf            time.Time `json:"as_of"`
}

// QualityVerdict is the output of the final consistency pass.
type QualityVerdict struct {
	Passed          bool     `json:"passed"`
	Confidence      float64  `json:"confidence"`
	Issues          []string `json:"issues,omitempty"`
	RerunsRequested []string `json:"reruns_requested,omitempty"`
	Inconsistency   string   `json:"inconsistency,omitempty"`
}

// ReportHandle points at a rendered report owned by the reporting service.
type ReportHandle struct {
	ReportID string `json:"report_id"`
	Format   string `json:"format"`
	URL      string `json:"url,omitempty"`
}

// AnalysisRecord is the aggregated view over all succeeded stage outputs.
// Every populated field corresponds to a stage that reported SUCCEEDED; a
// Degraded run lists the absent sections in Missing instead of filling in
// defaults.
type AnalysisRecord struct {
	Financials *FinancialDataset   `json:"financials,omitempty"`
	Analysis   *FinancialAnalysis  `json:"analysis,omitempty"`
	Compliance *ComplianceFindings `json:"compliance,omitempty"`
	Market     *MarketContext      `json:"market,omitempty"`
	Risk       *RiskAssessment     `json:"risk,omitempty"`
	Quality    *QualityVerdict     `json:"quality,omitempty"`
	Report     *ReportHandle       `json:"report,omitempty"`
	Missing    []string            `json:"missing,omitempty"`
}
