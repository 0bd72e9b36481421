// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// WeightTolerance bounds the accepted deviation of the risk weight sum from 1.0.
const WeightTolerance = 0.001

// Fallback rules for the weight of a risk factor whose section is missing.
const (
	MissingFactorProportional = "proportional"
	MissingFactorEqual        = "equal"
)

type RiskWeights struct {
	Financial  float64
	Compliance float64
	Market     float64
}

// Validate rejects weight sets that do not sum to 1.0 within tolerance or
// contain negative entries. This runs at load time so a bad configuration
// never reaches the scorer.
func (w RiskWeights) Validate() error {
	if w.Financial < 0 || w.Compliance < 0 || w.Market < 0 {
		return fmt.Errorf("risk weights must be non-negative: %+v", w)
	}
	sum := w.Financial + w.Compliance + w.Market
	if math.Abs(sum-1.0) > WeightTolerance {
		return fmt.Errorf("risk weights must sum to 1.0 (got %.4f)", sum)
	}
	return nil
}

type Config struct {
	HTTPAddr    string
	Env         string
	DatabaseURL string
	AdminToken  string

	// Per-service base addresses for the tool protocol.
	DocumentServiceURL   string
	ComplianceServiceURL string
	MarketServiceURL     string
	ReportingServiceURL  string
	ReasoningServiceURL  string
	ReasoningAPIKey      string

	// Tool invocation policy.
	ToolTimeout      time.Duration
	ToolMaxRetries   int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Orchestration policy.
	StageConcurrency  int
	StageMaxAttempts  int
	QualityMaxReruns  int
	AdjustmentEnabled bool

	RiskWeights RiskWeights
	// MissingFactorRule picks how the weight of an absent factor is spread
	// over the remaining ones.
	MissingFactorRule string

	// Lifecycle of finished-run bookkeeping.
	RunTTL     time.Duration
	ArchiveTTL time.Duration

	WebhookSecret string
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Env:         getenv("ENV", "dev"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		AdminToken:  getenv("ADMIN_TOKEN", ""),

		DocumentServiceURL:   getenv("DOCUMENT_SERVICE_URL", "http://localhost:8001"),
		ComplianceServiceURL: getenv("COMPLIANCE_SERVICE_URL", "http://localhost:8002"),
		MarketServiceURL:     getenv("MARKET_SERVICE_URL", "http://localhost:8003"),
		ReportingServiceURL:  getenv("REPORTING_SERVICE_URL", "http://localhost:8004"),
		ReasoningServiceURL:  getenv("REASONING_SERVICE_URL", "http://localhost:8010"),
		ReasoningAPIKey:      getenv("REASONING_API_KEY", ""),

		ToolTimeout:      getenvDuration("TOOL_TIMEOUT", 30*time.Second),
		ToolMaxRetries:   getenvInt("TOOL_MAX_RETRIES", 3),
		RetryBaseDelay:   getenvDuration("TOOL_RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:    getenvDuration("TOOL_RETRY_MAX_DELAY", 10*time.Second),
		BreakerThreshold: getenvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:  getenvDuration("BREAKER_COOLDOWN", 30*time.Second),

		StageConcurrency:  getenvInt("STAGE_CONCURRENCY", 4),
		StageMaxAttempts:  getenvInt("STAGE_MAX_ATTEMPTS", 3),
		QualityMaxReruns:  getenvInt("QUALITY_MAX_RERUNS", 1),
		AdjustmentEnabled: getenvBool("RISK_ADJUSTMENT_ENABLED", true),

		RiskWeights: RiskWeights{
			Financial:  getenvFloat("RISK_WEIGHT_FINANCIAL", 0.40),
			Compliance: getenvFloat("RISK_WEIGHT_COMPLIANCE", 0.35),
			Market:     getenvFloat("RISK_WEIGHT_MARKET", 0.25),
		},
		MissingFactorRule: getenv("RISK_MISSING_FACTOR_RULE", MissingFactorProportional),

		RunTTL:     getenvDuration("RUN_TTL", 1*time.Hour),
		ArchiveTTL: getenvDuration("ARCHIVE_TTL", 30*24*time.Hour),

		WebhookSecret: getenv("WEBHOOK_SECRET", ""),
	}

	if err := cfg.RiskWeights.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.StageConcurrency < 1 {
		return Config{}, fmt.Errorf("STAGE_CONCURRENCY must be >= 1 (got %d)", cfg.StageConcurrency)
	}
	if cfg.StageMaxAttempts < 1 {
		return Config{}, fmt.Errorf("STAGE_MAX_ATTEMPTS must be >= 1 (got %d)", cfg.StageMaxAttempts)
	}
	if cfg.QualityMaxReruns < 0 {
		return Config{}, fmt.Errorf("QUALITY_MAX_RERUNS must be >= 0 (got %d)", cfg.QualityMaxReruns)
	}
	switch cfg.MissingFactorRule {
	case MissingFactorProportional, MissingFactorEqual:
	default:
		return Config{}, fmt.Errorf("RISK_MISSING_FACTOR_RULE must be %q or %q (got %q)",
			MissingFactorProportional, MissingFactorEqual, cfg.MissingFactorRule)
	}

	return cfg, nil
}

func getenv(key, defaultValue string) string {
	v := os.Getenv(key)
	if v != "" {
		return v
	}
	return defaultValue
}

func getenvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getenvFloat(key string, defaultValue float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getenvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getenvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}
