// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"HTTP_ADDR", "ENV", "DATABASE_URL", "ADMIN_TOKEN",
		"DOCUMENT_SERVICE_URL", "COMPLIANCE_SERVICE_URL", "MARKET_SERVICE_URL",
		"REPORTING_SERVICE_URL", "REASONING_SERVICE_URL", "REASONING_API_KEY",
		"TOOL_TIMEOUT", "TOOL_MAX_RETRIES", "TOOL_RETRY_BASE_DELAY",
		"TOOL_RETRY_MAX_DELAY", "BREAKER_FAILURE_THRESHOLD", "BREAKER_COOLDOWN",
		"STAGE_CONCURRENCY", "STAGE_MAX_ATTEMPTS", "QUALITY_MAX_RERUNS",
		"RISK_ADJUSTMENT_ENABLED", "RISK_WEIGHT_FINANCIAL",
		"RISK_WEIGHT_COMPLIANCE", "RISK_WEIGHT_MARKET",
		"RISK_MISSING_FACTOR_RULE",
		"RUN_TTL", "ARCHIVE_TTL", "WEBHOOK_SECRET",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default HTTPAddr=:8080, got %s", cfg.HTTPAddr)
	}
	if cfg.Env != "dev" {
		t.Fatalf("expected default Env=dev, got %s", cfg.Env)
	}
	if cfg.DocumentServiceURL != "http://localhost:8001" {
		t.Fatalf("expected default document service URL, got %s", cfg.DocumentServiceURL)
	}
	if cfg.ToolTimeout != 30*time.Second {
		t.Fatalf("expected default ToolTimeout=30s, got %s", cfg.ToolTimeout)
	}
	if cfg.ToolMaxRetries != 3 {
		t.Fatalf("expected default ToolMaxRetries=3, got %d", cfg.ToolMaxRetries)
	}
	if cfg.BreakerThreshold != 5 {
		t.Fatalf("expected default BreakerThreshold=5, got %d", cfg.BreakerThreshold)
	}
	if cfg.StageConcurrency != 4 {
		t.Fatalf("expected default StageConcurrency=4, got %d", cfg.StageConcurrency)
	}
	if cfg.QualityMaxReruns != 1 {
		t.Fatalf("expected default QualityMaxReruns=1, got %d", cfg.QualityMaxReruns)
	}
	if !cfg.AdjustmentEnabled {
		t.Fatal("expected default AdjustmentEnabled=true")
	}
	if cfg.RiskWeights.Financial != 0.40 ||
		cfg.RiskWeights.Compliance != 0.35 ||
		cfg.RiskWeights.Market != 0.25 {
		t.Fatalf("unexpected default risk weights: %+v", cfg.RiskWeights)
	}
	if cfg.MissingFactorRule != MissingFactorProportional {
		t.Fatalf("expected default MissingFactorRule=proportional, got %s", cfg.MissingFactorRule)
	}
}

func TestLoadRespectsEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("ENV", "prod")
	t.Setenv("MARKET_SERVICE_URL", "http://market.internal:9003")
	t.Setenv("TOOL_TIMEOUT", "5s")
	t.Setenv("TOOL_MAX_RETRIES", "7")
	t.Setenv("STAGE_CONCURRENCY", "2")
	t.Setenv("RISK_ADJUSTMENT_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected HTTP_ADDR override, got %s", cfg.HTTPAddr)
	}
	if cfg.Env != "prod" {
		t.Fatalf("expected ENV override, got %s", cfg.Env)
	}
	if cfg.MarketServiceURL != "http://market.internal:9003" {
		t.Fatalf("expected MARKET_SERVICE_URL override, got %s", cfg.MarketServiceURL)
	}
	if cfg.ToolTimeout != 5*time.Second {
		t.Fatalf("expected ToolTimeout=5s, got %s", cfg.ToolTimeout)
	}
	if cfg.ToolMaxRetries != 7 {
		t.Fatalf("expected ToolMaxRetries=7, got %d", cfg.ToolMaxRetries)
	}
	if cfg.StageConcurrency != 2 {
		t.Fatalf("expected StageConcurrency=2, got %d", cfg.StageConcurrency)
	}
	if cfg.AdjustmentEnabled {
		t.Fatal("expected AdjustmentEnabled override to false")
	}
}

func TestLoadRejectsBadWeights(t *testing.T) {
	clearEnv(t)
	t.Setenv("RISK_WEIGHT_FINANCIAL", "0.5")
	t.Setenv("RISK_WEIGHT_COMPLIANCE", "0.5")
	t.Setenv("RISK_WEIGHT_MARKET", "0.5")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to reject weights summing to 1.5")
	}
}

func TestLoadRejectsUnknownMissingFactorRule(t *testing.T) {
	clearEnv(t)
	t.Setenv("RISK_MISSING_FACTOR_RULE", "weighted-random")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to reject unknown missing-factor rule")
	}
}

func TestRiskWeightsValidate(t *testing.T) {
	good := RiskWeights{Financial: 0.4, Compliance: 0.35, Market: 0.25}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid weights, got %v", err)
	}

	withinTolerance := RiskWeights{Financial: 0.4, Compliance: 0.35, Market: 0.2501}
	if err := withinTolerance.Validate(); err != nil {
		t.Fatalf("expected weights within tolerance to pass, got %v", err)
	}

	under := RiskWeights{Financial: 0.3, Compliance: 0.3, Market: 0.3}
	if err := under.Validate(); err == nil {
		t.Fatal("expected weights summing to 0.9 to be rejected")
	}

	negative := RiskWeights{Financial: 1.2, Compliance: -0.1, Market: -0.1}
	if err := negative.Validate(); err == nil {
		t.Fatal("expected negative weight to be rejected")
	}
}

func TestGetenvHelpers(t *testing.T) {
	t.Setenv("EXAMPLE_KEY", "value")
	if got := getenv("EXAMPLE_KEY", "fallback"); got != "value" {
		t.Fatalf("expected env value, got %s", got)
	}
	t.Setenv("EXAMPLE_KEY", "")
	if got := getenv("EXAMPLE_KEY", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback value, got %s", got)
	}

	t.Setenv("INT_KEY", "12")
	if got := getenvInt("INT_KEY", 3); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
	t.Setenv("INT_KEY", "not-a-number")
	if got := getenvInt("INT_KEY", 3); got != 3 {
		t.Fatalf("expected fallback 3, got %d", got)
	}

	t.Setenv("FLOAT_KEY", "0.75")
	if got := getenvFloat("FLOAT_KEY", 0.1); got != 0.75 {
		t.Fatalf("expected 0.75, got %f", got)
	}

	t.Setenv("DUR_KEY", "1500ms")
	if got := getenvDuration("DUR_KEY", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %s", got)
	}
	t.Setenv("DUR_KEY", "garbage")
	if got := getenvDuration("DUR_KEY", time.Second); got != time.Second {
		t.Fatalf("expected fallback 1s, got %s", got)
	}

	t.Setenv("BOOL_KEY", "0")
	if got := getenvBool("BOOL_KEY", true); got {
		t.Fatal("expected false value")
	}
}
