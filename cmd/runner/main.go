// SPDX-License-Identifier: Apache-2.0

// Command runner executes a single analysis in-process and prints the
// resulting record as JSON. It is the operational smoke test for a deployed
// set of tool services: no HTTP API, no database, just the pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/finalyze/analysis-runtime/internal/config"
	"github.com/finalyze/analysis-runtime/internal/domain"
	"github.com/finalyze/analysis-runtime/internal/logging"
	"github.com/finalyze/analysis-runtime/internal/pipeline"
	"github.com/finalyze/analysis-runtime/internal/reasoning"
	"github.com/finalyze/analysis-runtime/internal/registry"
	"github.com/finalyze/analysis-runtime/internal/risk"
	"github.com/finalyze/analysis-runtime/internal/schema"
	"github.com/finalyze/analysis-runtime/internal/toolclient"
)

func main() {
	var (
		documentRef = flag.String("document", "", "document reference to analyze (required)")
		companyName = flag.String("company", "", "company name (required)")
		companyID   = flag.String("company-id", "", "internal company identifier")
		sector      = flag.String("sector", "", "company sector")
		tickers     = flag.String("tickers", "", "comma-separated ticker symbols")
		timeout     = flag.Duration("timeout", 5*time.Minute, "overall run deadline")
		skipHealth  = flag.Bool("skip-health", false, "skip the startup health probe of tool services")
	)
	flag.Parse()

	if *documentRef == "" || *companyName == "" {
		fmt.Fprintln(os.Stderr, "usage: runner -document <ref> -company <name> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := logging.NewLogger(cfg.Env)

	reg, err := registry.FromConfig(cfg)
	if err != nil {
		log.Fatalf("service registry invalid: %v", err)
	}

	catalog, err := schema.Compile()
	if err != nil {
		log.Fatalf("schema compile failed: %v", err)
	}

	stages := pipeline.DefaultStages()
	if err := pipeline.ValidateStages(stages, catalog, reg); err != nil {
		log.Fatalf("stage graph invalid: %v", err)
	}

	tools := toolclient.New(toolclient.Deps{
		Registry: reg,
		Logger:   logger,
		Timeout:  cfg.ToolTimeout,
		Retry: toolclient.RetryPolicy{
			MaxAttempts: cfg.ToolMaxRetries,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		APIKeys: map[string]string{
			registry.ServiceReasoning: cfg.ReasoningAPIKey,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if !*skipHealth {
		probeServices(ctx, tools, reg, logger)
	}

	reasoner := reasoning.New(tools, logger)
	engine := pipeline.NewEngine(pipeline.EngineDeps{
		Orchestrator: pipeline.NewOrchestrator(pipeline.OrchestratorDeps{
			Executor:    pipeline.NewExecutor(tools, reasoner, catalog, logger),
			Stages:      stages,
			Concurrency: cfg.StageConcurrency,
			MaxAttempts: cfg.StageMaxAttempts,
			RetryDelay:  cfg.RetryBaseDelay,
			Logger:      logger,
		}),
		Tools:   tools,
		Schemas: catalog,
		Scorer: risk.NewScorer(risk.Deps{
			Weights:           cfg.RiskWeights,
			MissingFactorRule: cfg.MissingFactorRule,
			Adjuster:          risk.NewReasoningAdjuster(reasoner),
			AdjustmentEnabled: cfg.AdjustmentEnabled,
			Logger:            logger,
		}),
		Logger:    logger,
		MaxReruns: cfg.QualityMaxReruns,
		RunTTL:    cfg.RunTTL,
	})

	req := domain.AnalysisRequest{
		DocumentRef: *documentRef,
		Company: domain.CompanyInfo{
			Name:      *companyName,
			CompanyID: *companyID,
			Sector:    *sector,
			Tickers:   splitTickers(*tickers),
		},
	}

	id, err := engine.Submit(req)
	if err != nil {
		log.Fatalf("submit failed: %v", err)
	}
	logger.Info("run submitted", "run_id", id, "document_ref", *documentRef)

	if err := engine.Wait(id); err != nil {
		log.Fatalf("wait failed: %v", err)
	}

	snap, err := engine.Record(id)
	if err != nil {
		log.Fatalf("record fetch failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		log.Fatalf("encode failed: %v", err)
	}

	if snap.Status != domain.RunCompleted {
		os.Exit(1)
	}
}

// probeServices reports which registered services answer the health tool.
// An unhealthy service is a warning, not a hard failure: the pipeline
// degrades per stage.
func probeServices(ctx context.Context, tools *toolclient.Client, reg *registry.ServiceRegistry, logger *slog.Logger) {
	for _, svc := range reg.Services() {
		healthy, uptime := tools.HealthCheck(ctx, svc)
		if healthy {
			logger.Info("service healthy", "service", svc, "uptime", uptime)
		} else {
			logger.Warn("service unhealthy", "service", svc)
		}
	}
}

func splitTickers(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}
