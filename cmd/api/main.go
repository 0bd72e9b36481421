// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finalyze/analysis-runtime/internal/archive"
	"github.com/finalyze/analysis-runtime/internal/config"
	"github.com/finalyze/analysis-runtime/internal/logging"
	"github.com/finalyze/analysis-runtime/internal/persistence/postgres"
	"github.com/finalyze/analysis-runtime/internal/pipeline"
	"github.com/finalyze/analysis-runtime/internal/reasoning"
	"github.com/finalyze/analysis-runtime/internal/registry"
	"github.com/finalyze/analysis-runtime/internal/risk"
	"github.com/finalyze/analysis-runtime/internal/schema"
	"github.com/finalyze/analysis-runtime/internal/toolclient"
	httptransport "github.com/finalyze/analysis-runtime/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

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

	// The archive is optional; without a database the engine keeps runs in
	// memory until the TTL sweep drops them.
	var store *archive.Store
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer pool.Close()

		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema bootstrap failed: %v", err)
		}
		store = archive.NewStore(pool, logger)
	} else {
		logger.Warn("DATABASE_URL not set, archive disabled")
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

	reasoner := reasoning.New(tools, logger)
	executor := pipeline.NewExecutor(tools, reasoner, catalog, logger)
	orchestrator := pipeline.NewOrchestrator(pipeline.OrchestratorDeps{
		Executor:    executor,
		Stages:      stages,
		Concurrency: cfg.StageConcurrency,
		MaxAttempts: cfg.StageMaxAttempts,
		RetryDelay:  cfg.RetryBaseDelay,
		Logger:      logger,
	})

	scorer := risk.NewScorer(risk.Deps{
		Weights:           cfg.RiskWeights,
		MissingFactorRule: cfg.MissingFactorRule,
		Adjuster:          risk.NewReasoningAdjuster(reasoner),
		AdjustmentEnabled: cfg.AdjustmentEnabled,
		Logger:            logger,
	})

	engineDeps := pipeline.EngineDeps{
		Orchestrator: orchestrator,
		Tools:        tools,
		Schemas:      catalog,
		Scorer:       scorer,
		Notifier: pipeline.NewNotifier(pipeline.NotifierDeps{
			Secret: cfg.WebhookSecret,
			Logger: logger,
		}),
		Logger:    logger,
		MaxReruns: cfg.QualityMaxReruns,
		RunTTL:    cfg.RunTTL,
	}
	if store != nil {
		engineDeps.Store = store
	}
	engine := pipeline.NewEngine(engineDeps)

	// Drop finished runs once their TTL elapses.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if released := engine.Sweep(now); released > 0 {
					logger.Info("run sweep", "released", released)
				}
			}
		}
	}()

	routerDeps := httptransport.Deps{
		Runs:       engine,
		Tools:      tools,
		Logger:     logger,
		AdminToken: cfg.AdminToken,
		ArchiveTTL: cfg.ArchiveTTL,
		Version:    Version,
		Commit:     Commit,
		BuildDate:  BuildDate,
	}
	if store != nil {
		routerDeps.Archive = store
	}
	handler := httptransport.NewRouter(routerDeps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
