// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/finalyze/analysis-runtime/internal/domain"
	"github.com/finalyze/analysis-runtime/internal/metrics"
)

// StageExecutor runs one attempt of one stage.
type StageExecutor interface {
	Execute(ctx context.Context, def StageDef, req domain.AnalysisRequest, states map[string]*domain.StageState) (json.RawMessage, error)
}

// Orchestrator drives the stage graph of a single run. All mutations of the
// run's stage map happen on the Drive goroutine under the caller's lock;
// stage attempts run on worker goroutines against frozen dependency views.
type Orchestrator struct {
	exec        StageExecutor
	stages      []StageDef
	concurrency int64
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

type OrchestratorDeps struct {
	Executor    StageExecutor
	Stages      []StageDef
	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Concurrency <= 0 {
		deps.Concurrency = 4
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 1
	}
	if deps.RetryDelay <= 0 {
		deps.RetryDelay = 500 * time.Millisecond
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		exec:        deps.Executor,
		stages:      deps.Stages,
		concurrency: int64(deps.Concurrency),
		maxAttempts: deps.MaxAttempts,
		retryDelay:  deps.RetryDelay,
		logger:      deps.Logger,
	}
}

type stageResult struct {
	name     string
	output   json.RawMessage
	attempts int
	err      error
}

type launchSpec struct {
	def  StageDef
	view map[string]*domain.StageState
}

// Drive executes the run's stages until every stage reaches a terminal stage
// status. It seeds missing StageState entries, launches runnable stages up to
// the concurrency limit, and skips stages whose required dependencies failed.
// Cancelling ctx aborts in-flight attempts and stops scheduling; stages that
// never started are marked skipped. mu guards the run for concurrent readers.
func (o *Orchestrator) Drive(ctx context.Context, run *domain.PipelineRun, mu sync.Locker) {
	mu.Lock()
	if run.Stages == nil {
		run.Stages = make(map[string]*domain.StageState, len(o.stages))
	}
	for _, def := range o.stages {
		if _, ok := run.Stages[def.Name]; !ok {
			run.Stages[def.Name] = &domain.StageState{
				Name:   def.Name,
				Kind:   def.Kind,
				Status: domain.StageWaiting,
			}
		}
	}
	mu.Unlock()

	sem := semaphore.NewWeighted(o.concurrency)
	// Workers release the semaphore before sending, and the channel has room
	// for every stage, so sends never block on the drive loop.
	results := make(chan stageResult, len(o.stages))
	inFlight := 0

	for {
		inFlight += o.schedule(ctx, run, mu, sem, results)
		if inFlight == 0 {
			break
		}
		res := <-results
		inFlight--
		o.apply(run, mu, res)
	}

	// Stages still waiting after scheduling stopped (cancellation) never ran.
	mu.Lock()
	for _, st := range run.Stages {
		if st.Status == domain.StageWaiting || st.Status == domain.StageReady {
			st.Status = domain.StageSkipped
			st.FinishedAt = time.Now().UTC()
			metrics.IncStageStatus(string(domain.StageSkipped))
		}
	}
	mu.Unlock()
}

// schedule runs skip/launch passes until the graph is stable, returning the
// number of stage goroutines started.
func (o *Orchestrator) schedule(ctx context.Context, run *domain.PipelineRun, mu sync.Locker, sem *semaphore.Weighted, results chan<- stageResult) int {
	launched := 0
	for {
		var runnable []launchSpec
		progressed := false

		mu.Lock()
		req := run.Request
		for _, def := range o.stages {
			st := run.Stages[def.Name]
			if st.Status != domain.StageWaiting {
				continue
			}
			switch depsDisposition(def, run.Stages) {
			case depsDead:
				st.Status = domain.StageSkipped
				st.FinishedAt = time.Now().UTC()
				metrics.IncStageStatus(string(domain.StageSkipped))
				o.logger.Info("stage skipped", "stage", def.Name)
				progressed = true
			case depsReady:
				if ctx.Err() != nil {
					continue
				}
				st.Status = domain.StageRunning
				st.StartedAt = time.Now().UTC()
				runnable = append(runnable, launchSpec{def: def, view: freezeDeps(def, run.Stages)})
				progressed = true
			}
		}
		mu.Unlock()

		for _, spec := range runnable {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Cancelled while waiting for a slot; hand the stage back so
				// the final pass marks it skipped.
				mu.Lock()
				run.Stages[spec.def.Name].Status = domain.StageWaiting
				mu.Unlock()
				continue
			}
			launched++
			go func(spec launchSpec) {
				res := o.runStage(ctx, spec.def, req, spec.view)
				sem.Release(1)
				results <- res
			}(spec)
		}

		if !progressed {
			return launched
		}
	}
}

// runStage performs up to maxAttempts attempts of one stage with exponential
// backoff between them. Context cancellation and unsatisfied dependencies are
// not retried.
func (o *Orchestrator) runStage(ctx context.Context, def StageDef, req domain.AnalysisRequest, view map[string]*domain.StageState) stageResult {
	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		out, err := o.exec.Execute(ctx, def, req, view)
		if err == nil {
			return stageResult{name: def.Name, output: out, attempts: attempt}
		}
		lastErr = err
		o.logger.Warn("stage attempt failed",
			"stage", def.Name,
			"attempt", attempt,
			"error_kind", domain.ErrorKind(err),
			"error", err,
		)
		if !stageRetryable(err) || attempt == o.maxAttempts {
			return stageResult{name: def.Name, attempts: attempt, err: err}
		}

		metrics.IncStageRetries()
		delay := o.retryDelay << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return stageResult{name: def.Name, attempts: attempt, err: ctx.Err()}
		case <-timer.C:
		}
	}
	return stageResult{name: def.Name, attempts: o.maxAttempts, err: lastErr}
}

// apply writes a stage outcome back into the run under the caller's lock.
func (o *Orchestrator) apply(run *domain.PipelineRun, mu sync.Locker, res stageResult) {
	mu.Lock()
	defer mu.Unlock()

	st := run.Stages[res.name]
	st.Attempts = res.attempts
	st.FinishedAt = time.Now().UTC()
	if res.err != nil {
		st.Status = domain.StageFailed
		st.LastError = res.err.Error()
		st.ErrorKind = domain.ErrorKind(res.err)
		metrics.IncStageStatus(string(domain.StageFailed))
		return
	}
	st.Status = domain.StageSucceeded
	st.Output = res.output
	metrics.IncStageStatus(string(domain.StageSucceeded))
}

type depsState int

const (
	depsPending depsState = iota
	depsReady
	depsDead
)

// depsDisposition reports whether a waiting stage can run, must keep waiting,
// or can never run because a dependency failed or was skipped.
func depsDisposition(def StageDef, states map[string]*domain.StageState) depsState {
	disposition := depsReady
	for _, name := range def.DependsOn {
		dep, ok := states[name]
		if !ok {
			return depsDead
		}
		switch dep.Status {
		case domain.StageSucceeded:
		case domain.StageFailed, domain.StageSkipped:
			return depsDead
		default:
			disposition = depsPending
		}
	}
	return disposition
}

// freezeDeps copies the dependency states a stage attempt will read so the
// worker never touches the live map outside the lock.
func freezeDeps(def StageDef, states map[string]*domain.StageState) map[string]*domain.StageState {
	view := make(map[string]*domain.StageState, len(def.DependsOn))
	for _, name := range def.DependsOn {
		if st, ok := states[name]; ok {
			frozen := *st
			view[name] = &frozen
		}
	}
	return view
}

func stageRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, domain.ErrDependencyNotSatisfied)
}
