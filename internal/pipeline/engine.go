// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finalyze/analysis-runtime/internal/aggregate"
	"github.com/finalyze/analysis-runtime/internal/domain"
	"github.com/finalyze/analysis-runtime/internal/metrics"
	"github.com/finalyze/analysis-runtime/internal/quality"
	"github.com/finalyze/analysis-runtime/internal/registry"
	"github.com/finalyze/analysis-runtime/internal/risk"
	"github.com/finalyze/analysis-runtime/internal/schema"
)

const reportTool = "generate_financial_report"

// ArchiveStore persists terminal run snapshots. A nil store keeps runs
// in memory only.
type ArchiveStore interface {
	SaveRun(ctx context.Context, snap domain.RunSnapshot) error
}

// Engine owns the lifecycle of every in-flight run: submission, execution,
// quality-gated reruns, report hand-off, archival and webhook delivery.
type Engine struct {
	orch      *Orchestrator
	tools     ToolInvoker
	schemas   *schema.Catalog
	scorer    *risk.Scorer
	notifier  *Notifier
	store     ArchiveStore
	logger    *slog.Logger
	maxReruns int
	runTTL    time.Duration

	mu   sync.Mutex
	runs map[uuid.UUID]*runHandle
}

type runHandle struct {
	mu     sync.Mutex
	run    *domain.PipelineRun
	cancel context.CancelFunc
	done   chan struct{}
}

type EngineDeps struct {
	Orchestrator *Orchestrator
	Tools        ToolInvoker
	Schemas      *schema.Catalog
	Scorer       *risk.Scorer
	Notifier     *Notifier
	Store        ArchiveStore
	Logger       *slog.Logger
	MaxReruns    int
	RunTTL       time.Duration
}

func NewEngine(deps EngineDeps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.RunTTL <= 0 {
		deps.RunTTL = time.Hour
	}
	return &Engine{
		orch:      deps.Orchestrator,
		tools:     deps.Tools,
		schemas:   deps.Schemas,
		scorer:    deps.Scorer,
		notifier:  deps.Notifier,
		store:     deps.Store,
		logger:    deps.Logger,
		maxReruns: deps.MaxReruns,
		runTTL:    deps.RunTTL,
		runs:      make(map[uuid.UUID]*runHandle),
	}
}

// Submit registers a run and starts executing it in the background. The
// returned id is immediately queryable.
func (e *Engine) Submit(req domain.AnalysisRequest) (uuid.UUID, error) {
	if req.DocumentRef == "" {
		return uuid.Nil, fmt.Errorf("document_ref is required")
	}
	if req.Company.Name == "" {
		return uuid.Nil, fmt.Errorf("company.name is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &runHandle{
		run: &domain.PipelineRun{
			ID:        uuid.New(),
			Request:   req,
			Status:    domain.RunPending,
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.runs[h.run.ID] = h
	e.mu.Unlock()

	go e.execute(ctx, h)
	return h.run.ID, nil
}

// Get returns a point-in-time view of the run.
func (e *Engine) Get(id uuid.UUID) (domain.RunSnapshot, error) {
	h, err := e.handle(id)
	if err != nil {
		return domain.RunSnapshot{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return snapshot(h.run), nil
}

// Record returns the final record of a terminal run and releases the run's
// in-memory bookkeeping; subsequent lookups go against the archive.
func (e *Engine) Record(id uuid.UUID) (domain.RunSnapshot, error) {
	h, err := e.handle(id)
	if err != nil {
		return domain.RunSnapshot{}, err
	}
	h.mu.Lock()
	if !h.run.Status.Terminal() {
		h.mu.Unlock()
		return domain.RunSnapshot{}, domain.ErrRunNotTerminal
	}
	snap := snapshot(h.run)
	h.mu.Unlock()

	e.mu.Lock()
	delete(e.runs, id)
	e.mu.Unlock()
	return snap, nil
}

// Cancel requests cancellation of a running run. In-flight stage attempts are
// aborted and unstarted stages are skipped.
func (e *Engine) Cancel(id uuid.UUID) error {
	h, err := e.handle(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	terminal := h.run.Status.Terminal()
	h.mu.Unlock()
	if terminal {
		return domain.ErrRunTerminal
	}
	h.cancel()
	return nil
}

// Sweep drops terminal runs whose TTL elapsed and returns how many were
// released. Archived copies are unaffected.
func (e *Engine) Sweep(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	released := 0
	for id, h := range e.runs {
		h.mu.Lock()
		expired := h.run.Status.Terminal() && !h.run.FinishedAt.IsZero() &&
			now.Sub(h.run.FinishedAt) > e.runTTL
		h.mu.Unlock()
		if expired {
			delete(e.runs, id)
			released++
		}
	}
	return released
}

// Wait blocks until the run's executor goroutine finished. Test hook.
func (e *Engine) Wait(id uuid.UUID) error {
	h, err := e.handle(id)
	if err != nil {
		return err
	}
	<-h.done
	return nil
}

func (e *Engine) handle(id uuid.UUID) (*runHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return h, nil
}

// execute drives a run to a terminal status: stage graph, aggregation, risk
// scoring, the quality gate with its bounded rerun budget, report hand-off,
// then archival and webhook delivery.
func (e *Engine) execute(ctx context.Context, h *runHandle) {
	defer close(h.done)

	h.mu.Lock()
	h.run.Status = domain.RunRunning
	h.run.StartedAt = time.Now().UTC()
	runID := h.run.ID
	webhookURL := h.run.Request.WebhookURL
	h.mu.Unlock()

	logger := e.logger.With("run_id", runID)

	var (
		rec      *domain.AnalysisRecord
		verdict  *domain.QualityVerdict
		fatalErr error
	)

	for rerun := 0; ; rerun++ {
		e.orch.Drive(ctx, h.run, &h.mu)

		h.mu.Lock()
		stages := h.run.Stages
		trail := h.run.Trail()
		h.mu.Unlock()

		rec, fatalErr = aggregate.Build(stages)
		if fatalErr != nil {
			logger.Error("aggregation failed", "error", fatalErr)
			break
		}

		// A scoring failure degrades the run rather than failing it: the
		// partial record survives with Risk unset and the quality verdict
		// carries the gap.
		assessment, err := e.scorer.Score(ctx, rec)
		if err != nil {
			logger.Error("risk scoring failed", "error_kind", domain.ErrorKind(err), "error", err)
		} else {
			rec.Risk = assessment
		}

		verdict = quality.Review(rec, trail)
		rec.Quality = verdict

		if verdict.Passed || len(verdict.RerunsRequested) == 0 ||
			rerun >= e.maxReruns || ctx.Err() != nil {
			break
		}
		logger.Info("quality gate requested reruns",
			"stages", verdict.RerunsRequested,
			"rerun", rerun+1,
		)
		e.resetStages(h, verdict.RerunsRequested)
	}

	h.mu.Lock()
	anchored := extractSucceeded(h.run.Stages)
	h.mu.Unlock()
	if rec != nil && fatalErr == nil && ctx.Err() == nil && anchored {
		e.generateReport(ctx, h, logger, rec)
	}

	e.finalize(ctx, h, logger, rec, fatalErr)

	h.mu.Lock()
	snap := snapshot(h.run)
	h.mu.Unlock()

	if e.store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.store.SaveRun(saveCtx, snap); err != nil {
			logger.Error("archive save failed", "error", err)
		}
		cancel()
	}
	if e.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		e.notifier.Notify(notifyCtx, snap, webhookURL)
		cancel()
	}
}

// resetStages rewinds the requested stages, and any stage skipped downstream
// of them, back to waiting so the next Drive pass reruns them.
func (e *Engine) resetStages(h *runHandle, names []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	requested := make(map[string]bool, len(names))
	for _, name := range names {
		requested[name] = true
	}
	for name, st := range h.run.Stages {
		if !requested[name] && st.Status != domain.StageSkipped {
			continue
		}
		if st.Status == domain.StageSucceeded {
			continue
		}
		st.Status = domain.StageWaiting
		st.Output = nil
		st.LastError = ""
		st.ErrorKind = ""
		st.StartedAt = time.Time{}
		st.FinishedAt = time.Time{}
	}
}

// generateReport hands the finished record to the reporting service. Report
// failures degrade the run but never fail it.
func (e *Engine) generateReport(ctx context.Context, h *runHandle, logger *slog.Logger, rec *domain.AnalysisRecord) {
	h.mu.Lock()
	company := h.run.Request.Company
	runID := h.run.ID
	h.mu.Unlock()

	resp, err := e.tools.Invoke(ctx, registry.ServiceReporting, reportTool, map[string]any{
		"run_id":  runID.String(),
		"company": company.Name,
		"record":  rec,
		"format":  "pdf",
	})
	if err != nil {
		logger.Warn("report generation failed", "error_kind", domain.ErrorKind(err), "error", err)
		return
	}
	if !resp.OK() || len(resp.Data) == 0 {
		logger.Warn("report generation rejected", "error", resp.Error)
		return
	}
	if err := e.schemas.Validate(schema.NameReport, resp.Data); err != nil {
		logger.Warn("report handle invalid", "error", err)
		return
	}
	var handle domain.ReportHandle
	if err := json.Unmarshal(resp.Data, &handle); err != nil {
		logger.Warn("report handle decode failed", "error", err)
		return
	}
	rec.Report = &handle
}

// finalize decides the terminal status. All stages succeeded with a scored,
// reported, quality-passed record is Completed; a run whose extraction
// succeeded still anchors a partial record and is Degraded; everything else
// is Failed. Cancellation wins over all of these.
func (e *Engine) finalize(ctx context.Context, h *runHandle, logger *slog.Logger, rec *domain.AnalysisRecord, fatalErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	run := h.run
	run.Record = rec
	run.FinishedAt = time.Now().UTC()

	switch {
	case ctx.Err() != nil:
		run.Status = domain.RunCancelled
	case fatalErr != nil:
		run.Status = domain.RunFailed
	case allSucceeded(run.Stages) && rec != nil && rec.Risk != nil &&
		rec.Report != nil && rec.Quality != nil && rec.Quality.Passed:
		run.Status = domain.RunCompleted
	case extractSucceeded(run.Stages):
		run.Status = domain.RunDegraded
	default:
		run.Status = domain.RunFailed
	}

	metrics.IncRunStatus(string(run.Status))
	logger.Info("run finished",
		"status", run.Status,
		"duration", run.FinishedAt.Sub(run.StartedAt),
	)
}

func allSucceeded(stages map[string]*domain.StageState) bool {
	for _, st := range stages {
		if st.Status != domain.StageSucceeded {
			return false
		}
	}
	return len(stages) > 0
}

func extractSucceeded(stages map[string]*domain.StageState) bool {
	st, ok := stages[domain.StageExtract]
	return ok && st.Status == domain.StageSucceeded
}

// snapshot builds the caller-facing view. The record is withheld until the
// run is terminal.
func snapshot(run *domain.PipelineRun) domain.RunSnapshot {
	snap := domain.RunSnapshot{
		RunID:     run.ID,
		Status:    run.Status,
		Company:   run.Request.Company.Name,
		Stages:    run.Trail(),
		CreatedAt: run.CreatedAt,
	}
	if run.Status.Terminal() {
		snap.Record = run.Record
		if !run.FinishedAt.IsZero() {
			finished := run.FinishedAt
			snap.FinishedAt = &finished
		}
	}
	return snap
}
