// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunDegraded  RunStatus = "DEGRADED"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether a run in this status can no longer change.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunDegraded, RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// CompanyInfo identifies the company under analysis.
type CompanyInfo struct {
	Name      string   `json:"name"`
	CompanyID string   `json:"company_id"`
	Sector    string   `json:"sector"`
	Tickers   []string `json:"tickers,omitempty"`
}

// AnalysisRequest is the immutable input of one pipeline run.
type AnalysisRequest struct {
	DocumentRef string      `json:"document_ref"`
	Company     CompanyInfo `json:"company"`
	WebhookURL  string      `json:"webhook_url,omitempty"`
}

// PipelineRun is the bookkeeping record of one execution. It is owned
// exclusively by the orchestration engine for the run's lifetime; everything
// handed out to callers is a snapshot.
type PipelineRun struct {
	ID         uuid.UUID
	Request    AnalysisRequest
	Status     RunStatus
	Stages     map[string]*StageState
	Record     *AnalysisRecord
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Trail returns the per-stage outcome summary reported to callers on both
// Failed and Degraded runs.
func (r *PipelineRun) Trail() []StageRecord {
	trail := make([]StageRecord, 0, len(r.Stages))
	for _, st := range r.Stages {
		trail = append(trail, StageRecord{
			Name:      st.Name,
			Status:    st.Status,
			Attempts:  st.Attempts,
			ErrorKind: st.ErrorKind,
			Error:     st.LastError,
		})
	}
	sort.Slice(trail, func(i, j int) bool { return trail[i].Name < trail[j].Name })
	return trail
}

// RunSnapshot is the read-only view of a run returned over the API.
type RunSnapshot struct {
	RunID      uuid.UUID       `json:"run_id"`
	Status     RunStatus       `json:"status"`
	Company    string          `json:"company"`
	Stages     []StageRecord   `json:"stages"`
	Record     *AnalysisRecord `json:"record,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
