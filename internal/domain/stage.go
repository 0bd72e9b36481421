// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"
)

type StageStatus string
type StageKind string

const (
	StageWaiting   StageStatus = "WAITING"
	StageReady     StageStatus = "READY"
	StageRunning   StageStatus = "RUNNING"
	StageSucceeded StageStatus = "SUCCEEDED"
	StageFailed    StageStatus = "FAILED"
	StageSkipped   StageStatus = "SKIPPED"
)

const (
	KindTool      StageKind = "TOOL"
	KindReasoning StageKind = "REASONING"
)

// Canonical stage names of the analysis pipeline.
const (
	StageExtract           = "extract"
	StageFinancialAnalysis = "financial_analysis"
	StageCompliance        = "compliance"
	StageMarket            = "market"
)

// StageState tracks one stage within a run. It is written only by the
// orchestration loop; executors return results instead of mutating it.
type StageState struct {
	Name       string
	Kind       StageKind
	Status     StageStatus
	Attempts   int
	LastError  string
	ErrorKind  string
	Output     json.RawMessage
	StartedAt  time.Time
	FinishedAt time.Time
}

// StageRecord is the caller-facing summary of one stage outcome.
type StageRecord struct {
	Name      string      `json:"name"`
	Status    StageStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Error     string      `json:"error,omitempty"`
}
