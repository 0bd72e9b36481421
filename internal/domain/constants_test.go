// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"context"
	"errors"
	"testing"
)

func TestRunStatusConstants(t *testing.T) {
	if RunPending != "PENDING" {
		t.Fatalf("unexpected RunPending value: %s", RunPending)
	}
	if RunRunning != "RUNNING" {
		t.Fatalf("unexpected RunRunning value: %s", RunRunning)
	}
	if RunDegraded != "DEGRADED" {
		t.Fatalf("unexpected RunDegraded value: %s", RunDegraded)
	}
	if RunCompleted != "COMPLETED" {
		t.Fatalf("unexpected RunCompleted value: %s", RunCompleted)
	}
	if RunFailed != "FAILED" {
		t.Fatalf("unexpected RunFailed value: %s", RunFailed)
	}
	if RunCancelled != "CANCELLED" {
		t.Fatalf("unexpected RunCancelled value: %s", RunCancelled)
	}
}

func TestRunStatusTerminal(t *testing.T) {
	terminal := []RunStatus{RunDegraded, RunCompleted, RunFailed, RunCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []RunStatus{RunPending, RunRunning} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestStageConstants(t *testing.T) {
	if StageWaiting != "WAITING" {
		t.Fatalf("unexpected StageWaiting value: %s", StageWaiting)
	}
	if StageReady != "READY" {
		t.Fatalf("unexpected StageReady value: %s", StageReady)
	}
	if StageRunning != "RUNNING" {
		t.Fatalf("unexpected StageRunning value: %s", StageRunning)
	}
	if StageSucceeded != "SUCCEEDED" {
		t.Fatalf("unexpected StageSucceeded value: %s", StageSucceeded)
	}
	if StageFailed != "FAILED" {
		t.Fatalf("unexpected StageFailed value: %s", StageFailed)
	}
	if StageSkipped != "SKIPPED" {
		t.Fatalf("unexpected StageSkipped value: %s", StageSkipped)
	}

	if KindTool != "TOOL" {
		t.Fatalf("unexpected KindTool value: %s", KindTool)
	}
	if KindReasoning != "REASONING" {
		t.Fatalf("unexpected KindReasoning value: %s", KindReasoning)
	}
}

func TestCategoryForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  RiskCategory
	}{
		{0, RiskLow},
		{39.9, RiskLow},
		{40, RiskMedium},
		{69.9, RiskMedium},
		{70, RiskHigh},
		{100, RiskHigh},
	}
	for _, c := range cases {
		if got := CategoryForScore(c.score); got != c.want {
			t.Fatalf("CategoryForScore(%v) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestErrorKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrToolTimeout, KindToolTimeout},
		{ErrToolUnavailable, KindToolUnavailable},
		{ErrCircuitOpen, KindCircuitOpen},
		{ErrMalformedToolResponse, KindMalformedToolResponse},
		{ErrMalformedReasoningResponse, KindMalformedReasoningResponse},
		{ErrDependencyNotSatisfied, KindDependencyNotSatisfied},
		{ErrScoreComputation, KindScoreComputation},
		{context.Canceled, KindCancelled},
		{errors.New("something else"), ""},
		{nil, ""},
	}
	for _, c := range cases {
		if got := ErrorKind(c.err); got != c.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestHighSeverityCount(t *testing.T) {
	findings := ComplianceFindings{
		Status: "non_compliant",
		Violations: []Finding{
			{Framework: "SOX", Rule: "internal-controls", Severity: SeverityHigh},
			{Framework: "GAAP", Rule: "rev-rec", Severity: SeverityMedium},
			{Framework: "SEC", Rule: "disclosure", Severity: SeverityHigh},
		},
	}
	if got := findings.HighSeverityCount(); got != 2 {
		t.Fatalf("expected 2 high severity violations, got %d", got)
	}
	if findings.Compliant() {
		t.Fatal("expected non_compliant findings to report Compliant()=false")
	}
}
