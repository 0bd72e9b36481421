// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"context"
	"errors"
)

// Fault taxonomy shared across the tool client, the stage executor and the
// orchestrator. Compliance findings and consistency violations are business
// results inside the record, never error values.
var (
	ErrToolUnavailable            = errors.New("tool unavailable")
	ErrToolTimeout                = errors.New("tool timeout")
	ErrCircuitOpen                = errors.New("circuit open")
	ErrMalformedToolResponse      = errors.New("malformed tool response")
	ErrMalformedReasoningResponse = errors.New("malformed reasoning response")
	ErrDependencyNotSatisfied     = errors.New("dependency not satisfied")
	ErrScoreComputation           = errors.New("score computation error")
	ErrRunNotFound                = errors.New("run not found")
	ErrRunNotTerminal             = errors.New("run not terminal")
	ErrRunTerminal                = errors.New("run already terminal")
)

// Wire-level error kinds carried in ToolError.Kind and StageRecord.ErrorKind.
const (
	KindToolUnavailable            = "tool_unavailable"
	KindToolTimeout                = "tool_timeout"
	KindCircuitOpen                = "circuit_open"
	KindMalformedToolResponse      = "malformed_tool_response"
	KindMalformedReasoningResponse = "malformed_reasoning_response"
	KindDependencyNotSatisfied     = "dependency_not_satisfied"
	KindScoreComputation           = "score_computation"
	KindCancelled                  = "cancelled"
)

// ErrorKind maps a fault onto its wire kind. Unrecognized errors report an
// empty kind; callers keep the message either way.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrToolTimeout):
		return KindToolTimeout
	case errors.Is(err, ErrToolUnavailable):
		return KindToolUnavailable
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrMalformedToolResponse):
		return KindMalformedToolResponse
	case errors.Is(err, ErrMalformedReasoningResponse):
		return KindMalformedReasoningResponse
	case errors.Is(err, ErrDependencyNotSatisfied):
		return KindDependencyNotSatisfied
	case errors.Is(err, ErrScoreComputation):
		return KindScoreComputation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	}
	return ""
}
