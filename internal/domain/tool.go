// SPDX-License-Identifier: Apache-2.0

package domain

import "encoding/json"

const (
	ToolStatusOK    = "ok"
	ToolStatusError = "error"
)

// ToolRequest is the uniform request sent to every tool service.
type ToolRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	RequestID string         `json:"request_id"`
}

// ToolError carries the structured error half of a tool response.
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ToolResponse is the uniform response returned by every tool service.
// Data is kept raw; each stage validates it against its own output schema
// before the payload is trusted.
type ToolResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *ToolError      `json:"error,omitempty"`
}

func (r ToolResponse) OK() bool {
	return r.Status == ToolStatusOK
}
