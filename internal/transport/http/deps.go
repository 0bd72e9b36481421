// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/finalyze/analysis-runtime/internal/archive"
	"github.com/finalyze/analysis-runtime/internal/domain"
)

// RunService is the engine surface the API exposes.
type RunService interface {
	Submit(req domain.AnalysisRequest) (uuid.UUID, error)
	Get(id uuid.UUID) (domain.RunSnapshot, error)
	Record(id uuid.UUID) (domain.RunSnapshot, error)
	Cancel(id uuid.UUID) error
}

// ToolInvoker covers the report listing pass-through.
type ToolInvoker interface {
	Invoke(ctx context.Context, service, toolName string, args map[string]any) (domain.ToolResponse, error)
}

// Archive is the optional finished-run store behind record lookups, report
// listing fallback and the admin purge.
type Archive interface {
	GetRun(ctx context.Context, id uuid.UUID) (domain.RunSnapshot, error)
	ListReports(ctx context.Context, limit int) ([]archive.ReportSummary, error)
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}
