// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/finalyze/analysis-runtime/internal/archive"
	"github.com/finalyze/analysis-runtime/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockRunService struct {
	submitID     uuid.UUID
	submitErr    error
	submitCalled bool
	lastRequest  domain.AnalysisRequest

	snapshots map[uuid.UUID]domain.RunSnapshot
	recordErr error
	cancelErr error
}

func (m *mockRunService) Submit(req domain.AnalysisRequest) (uuid.UUID, error) {
	m.submitCalled = true
	m.lastRequest = req
	return m.submitID, m.submitErr
}

func (m *mockRunService) Get(id uuid.UUID) (domain.RunSnapshot, error) {
	snap, ok := m.snapshots[id]
	if !ok {
		return domain.RunSnapshot{}, domain.ErrRunNotFound
	}
	return snap, nil
}

func (m *mockRunService) Record(id uuid.UUID) (domain.RunSnapshot, error) {
	if m.recordErr != nil {
		return domain.RunSnapshot{}, m.recordErr
	}
	return m.Get(id)
}

func (m *mockRunService) Cancel(uuid.UUID) error { return m.cancelErr }

type mockToolInvoker struct {
	resp domain.ToolResponse
	err  error
}

func (m *mockToolInvoker) Invoke(context.Context, string, string, map[string]any) (domain.ToolResponse, error) {
	return m.resp, m.err
}

type mockArchive struct {
	snapshots map[uuid.UUID]domain.RunSnapshot
	reports   []archive.ReportSummary
	purged    int64
	purgedFor time.Duration
}

func (m *mockArchive) GetRun(_ context.Context, id uuid.UUID) (domain.RunSnapshot, error) {
	snap, ok := m.snapshots[id]
	if !ok {
		return domain.RunSnapshot{}, domain.ErrRunNotFound
	}
	return snap, nil
}

func (m *mockArchive) ListReports(context.Context, int) ([]archive.ReportSummary, error) {
	return m.reports, nil
}

func (m *mockArchive) Purge(_ context.Context, olderThan time.Duration) (int64, error) {
	m.purgedFor = olderThan
	return m.purged, nil
}

func submitBody(t *testing.T) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(submitRunRequest{
		DocumentRef: "s3://filings/acme-10k.pdf",
		Company: domain.CompanyInfo{
			Name:      "Acme Corp",
			CompanyID: "acme",
			Sector:    "technology",
		},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(body)
}

func TestRouter_SubmitRun(t *testing.T) {
	runID := uuid.New()
	runs := &mockRunService{submitID: runID}
	router := NewRouter(Deps{Runs: runs, Tools: &mockToolInvoker{}, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodPost, "/runs", submitBody(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["run_id"] != runID.String() {
		t.Fatalf("expected run_id %s got %s", runID, resp["run_id"])
	}
	if !runs.submitCalled {
		t.Fatal("expected Submit to be called")
	}
	if runs.lastRequest.Company.Name != "Acme Corp" {
		t.Fatalf("request not forwarded: %+v", runs.lastRequest)
	}
}

func TestRouter_SubmitRunBadBody(t *testing.T) {
	router := NewRouter(Deps{Runs: &mockRunService{}, Tools: &mockToolInvoker{}, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{"document_ref":`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRouter_SubmitRunValidationError(t *testing.T) {
	runs := &mockRunService{submitErr: errors.New("document_ref is required")}
	router := NewRouter(Deps{Runs: runs, Tools: &mockToolInvoker{}, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{"company":{"name":"A"}}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRouter_GetRun(t *testing.T) {
	runID := uuid.New()
	runs := &mockRunService{snapshots: map[uuid.UUID]domain.RunSnapshot{
		runID: {RunID: runID, Status: domain.RunRunning, Company: "Acme Corp"},
	}}
	router := NewRouter(Deps{Runs: runs, Tools: &mockToolInvoker{}, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodGet, "/runs/"+runID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var snap domain.RunSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if snap.Status != domain.RunRunning {
		t.Fatalf("status = %s, want RUNNING", snap.Status)
	}
}

func TestRouter_GetRunFallsBackToArchive(t *testing.T) {
	runID := uuid.New()
	arch := &mockArchive{snapshots: map[uuid.UUID]domain.RunSnapshot{
		runID: {RunID: runID, Status: domain.RunCompleted, Company: "Acme Corp"},
	}}
	router := NewRouter(Deps{
		Runs: &mockRunService{}, Tools: &mockToolInvoker{},
		Archive: arch, Logger: discardLogger(),
	})

	req := httptest.NewRequest(http.MethodGet, "/runs/"+runID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
}

func TestRouter_GetRunNotFound(t *testing.T) {
	router := NewRouter(Deps{Runs: &mockRunService{}, Tools: &mockToolInvoker{}, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodGet, "/runs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestRouter_GetRunInvalidID(t *testing.T) {
	router := NewRouter(Deps{Runs: &mockRunService{}, Tools: &mockToolInvoker{}, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodGet, "/runs/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRouter_RecordNotTerminal(t *testing.T) {
	runs := &mockRunService{recordErr: domain.ErrRunNotTerminal}
	router := NewRouter(Deps{Runs: runs, Tools: &mockToolInvoker{}, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodGet, "/runs/"+uuid.NewString()+"/record", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 got %d", rec.Code)
	}
}

func TestRouter_CancelRun(t *testing.T) {
	router := NewRouter(Deps{Runs: &mockRunService{}, Tools: &mockToolInvoker{}, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodPost, "/runs/"+uuid.NewString()+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 got %d", rec.Code)
	}
}

func TestRouter_CancelTerminalRun(t *testing.T) {
	runs := &mockRunService{cancelErr: domain.ErrRunTerminal}
	router := NewRouter(Deps{Runs: runs, Tools: &mockToolInvoker{}, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodPost, "/runs/"+uuid.NewString()+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 got %d", rec.Code)
	}
}

func TestRouter_ListReportsPassThrough(t *testing.T) {
	tools := &mockToolInvoker{resp: domain.ToolResponse{
		Status: domain.ToolStatusOK,
		Data:   json.RawMessage(`{"reports":[{"report_id":"rep-1"}]}`),
	}}
	router := NewRouter(Deps{Runs: &mockRunService{}, Tools: tools, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodGet, "/reports?limit=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rep-1") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestRouter_ListReportsArchiveFallback(t *testing.T) {
	tools := &mockToolInvoker{err: domain.ErrToolUnavailable}
	arch := &mockArchive{reports: []archive.ReportSummary{{ReportID: "rep-2", Company: "Acme Corp"}}}
	router := NewRouter(Deps{
		Runs: &mockRunService{}, Tools: tools, Archive: arch, Logger: discardLogger(),
	})

	req := httptest.NewRequest(http.MethodGet, "/reports", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rep-2") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestRouter_ListReportsUnavailable(t *testing.T) {
	tools := &mockToolInvoker{err: domain.ErrToolUnavailable}
	router := NewRouter(Deps{Runs: &mockRunService{}, Tools: tools, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodGet, "/reports", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502 got %d", rec.Code)
	}
}

func TestRouter_AdminPurge(t *testing.T) {
	arch := &mockArchive{purged: 4}
	router := NewRouter(Deps{
		Runs: &mockRunService{}, Tools: &mockToolInvoker{},
		Archive: arch, AdminToken: "admin-secret", Logger: discardLogger(),
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/archive/purge",
		strings.NewReader(`{"older_than":"24h"}`))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if arch.purgedFor != 24*time.Hour {
		t.Fatalf("older_than = %v, want 24h", arch.purgedFor)
	}
	if !strings.Contains(rec.Body.String(), `"purged":4`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestRouter_AdminPurgeUnauthorized(t *testing.T) {
	router := NewRouter(Deps{
		Runs: &mockRunService{}, Tools: &mockToolInvoker{},
		Archive: &mockArchive{}, AdminToken: "admin-secret", Logger: discardLogger(),
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/archive/purge", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 got %d", rec.Code)
	}
}

func TestRouter_HealthAndVersion(t *testing.T) {
	router := NewRouter(Deps{
		Runs: &mockRunService{}, Tools: &mockToolInvoker{},
		Logger: discardLogger(), Version: "1.2.3",
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/version", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "1.2.3") {
		t.Fatalf("version = %d %q", rec.Code, rec.Body.String())
	}

	if got := rec.Header().Get("X-Request-Id"); got == "" {
		t.Fatal("expected request id header")
	}
}

func TestRouter_SubmitRateLimited(t *testing.T) {
	runs := &mockRunService{submitID: uuid.New()}
	router := NewRouter(Deps{
		Runs: runs, Tools: &mockToolInvoker{},
		Logger: discardLogger(), RateLimit: 1,
	})

	first := httptest.NewRequest(http.MethodPost, "/runs", submitBody(t))
	first.RemoteAddr = "10.1.1.1:5000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, first)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first submit = %d, want 202", rec.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/runs", submitBody(t))
	second.RemoteAddr = "10.1.1.1:5000"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second submit = %d, want 429", rec.Code)
	}
}
