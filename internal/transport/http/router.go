// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finalyze/analysis-runtime/internal/domain"
	"github.com/finalyze/analysis-runtime/internal/metrics"
	"github.com/finalyze/analysis-runtime/internal/registry"
	"github.com/finalyze/analysis-runtime/internal/transport/middleware"
)

type submitRunRequest struct {
	DocumentRef string             `json:"document_ref"`
	Company     domain.CompanyInfo `json:"company"`
	WebhookURL  string             `json:"webhook_url"`
}

type purgeRequest struct {
	OlderThan string `json:"older_than"`
}

type Deps struct {
	Runs       RunService
	Tools      ToolInvoker
	Archive    Archive
	Logger     *slog.Logger
	AdminToken string
	ArchiveTTL time.Duration
	RateLimit  int
	Version    string
	Commit     string
	BuildDate  string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	if deps.ArchiveTTL <= 0 {
		deps.ArchiveTTL = 30 * 24 * time.Hour
	}

	limiter := middleware.NewRateLimiter(deps.RateLimit)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- SUBMIT RUN ----------------

	r.With(limiter.Limit).Post("/runs", func(w http.ResponseWriter, r *http.Request) {
		reqBody, err := decodeSubmitRunRequest(r)
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		runID, err := deps.Runs.Submit(domain.AnalysisRequest{
			DocumentRef: reqBody.DocumentRef,
			Company:     reqBody.Company,
			WebhookURL:  reqBody.WebhookURL,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		logger.Info("run submitted via API", "run_id", runID)

		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": runID.String(),
		})
	})

	// ---------------- GET RUN ----------------

	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid run ID", http.StatusBadRequest)
			return
		}

		snap, err := deps.Runs.Get(runID)
		if errors.Is(err, domain.ErrRunNotFound) && deps.Archive != nil {
			snap, err = deps.Archive.GetRun(r.Context(), runID)
		}
		if err != nil {
			if errors.Is(err, domain.ErrRunNotFound) {
				http.Error(w, "run not found", http.StatusNotFound)
				return
			}
			logger.Error("get run failed", "run_id", runID, "error", err)
			http.Error(w, "failed to get run", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, snap)
	})

	// ---------------- GET FINAL RECORD ----------------

	r.Get("/runs/{id}/record", func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid run ID", http.StatusBadRequest)
			return
		}

		snap, err := deps.Runs.Record(runID)
		if errors.Is(err, domain.ErrRunNotFound) && deps.Archive != nil {
			snap, err = deps.Archive.GetRun(r.Context(), runID)
		}
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrRunNotFound):
				http.Error(w, "run not found", http.StatusNotFound)
			case errors.Is(err, domain.ErrRunNotTerminal):
				http.Error(w, "run not finished", http.StatusConflict)
			default:
				logger.Error("get record failed", "run_id", runID, "error", err)
				http.Error(w, "failed to get record", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, snap)
	})

	// ---------------- CANCEL RUN ----------------

	r.Post("/runs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid run ID", http.StatusBadRequest)
			return
		}

		if err := deps.Runs.Cancel(runID); err != nil {
			switch {
			case errors.Is(err, domain.ErrRunNotFound):
				http.Error(w, "run not found", http.StatusNotFound)
			case errors.Is(err, domain.ErrRunTerminal):
				http.Error(w, "run already finished", http.StatusConflict)
			default:
				logger.Error("cancel run failed", "run_id", runID, "error", err)
				http.Error(w, "failed to cancel run", http.StatusInternalServerError)
			}
			return
		}

		logger.Info("run cancelled via API", "run_id", runID)

		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": runID.String(),
			"status": "cancelling",
		})
	})

	// ---------------- LIST REPORTS ----------------

	r.Get("/reports", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		resp, err := deps.Tools.Invoke(r.Context(), registry.ServiceReporting, "list_reports",
			map[string]any{"limit": limit})
		if err == nil && resp.OK() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(resp.Data)
			return
		}

		// The reporting service being down should not hide what is already
		// archived locally.
		if deps.Archive != nil {
			logger.Warn("report listing fell back to archive", "error", err)
			summaries, archiveErr := deps.Archive.ListReports(r.Context(), limit)
			if archiveErr == nil {
				writeJSON(w, http.StatusOK, map[string]any{"reports": summaries})
				return
			}
			logger.Error("archive report listing failed", "error", archiveErr)
		}

		logger.Error("list reports failed", "error", err)
		http.Error(w, "failed to list reports", http.StatusBadGateway)
	})

	// ---------------- ADMIN ----------------

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

		admin.Post("/archive/purge", func(w http.ResponseWriter, r *http.Request) {
			if deps.Archive == nil {
				http.Error(w, "archive not configured", http.StatusNotImplemented)
				return
			}

			olderThan := deps.ArchiveTTL
			var body purgeRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.OlderThan != "" {
				d, err := time.ParseDuration(body.OlderThan)
				if err != nil || d < 0 {
					http.Error(w, "invalid older_than duration", http.StatusBadRequest)
					return
				}
				olderThan = d
			}

			purged, err := deps.Archive.Purge(r.Context(), olderThan)
			if err != nil {
				logger.Error("archive purge failed", "error", err)
				http.Error(w, "failed to purge archive", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"purged":     purged,
				"older_than": olderThan.String(),
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeSubmitRunRequest(r *http.Request) (submitRunRequest, error) {
	var req submitRunRequest
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return req, errors.New("empty body")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

func valueOrDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
