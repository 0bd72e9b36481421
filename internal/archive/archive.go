// SPDX-License-Identifier: Apache-2.0

// Package archive persists terminal run snapshots past the in-memory TTL.
// The archive is strictly bookkeeping for finished runs: the engine works
// entirely in memory and a deployment without a database simply skips it.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finalyze/analysis-runtime/internal/domain"
)

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// SaveRun upserts a terminal snapshot. Reruns of the same id overwrite the
// previous row.
func (s *Store) SaveRun(ctx context.Context, snap domain.RunSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	var riskCategory, reportID *string
	if snap.Record != nil {
		if snap.Record.Risk != nil {
			cat := string(snap.Record.Risk.Category)
			riskCategory = &cat
		}
		if snap.Record.Report != nil {
			reportID = &snap.Record.Report.ReportID
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO archived_runs (id, company, status, risk_category, report_id, snapshot, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			risk_category = EXCLUDED.risk_category,
			report_id = EXCLUDED.report_id,
			snapshot = EXCLUDED.snapshot,
			finished_at = EXCLUDED.finished_at
	`, snap.RunID, snap.Company, snap.Status, riskCategory, reportID, body, snap.FinishedAt)
	if err != nil {
		s.logger.Error("archive insert failed", "run_id", snap.RunID, "error", err)
		return err
	}
	return nil
}

// GetRun loads an archived snapshot.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (domain.RunSnapshot, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM archived_runs WHERE id = $1`, id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RunSnapshot{}, domain.ErrRunNotFound
	}
	if err != nil {
		return domain.RunSnapshot{}, err
	}

	var snap domain.RunSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return domain.RunSnapshot{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snap, nil
}

// ReportSummary is one row of the archived report listing.
type ReportSummary struct {
	RunID        uuid.UUID        `json:"run_id"`
	Company      string           `json:"company"`
	Status       domain.RunStatus `json:"status"`
	RiskCategory string           `json:"risk_category,omitempty"`
	ReportID     string           `json:"report_id"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

// ListReports returns the most recently archived runs that produced a
// report, newest first.
func (s *Store) ListReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, company, status, COALESCE(risk_category, ''), report_id, finished_at
		FROM archived_runs
		WHERE report_id IS NOT NULL
		ORDER BY archived_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]ReportSummary, 0, limit)
	for rows.Next() {
		var sum ReportSummary
		if err := rows.Scan(&sum.RunID, &sum.Company, &sum.Status,
			&sum.RiskCategory, &sum.ReportID, &sum.FinishedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Purge deletes archived rows older than the retention window and returns
// how many went away.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM archived_runs WHERE archived_at < $1`,
		time.Now().UTC().Add(-olderThan),
	)
	if err != nil {
		return 0, err
	}
	purged := tag.RowsAffected()
	if purged > 0 {
		s.logger.Info("archive purged", "rows", purged)
	}
	return purged, nil
}
