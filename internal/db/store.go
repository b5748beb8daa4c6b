package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Store persists research reports. A nil *Store is valid and does nothing,
// so callers never branch on whether persistence is configured and a
// missing database can never fail a research request.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore opens a Postgres connection pool and verifies it
func NewStore(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Report store initialized")

	return &Store{db: db, logger: logger}, nil
}

// SaveReport inserts or updates a report, idempotent by workflow id so
// activity retries cannot duplicate rows
func (s *Store) SaveReport(ctx context.Context, report *ResearchReport) error {
	if s == nil {
		return nil
	}

	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO research_reports (
			id, workflow_id, session_id, query, tier,
			status, stop_reason, final_text, truncated, error_message,
			rounds, sources_fetched, sources_selected,
			tokens_used, model,
			started_at, completed_at, duration_ms,
			metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
		ON CONFLICT (workflow_id) DO UPDATE SET
			status = EXCLUDED.status,
			stop_reason = EXCLUDED.stop_reason,
			final_text = EXCLUDED.final_text,
			truncated = EXCLUDED.truncated,
			error_message = EXCLUDED.error_message,
			rounds = EXCLUDED.rounds,
			sources_fetched = EXCLUDED.sources_fetched,
			sources_selected = EXCLUDED.sources_selected,
			tokens_used = EXCLUDED.tokens_used,
			model = EXCLUDED.model,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms,
			metadata = EXCLUDED.metadata
		RETURNING id`

	err := s.db.QueryRowContext(ctx, query,
		report.ID, report.WorkflowID, nullIfEmpty(report.SessionID), report.Query, report.Tier,
		report.Status, report.StopReason, report.FinalText, report.Truncated, report.ErrorMessage,
		report.Rounds, report.SourcesFetched, report.SourcesSelected,
		report.TokensUsed, report.Model,
		report.StartedAt, report.CompletedAt, report.DurationMs,
		report.Metadata, report.CreatedAt,
	).Scan(&report.ID)

	if err != nil {
		return fmt.Errorf("failed to save research report: %w", err)
	}

	s.logger.Debug("Research report saved",
		zap.String("workflow_id", report.WorkflowID),
		zap.String("status", report.Status),
	)

	return nil
}

// GetReport returns the report for a workflow id, or nil when none exists
func (s *Store) GetReport(ctx context.Context, workflowID string) (*ResearchReport, error) {
	if s == nil {
		return nil, nil
	}

	query := `
		SELECT id, workflow_id, COALESCE(session_id, '') AS session_id, query, tier,
			status, stop_reason, final_text, truncated, error_message,
			rounds, sources_fetched, sources_selected,
			tokens_used, model,
			started_at, completed_at, duration_ms,
			metadata, created_at
		FROM research_reports
		WHERE workflow_id = $1`

	var report ResearchReport
	err := s.db.GetContext(ctx, &report, query, workflowID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get research report: %w", err)
	}

	return &report, nil
}

// DB exposes the pool for health checks
func (s *Store) DB() *sqlx.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Close shuts down the connection pool
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func nullIfEmpty(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
