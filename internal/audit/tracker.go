package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/refcat"
)

const schema = `
CREATE TABLE IF NOT EXISTS enrichment_run (
	run_id       uuid PRIMARY KEY,
	kind         text NOT NULL,
	input        text NOT NULL,
	status       text NOT NULL DEFAULT 'running',
	error        text,
	summary_json jsonb,
	started_at   timestamptz NOT NULL,
	finished_at  timestamptz
);
CREATE TABLE IF NOT EXISTS enrichment_lookup (
	lookup_id    bigserial PRIMARY KEY,
	run_id       uuid NOT NULL REFERENCES enrichment_run(run_id),
	refcat       text NOT NULL,
	year         integer NOT NULL,
	address      text NOT NULL,
	outcome      text NOT NULL,
	looked_up_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS enrichment_lookup_refcat_idx ON enrichment_lookup (refcat);
`

// Run status values
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Tracker keeps an audit trail of pipeline runs and remote lookups in Postgres
type Tracker struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// NewTracker creates a new audit tracker
func NewTracker(db *sql.DB, log *zap.Logger) *Tracker {
	return &Tracker{db: db, log: log, now: time.Now}
}

// Run is one row of the run history
type Run struct {
	ID         uuid.UUID
	Kind       string
	Input      string
	Status     string
	Error      string
	Summary    map[string]int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// EnsureSchema creates the audit tables if they do not exist
func (t *Tracker) EnsureSchema(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit tables: %w", err)
	}
	return nil
}

// StartRun records the start of a run and returns its identifier
func (t *Tracker) StartRun(ctx context.Context, kind, input string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO enrichment_run (run_id, kind, input, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, kind, input, StatusRunning, t.now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert run: %w", err)
	}

	t.log.Debug("Audit run started", zap.String("run_id", id.String()), zap.String("kind", kind))
	return id, nil
}

// RecordLookup stores the record resolved for one remote call
func (t *Tracker) RecordLookup(ctx context.Context, runID uuid.UUID, code refcat.Code, rec refcat.Record, outcome string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO enrichment_lookup (run_id, refcat, year, address, outcome, looked_up_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, runID, code.String(), rec.Year, rec.Address, outcome, t.now())
	if err != nil {
		return fmt.Errorf("failed to insert lookup for %s: %w", code, err)
	}
	return nil
}

// FinishRun closes a run with its counters. A non-nil runErr marks it failed.
func (t *Tracker) FinishRun(ctx context.Context, runID uuid.UUID, summary map[string]int, runErr error) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}

	status := StatusCompleted
	var errText sql.NullString
	if runErr != nil {
		status = StatusFailed
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE enrichment_run
		SET status = $2, error = $3, summary_json = $4, finished_at = $5
		WHERE run_id = $1
	`, runID, status, errText, summaryJSON, t.now())
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.log.Debug("Audit run finished", zap.String("run_id", runID.String()), zap.String("status", status))
	return nil
}

// RecentRuns returns the latest runs, newest first
func (t *Tracker) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT run_id, kind, input, status, COALESCE(error, ''), summary_json, started_at, finished_at
		FROM enrichment_run
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			summary  []byte
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Input, &r.Status, &r.Error, &summary, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if len(summary) > 0 {
			if err := json.Unmarshal(summary, &r.Summary); err != nil {
				t.log.Warn("Unreadable run summary", zap.String("run_id", r.ID.String()), zap.Error(err))
			}
		}
		if finished.Valid {
			ft := finished.Time
			r.FinishedAt = &ft
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
