package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunsTable records the outcome of every pipeline run.
const RunsTable = "mirror_runs"

// startedAtLayout sorts lexically in time order for UTC values.
const startedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunRecord is one row of the run history.
type RunRecord struct {
	RunID       string
	Source      string
	Status      Status
	RowsLoaded  int
	RowsSkipped int
	ErrorCode   string
	Error       string
	StartedAt   time.Time
	DurationMs  int64
}

// History writes pipeline outcomes to RunsTable.
type History struct {
	store *Store
}

// NewHistory creates a History backed by store.
func NewHistory(store *Store) *History {
	return &History{store: store}
}

// EnsureSchema creates RunsTable if it does not exist.
func (h *History) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id       TEXT NOT NULL,
		source       TEXT NOT NULL,
		status       TEXT NOT NULL,
		rows_loaded  INTEGER NOT NULL,
		rows_skipped INTEGER NOT NULL,
		error_code   TEXT,
		error        TEXT,
		started_at   TEXT NOT NULL,
		duration_ms  INTEGER NOT NULL
	)`, quoteIdentifier(RunsTable))

	return h.store.Exclusive(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create %s: %w", RunsTable, err)
		}
		return nil
	})
}

// Record appends the outcome of one pipeline.
func (h *History) Record(ctx context.Context, r PipelineResult) error {
	rec := RunRecord{
		RunID:       r.RunID,
		Source:      r.Source,
		Status:      r.Status,
		RowsLoaded:  r.Rows,
		RowsSkipped: r.Skipped,
		ErrorCode:   r.Code(),
		StartedAt:   r.StartedAt.UTC(),
		DurationMs:  r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}

	d := h.store.Dialect()
	query := fmt.Sprintf(
		"INSERT INTO %s (run_id, source, status, rows_loaded, rows_skipped, error_code, error, started_at, duration_ms) VALUES (%s)",
		quoteIdentifier(RunsTable),
		d.Placeholders(9),
	)

	return h.store.Exclusive(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query,
			rec.RunID,
			rec.Source,
			string(rec.Status),
			rec.RowsLoaded,
			rec.RowsSkipped,
			nullIfEmpty(rec.ErrorCode),
			nullIfEmpty(rec.Error),
			rec.StartedAt.Format(startedAtLayout),
			rec.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("record run %s: %w", rec.RunID, err)
		}
		return nil
	})
}

// LastRun returns the most recent record for a source, or nil if none exists.
func (h *History) LastRun(ctx context.Context, source string) (*RunRecord, error) {
	d := h.store.Dialect()
	query := fmt.Sprintf(
		"SELECT run_id, source, status, rows_loaded, rows_skipped, error_code, error, started_at, duration_ms FROM %s WHERE source = %s ORDER BY started_at DESC LIMIT 1",
		quoteIdentifier(RunsTable),
		d.Placeholder(1),
	)

	var (
		rec       RunRecord
		status    string
		code      sql.NullString
		errText   sql.NullString
		startedAt string
	)

	err := h.store.Exclusive(func(db *sql.DB) error {
		return db.QueryRowContext(ctx, query, source).Scan(
			&rec.RunID, &rec.Source, &status, &rec.RowsLoaded, &rec.RowsSkipped,
			&code, &errText, &startedAt, &rec.DurationMs,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last run for %s: %w", source, err)
	}

	rec.Status = Status(status)
	rec.ErrorCode = code.String
	rec.Error = errText.String
	if t, perr := time.Parse(startedAtLayout, startedAt); perr == nil {
		rec.StartedAt = t
	}

	return &rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
