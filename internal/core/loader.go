package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/xmlmirror/internal/logging"
)

// Column types accepted by NewLoader.
const (
	ColumnInteger = "integer"
	ColumnText    = "text"
)

// Loader replaces destination tables with flattened rows.
//
// Every column is declared with the same type. The default, INTEGER, mirrors
// the historical schema; SQLite's type affinity still stores non-numeric text
// as-is, while PostgreSQL rejects it row by row. Use ColumnText for feeds with
// non-numeric values on PostgreSQL.
type Loader struct {
	store      *Store
	columnType string
}

// NewLoader creates a Loader declaring every column as columnType.
func NewLoader(store *Store, columnType string) *Loader {
	sqlType := "INTEGER"
	if strings.EqualFold(columnType, ColumnText) {
		sqlType = "TEXT"
	}
	return &Loader{store: store, columnType: sqlType}
}

// Replace drops and recreates table with one column per key seen in rows,
// inserts every row in order and commits.
//
// Each statement runs under its own savepoint: a failing drop or insert is
// rolled back, logged and counted in LoadResult.Skipped, and the remaining
// statements still run. A failing CREATE TABLE aborts the transaction and
// returns an error wrapping ErrStatement, as does a transaction that cannot
// be started or committed (ErrLoadFailed).
//
// An empty rows slice drops the table without recreating it and returns
// ErrNoRows.
func (l *Loader) Replace(ctx context.Context, table string, rows []Row) (LoadResult, error) {
	result := LoadResult{Table: table}

	if len(rows) == 0 {
		if err := l.Drop(ctx, table); err != nil {
			return result, errors.Join(ErrNoRows, err)
		}
		return result, ErrNoRows
	}

	cols := Columns(rows)
	result.Columns = cols

	err := l.store.Exclusive(func(db *sql.DB) error {
		return l.replaceLocked(ctx, db, table, cols, rows, &result)
	})
	return result, err
}

func (l *Loader) replaceLocked(ctx context.Context, db *sql.DB, table string, cols []string, rows []Row, result *LoadResult) error {
	log := logging.WithFields(ctx, "table", table)
	dialect := l.store.Dialect()

	// Begin transaction
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrLoadFailed, err)
	}
	defer tx.Rollback()

	sp := 0
	var lastErr error
	exec := func(query string, args ...any) (bool, error) {
		name := fmt.Sprintf("sp_%d", sp)
		sp++

		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
			return false, fmt.Errorf("%w: create savepoint: %v", ErrLoadFailed, err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
			log.Warn("statement skipped",
				"code", MapError(ErrStatement).Code,
				"statement", query,
				"error", err,
			)
			result.Skipped++
			lastErr = err
			return false, nil
		}

		_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return true, nil
	}

	quoted := quoteIdentifier(table)

	// Drop and recreate every run
	if _, err := exec("DROP TABLE IF EXISTS " + quoted); err != nil {
		return err
	}

	defs := make([]string, len(cols))
	for i, col := range quoteColumns(cols) {
		defs[i] = col + " " + l.columnType
	}
	// Without the table every insert would be skipped; fail so the caller drops
	created, err := exec(fmt.Sprintf("CREATE TABLE %s (%s)", quoted, strings.Join(defs, ", ")))
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("%w: create %s: %v", ErrStatement, table, lastErr)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoted,
		strings.Join(quoteColumns(cols), ", "),
		dialect.Placeholders(len(cols)),
	)

	for i, row := range rows {
		// Check for cancellation periodically
		if i%ContextCheckInterval == 0 && ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrLoadFailed, ctx.Err())
		}

		ok, err := exec(insert, rowArgs(row, cols)...)
		if err != nil {
			return err
		}
		if ok {
			result.Inserted++
		}
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrLoadFailed, err)
	}

	log.Debug("table replaced",
		"columns", len(cols),
		"inserted", result.Inserted,
		"skipped", result.Skipped,
	)

	return nil
}

// ContextCheckInterval is how often, in rows, the loader checks for cancellation.
var ContextCheckInterval = 100

// rowArgs returns the row's values positionally matched to cols.
// Columns the row does not have are bound as NULL.
func rowArgs(row Row, cols []string) []any {
	args := make([]any, len(cols))
	for i, col := range cols {
		v, ok := row.Get(col)
		if !ok || !v.Valid {
			args[i] = nil
			continue
		}
		args[i] = v.String
	}
	return args
}

// Drop removes table if it exists and commits. It is the drop-on-error
// recovery action: failures are logged and returned, never retried.
func (l *Loader) Drop(ctx context.Context, table string) error {
	err := l.store.Exclusive(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdentifier(table))
		return err
	})
	if err != nil {
		logging.WithFields(ctx, "table", table).Error("drop on error failed", "error", err)
		return fmt.Errorf("drop %s: %w", table, err)
	}

	logging.WithFields(ctx, "table", table).Info("table dropped")
	return nil
}
