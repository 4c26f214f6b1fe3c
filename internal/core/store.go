package core

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/JonMunkholm/xmlmirror/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Dialect captures the SQL differences between the supported backends.
type Dialect struct {
	Name     string
	numbered bool // $1, $2 placeholders instead of ?
}

var (
	// SQLite is the embedded backend dialect.
	SQLite = Dialect{Name: "sqlite"}
	// Postgres is the networked backend dialect.
	Postgres = Dialect{Name: "postgres", numbered: true}
)

// Placeholder returns the bind marker for the n-th (1-based) parameter.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns n comma-separated bind markers.
func (d Dialect) Placeholders(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = d.Placeholder(i + 1)
	}
	return strings.Join(marks, ", ")
}

// Store is the single database destination shared by every pipeline.
// All statement execution goes through Exclusive so pipelines never
// interleave statements on the shared connection.
type Store struct {
	db      *sql.DB
	dialect Dialect
	closer  func()

	mu sync.Mutex
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open connects to the backend selected by cfg and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if cfg.SQLite {
		db, err := sql.Open("sqlite3", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		// One writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping sqlite %s: %w", cfg.SQLitePath, err)
		}
		return NewStore(db, SQLite), nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewStore(db, Postgres)
	s.closer = pool.Close
	return s, nil
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// DB returns the underlying handle. Callers must not execute statements
// concurrently with running pipelines; use Exclusive instead.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Exclusive runs fn while holding the store's statement lock.
func (s *Store) Exclusive(fn func(db *sql.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.db)
}

// TableExists reports whether a table is present.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var query string
	switch s.dialect.Name {
	case Postgres.Name:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	default:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	}

	var n int
	err := s.Exclusive(func(db *sql.DB) error {
		return db.QueryRowContext(ctx, query, table).Scan(&n)
	})
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// Close closes the handle and, for PostgreSQL, the underlying pool.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.closer != nil {
		s.closer()
	}
	return err
}

// quoteIdentifier quotes a SQL identifier to prevent injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteColumns quotes each column name.
func quoteColumns(cols []string) []string {
	result := make([]string, len(cols))
	for i, col := range cols {
		result[i] = quoteIdentifier(col)
	}
	return result
}
