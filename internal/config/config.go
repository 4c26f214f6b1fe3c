// Package config provides centralized configuration management for the mirror.
// It loads an INI file with viper, applies environment overrides and defaults,
// and validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSource is returned by Source.Validate for a section with missing or bad settings.
var ErrInvalidSource = errors.New("invalid source")

// SourcePrefix marks an INI section as a fetchable source.
const SourcePrefix = "www_"

// Config holds all application configuration.
// Every value can be overridden by an XMLMIRROR_<SECTION>_<KEY> environment variable.
type Config struct {
	Database DatabaseConfig
	Fetch    FetchConfig
	Run      RunConfig
	Load     LoadConfig
	Logging  LoggingConfig
	Sources  []Source
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// SQLite selects the embedded backend (General.db_sqlite, default: yes)
	SQLite bool

	// SQLitePath is the database file for the embedded backend (default: sqlite3.db)
	SQLitePath string

	// Address is the PostgreSQL host for the networked backend
	Address string

	// Port is the PostgreSQL port (default: 5432)
	Port int

	// Username and Password authenticate against PostgreSQL
	Username string
	Password string

	// Name is the database name (default: asterix)
	Name string

	// SSLMode is passed through to the connection string (default: disable)
	SSLMode string

	// MaxConns is the maximum number of pooled connections (default: 4)
	MaxConns int
}

// FetchConfig holds remote document retrieval settings.
type FetchConfig struct {
	// Timeout bounds a single GET including body read (default: 1.5s)
	Timeout time.Duration

	// MaxDocumentSize is the largest accepted response body in bytes (default: 10MiB)
	MaxDocumentSize int64
}

// RunConfig holds orchestration settings.
type RunConfig struct {
	// MaxConcurrent is the maximum number of pipelines in flight (default: 8)
	MaxConcurrent int

	// RecordRuns writes each pipeline outcome to the mirror_runs table (default: yes)
	RecordRuns bool
}

// LoadConfig holds table loading settings.
type LoadConfig struct {
	// ColumnType is the declared type of every mirrored column: integer or text (default: integer)
	ColumnType string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string

	// Format is the log format: text or json (default: text)
	Format string
}

// Source is one configured remote feed mirrored into one table.
// Sources are built once at startup and never modified.
type Source struct {
	// Name is the section name, which is also the destination table name
	Name string

	// URL is the remote document location (link)
	URL string

	// Identifier is the expected value of the document's header/name (name)
	Identifier string

	// Enabled excludes the source from runs when false (enabled, default: yes)
	Enabled bool

	// problems holds values that could not be read from the section
	problems []string
}

// Table returns the destination table name for the source.
func (s Source) Table() string {
	return s.Name
}

// Validate reports every problem with the source's settings.
func (s Source) Validate() error {
	errs := append([]string(nil), s.problems...)

	if s.URL == "" {
		errs = append(errs, fmt.Sprintf("%s.link is required", s.Name))
	} else if u, err := url.Parse(s.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("%s.link (%q) must be an absolute URL", s.Name, s.URL))
	}
	if s.Identifier == "" {
		errs = append(errs, fmt.Sprintf("%s.name is required", s.Name))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSource, strings.Join(errs, "; "))
	}
	return nil
}

// EnabledSources returns the enabled sources sorted by name.
func (c *Config) EnabledSources() []Source {
	var result []Source
	for _, src := range c.Sources {
		if src.Enabled {
			result = append(result, src)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result
}

// DSN returns the PostgreSQL connection string for the networked backend.
func (c *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Address + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Name,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Backend returns a short name for the selected database backend.
func (c *DatabaseConfig) Backend() string {
	if c.SQLite {
		return "sqlite"
	}
	return "postgres"
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if !c.Database.SQLite {
		if c.Database.Address == "" {
			errs = append(errs, "General.db_address is required when db_sqlite is no")
		}
		if c.Database.Name == "" {
			errs = append(errs, "General.db_name is required when db_sqlite is no")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("General.db_port (%d) must be 1-65535", c.Database.Port))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "General.db_max_conns must be positive")
		}
	} else if c.Database.SQLitePath == "" {
		errs = append(errs, "General.sqlite_path must not be empty")
	}

	// Fetch validation
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, "General.fetch_timeout must be positive")
	}
	if c.Fetch.MaxDocumentSize <= 0 {
		errs = append(errs, "General.max_document_size must be positive")
	}

	// Run validation
	if c.Run.MaxConcurrent <= 0 {
		errs = append(errs, "General.max_concurrent must be positive")
	}

	// Load validation
	validTypes := map[string]bool{"integer": true, "text": true}
	if !validTypes[strings.ToLower(c.Load.ColumnType)] {
		errs = append(errs, fmt.Sprintf("General.column_type (%q) must be one of: integer, text", c.Load.ColumnType))
	}

	// Sources are validated per pipeline with Source.Validate so one broken
	// section never stops the others.

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("General.log_level (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("General.log_format (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Credentials are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	if c.Database.SQLite {
		b.WriteString(fmt.Sprintf("Database: {Backend: sqlite, Path: %q}, ", c.Database.SQLitePath))
	} else {
		b.WriteString(fmt.Sprintf("Database: {Backend: postgres, Address: %q, Port: %d, Name: %q, User: [MASKED]}, ",
			c.Database.Address, c.Database.Port, c.Database.Name))
	}
	b.WriteString(fmt.Sprintf("Fetch: {Timeout: %s, MaxDocumentSize: %d}, ",
		c.Fetch.Timeout, c.Fetch.MaxDocumentSize))
	b.WriteString(fmt.Sprintf("Run: {MaxConcurrent: %d, RecordRuns: %v}, ",
		c.Run.MaxConcurrent, c.Run.RecordRuns))
	b.WriteString(fmt.Sprintf("Sources: %d, ", len(c.Sources)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
