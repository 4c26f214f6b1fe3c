package core

import (
	"database/sql"
	"time"
)

// Field is one column of a flattened row: a child tag and its text.
// Value.Valid is false when the element had no text.
type Field struct {
	Name  string
	Value sql.NullString
}

// Row is one flattened row element. Fields keep document order.
type Row []Field

// Get returns the value for a column name.
func (r Row) Get(name string) (sql.NullString, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return sql.NullString{}, false
}

// Keys returns the column names of the row in document order.
func (r Row) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Name
	}
	return keys
}

// set stores a value, keeping the position of an existing column.
func (r Row) set(name string, value sql.NullString) Row {
	for i := range r {
		if r[i].Name == name {
			r[i].Value = value
			return r
		}
	}
	return append(r, Field{Name: name, Value: value})
}

// Columns returns the union of keys across all rows, in first-seen order.
func Columns(rows []Row) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for _, f := range row {
			if !seen[f.Name] {
				seen[f.Name] = true
				cols = append(cols, f.Name)
			}
		}
	}
	return cols
}

// Phase indicates the stage a pipeline reached.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseFetching Phase = "fetching"
	PhaseParsing  Phase = "parsing"
	PhaseLoading  Phase = "loading"
	PhaseComplete Phase = "complete"
)

// Status is the final outcome of one pipeline.
type Status string

const (
	// StatusLoaded means the table was replaced with the fetched rows.
	StatusLoaded Status = "loaded"
	// StatusEmpty means the document was valid but had no rows; the table is absent.
	StatusEmpty Status = "empty"
	// StatusFailed means drop-on-error ran; the table is absent.
	StatusFailed Status = "failed"
)

// LoadResult contains the outcome of replacing one table.
type LoadResult struct {
	Table    string
	Columns  []string
	Inserted int
	Skipped  int // Statements that failed and were rolled back to their savepoint
}

// PipelineResult contains the final result of one source's pipeline.
type PipelineResult struct {
	RunID     string
	Source    string
	Table     string
	Status    Status
	Phase     Phase // Last phase entered
	Rows      int   // Rows inserted
	Skipped   int   // Statements skipped
	Err       error // Non-nil if Status is StatusFailed or StatusEmpty
	StartedAt time.Time
	Duration  time.Duration
}

// Code returns the error code for the result, or "" on success.
func (r PipelineResult) Code() string {
	return MapError(r.Err).Code
}

// RunSummary contains the results of every pipeline in one run.
type RunSummary struct {
	Results  []PipelineResult
	Duration time.Duration
}

// Count returns the number of results with the given status.
func (s RunSummary) Count(status Status) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Result returns the pipeline result for a source.
func (s RunSummary) Result(source string) (PipelineResult, bool) {
	for _, r := range s.Results {
		if r.Source == source {
			return r, true
		}
	}
	return PipelineResult{}, false
}

// Failed returns the results whose status is StatusFailed.
func (s RunSummary) Failed() []PipelineResult {
	var failed []PipelineResult
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			failed = append(failed, r)
		}
	}
	return failed
}
