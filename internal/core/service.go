package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/JonMunkholm/xmlmirror/internal/config"
	"github.com/JonMunkholm/xmlmirror/internal/logging"
	"github.com/google/uuid"
)

// DropTimeout bounds the drop-on-error action, which runs even after the
// run context is cancelled.
var DropTimeout = 30 * time.Second

// Service runs the fetch, parse and load pipeline for a set of sources.
type Service struct {
	store   *Store
	fetcher *Fetcher
	loader  *Loader
	history *History // nil when run recording is disabled
	slots   *Slots
}

// NewService creates a Service writing to store.
// When cfg.Run.RecordRuns is set the run history table is created if needed.
func NewService(ctx context.Context, store *Store, cfg *config.Config) (*Service, error) {
	s := &Service{
		store:   store,
		fetcher: NewFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxDocumentSize),
		loader:  NewLoader(store, cfg.Load.ColumnType),
		slots:   NewSlots(cfg.Run.MaxConcurrent),
	}

	if cfg.Run.RecordRuns {
		s.history = NewHistory(store)
		if err := s.history.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("init run history: %w", err)
		}
	}

	return s, nil
}

// History returns the run history, or nil when recording is disabled.
func (s *Service) History() *History {
	return s.history
}

// Run launches one pipeline per source concurrently and waits for all of them.
// Failures are isolated: one source failing never cancels another.
// Results are returned in the order of sources.
func (s *Service) Run(ctx context.Context, sources []config.Source) RunSummary {
	start := time.Now()
	results := make([]PipelineResult, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.runPipeline(ctx, src)
		}()
	}
	wg.Wait()

	return RunSummary{
		Results:  results,
		Duration: time.Since(start),
	}
}

// runPipeline executes fetch, parse and load for one source. It never panics:
// a panic is recovered, the table is dropped and the result marked failed.
func (s *Service) runPipeline(ctx context.Context, src config.Source) (result PipelineResult) {
	runID := uuid.New().String()
	ctx = logging.ContextWithRunID(ctx, runID)
	log := logging.WithFields(ctx, "source", src.Name)

	result = PipelineResult{
		RunID:     runID,
		Source:    src.Name,
		Table:     src.Table(),
		Phase:     PhaseWaiting,
		StartedAt: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in pipeline",
				"run_id", runID,
				"source", src.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			s.dropOnError(ctx, src)
			result.Status = StatusFailed
			result.Err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		result.Duration = time.Since(result.StartedAt)
		s.record(ctx, result)
	}()

	fail := func(err error) PipelineResult {
		log.Error("pipeline failed",
			"phase", result.Phase,
			"code", MapError(err).Code,
			"error", err,
		)
		s.dropOnError(ctx, src)
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	if err := src.Validate(); err != nil {
		return fail(err)
	}

	// Wait for a slot; only the run context bounds the wait
	if err := s.slots.Acquire(ctx); err != nil {
		return fail(&FetchError{URL: src.URL, Err: err})
	}
	defer s.slots.Release()
	log.Debug("pipeline started", "slots_in_use", s.slots.InUse(), "slots", s.slots.Cap())

	result.Phase = PhaseFetching
	data, err := s.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return fail(err)
	}
	log.Debug("document fetched", "bytes", len(data))

	result.Phase = PhaseParsing
	rows, err := ParseDocument(data, src.Identifier)
	if err != nil {
		return fail(err)
	}

	result.Phase = PhaseLoading
	lr, err := s.loader.Replace(ctx, src.Table(), rows)
	result.Rows = lr.Inserted
	result.Skipped = lr.Skipped

	switch {
	case errors.Is(err, ErrNoRows):
		log.Warn("document has no rows, table left absent", "code", MapError(err).Code)
		result.Status = StatusEmpty
		result.Err = err
		result.Phase = PhaseComplete
		return result
	case err != nil:
		return fail(err)
	}

	result.Status = StatusLoaded
	result.Phase = PhaseComplete

	if lr.Skipped > 0 {
		log.Warn("load completed with skipped statements",
			"rows", lr.Inserted,
			"skipped", lr.Skipped,
			"columns", lr.Columns,
		)
	} else {
		log.Info("load completed", "rows", lr.Inserted, "columns", lr.Columns)
	}

	return result
}

// dropOnError removes the source's table. It runs detached from ctx
// cancellation so an interrupted run still leaves no stale table behind.
func (s *Service) dropOnError(ctx context.Context, src config.Source) {
	dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DropTimeout)
	defer cancel()

	_ = s.loader.Drop(dropCtx, src.Table())
}

// record writes the result to the run history. Failures are logged only.
func (s *Service) record(ctx context.Context, result PipelineResult) {
	if s.history == nil {
		return
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DropTimeout)
	defer cancel()

	if err := s.history.Record(recCtx, result); err != nil {
		logging.FromContext(ctx).Warn("failed to record run", "source", result.Source, "error", err)
	}
}
