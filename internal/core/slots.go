package core

import "context"

// DefaultMaxConcurrent is the default number of pipelines in flight.
const DefaultMaxConcurrent = 8

// Slots caps how many pipelines fetch, parse and load at the same time.
// Waiting is bounded only by the caller's context, so a slow sibling never
// causes a healthy source to fail.
type Slots struct {
	ch chan struct{}
}

// NewSlots returns n slots. Non-positive n falls back to DefaultMaxConcurrent.
func NewSlots(n int) *Slots {
	if n <= 0 {
		n = DefaultMaxConcurrent
	}
	return &Slots{ch: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
// Each successful Acquire must be paired with one Release.
func (s *Slots) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (s *Slots) Release() {
	<-s.ch
}

// InUse returns the number of slots currently held.
func (s *Slots) InUse() int {
	return len(s.ch)
}

// Cap returns the total number of slots.
func (s *Slots) Cap() int {
	return cap(s.ch)
}
