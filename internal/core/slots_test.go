package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlots_AcquireRelease(t *testing.T) {
	s := NewSlots(2)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx))
	require.NoError(t, s.Acquire(ctx))
	assert.Equal(t, 2, s.InUse())

	s.Release()
	assert.Equal(t, 1, s.InUse())
	s.Release()
	assert.Equal(t, 0, s.InUse())
}

func TestSlots_WaitsForRelease(t *testing.T) {
	s := NewSlots(1)
	require.NoError(t, s.Acquire(context.Background()))

	acquired := make(chan error, 1)
	go func() { acquired <- s.Acquire(context.Background()) }()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned while the only slot was held")
	case <-time.After(50 * time.Millisecond):
	}

	s.Release()

	select {
	case err := <-acquired:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not return after Release")
	}
}

func TestSlots_ContextDone(t *testing.T) {
	s := NewSlots(1)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(s.Acquire(ctx), context.DeadlineExceeded))

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	s.Release()
	assert.True(t, errors.Is(s.Acquire(cancelled), context.Canceled), "a cancelled context never takes a free slot")
	assert.Equal(t, 0, s.InUse())
}

func TestSlots_BoundsConcurrency(t *testing.T) {
	s := NewSlots(3)
	var (
		wg      sync.WaitGroup
		current atomic.Int32
		peak    atomic.Int32
	)

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			defer s.Release()

			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 0, s.InUse())
}

func TestNewSlots_Default(t *testing.T) {
	assert.Equal(t, DefaultMaxConcurrent, NewSlots(0).Cap())
	assert.Equal(t, 5, NewSlots(5).Cap())
}
