package climiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
)

func TestKindCapacityBoundsConcurrentAcquisitions(t *testing.T) {
	l := New(WithKindCapacity("worker", 2), WithRateLimit(100, 60_000))

	require.NoError(t, l.Acquire(context.Background(), "worker"))
	require.NoError(t, l.Acquire(context.Background(), "worker"))

	ok, err := l.TryAcquire("worker")
	require.NoError(t, err)
	assert.False(t, ok, "third acquisition should be blocked by the capacity-2 semaphore")

	l.Release("worker")
	ok, err = l.TryAcquire("worker")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDefaultCapacityIsOne(t *testing.T) {
	l := New(WithRateLimit(100, 60_000))
	require.NoError(t, l.Acquire(context.Background(), "linter"))
	ok, err := l.TryAcquire("linter")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestRollingWindowBlocksOverBudget pins the window with a frozen
// clock; the only way out of a saturated Acquire is the context
// deadline, which must surface as the timeout category.
func TestRollingWindowBlocksOverBudget(t *testing.T) {
	clock := int64(0)
	l := New(WithRateLimit(2, 1000), WithClock(func() int64 { return clock }))

	require.NoError(t, l.Acquire(context.Background(), "a"))
	require.NoError(t, l.Acquire(context.Background(), "b"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "c")
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryTimeout))
}

func TestRollingWindowCancellationShortCircuits(t *testing.T) {
	clock := int64(0)
	l := New(WithRateLimit(1, 1000), WithClock(func() int64 { return clock }))

	require.NoError(t, l.Acquire(context.Background(), "a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(ctx, "b")
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryCancellation))
}

func TestRollingWindowAdmitsAfterExpiry(t *testing.T) {
	clock := int64(0)
	l := New(WithRateLimit(1, 1000), WithClock(func() int64 { return clock }))

	require.NoError(t, l.Acquire(context.Background(), "a"))

	clock = 1001
	require.NoError(t, l.Acquire(context.Background(), "c"))
}

// TestRollingWindowUnblocksWhenEventAges advances the clock while a
// saturated Acquire is waiting and confirms it eventually admits.
func TestRollingWindowUnblocksWhenEventAges(t *testing.T) {
	var clock atomicClock
	l := New(WithRateLimit(1, 50), WithClock(clock.now))

	require.NoError(t, l.Acquire(context.Background(), "a"))

	done := make(chan error, 1)
	go func() { done <- l.Acquire(context.Background(), "b") }()

	clock.set(100)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not unblock after the window aged out")
	}
}

type atomicClock struct {
	mu sync.Mutex
	v  int64
}

func (c *atomicClock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *atomicClock) set(v int64) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}
