// Package climiter implements the Concurrency Limiter (spec component
// C7): a per-kind weighted semaphore plus a global rolling-window rate
// limiter, shared by the supervisor's spawn path and outbound provider
// calls.
package climiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
)

// DefaultRateLimit is the default rolling-window budget: 30 operations
// per 60 seconds of monotonic time.
const (
	DefaultRateLimit  = 30
	DefaultRateWindow = int64(60_000)
)

// monotonicEpoch anchors the default clock; time.Since reads the
// monotonic reading carried by time.Now.
var monotonicEpoch = time.Now()

// Limiter bounds how many agents of a given kind may run concurrently,
// and how many operations of any kind may be admitted within a rolling
// time window.
type Limiter struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
	caps map[string]int64

	rateLimit  int
	rateWindow int64
	nowFn      func() int64
	events     []int64
}

// Option configures a new Limiter.
type Option func(*Limiter)

// WithKindCapacity sets the concurrency cap for kind. Kinds without an
// explicit cap default to a capacity of 1.
func WithKindCapacity(kind string, capacity int64) Option {
	return func(l *Limiter) { l.caps[kind] = capacity }
}

// WithRateLimit overrides the rolling-window op budget and width in
// milliseconds.
func WithRateLimit(limit int, windowMS int64) Option {
	return func(l *Limiter) {
		l.rateLimit = limit
		l.rateWindow = windowMS
	}
}

// WithClock overrides the monotonic clock, for deterministic tests.
func WithClock(now func() int64) Option {
	return func(l *Limiter) { l.nowFn = now }
}

// New builds a Limiter with the default rate budget; per-kind
// semaphores are created lazily on first acquisition.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		sems:       make(map[string]*semaphore.Weighted),
		caps:       make(map[string]int64),
		rateLimit:  DefaultRateLimit,
		rateWindow: DefaultRateWindow,
		nowFn:      func() int64 { return time.Since(monotonicEpoch).Milliseconds() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) semFor(kind string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sem, ok := l.sems[kind]; ok {
		return sem
	}
	cap, ok := l.caps[kind]
	if !ok {
		cap = 1
	}
	sem := semaphore.NewWeighted(cap)
	l.sems[kind] = sem
	return sem
}

// Acquire blocks until the rolling-window rate budget admits one more
// operation and a concurrency slot for kind is available, or until ctx
// is cancelled or its deadline passes.
func (l *Limiter) Acquire(ctx context.Context, kind string) error {
	for {
		admitted, waitMS := l.tryAdmitRate()
		if admitted {
			break
		}
		if waitMS < 1 {
			waitMS = 1
		}
		select {
		case <-ctx.Done():
			return ctxError(ctx, "waiting for rate-limit admission")
		case <-time.After(time.Duration(waitMS) * time.Millisecond):
		}
	}

	sem := l.semFor(kind)
	if err := sem.Acquire(ctx, 1); err != nil {
		return orcherr.Wrap(orcherr.CategoryCancellation, fmt.Sprintf("acquiring slot for kind %q", kind), err)
	}
	return nil
}

// Release returns a concurrency slot for kind.
func (l *Limiter) Release(kind string) {
	l.semFor(kind).Release(1)
}

// tryAdmitRate prunes events older than the rolling window and either
// records an admission (true) or reports how long, in milliseconds,
// until the oldest surviving event ages out (false).
func (l *Limiter) tryAdmitRate() (bool, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	cutoff := now - l.rateWindow
	kept := l.events[:0]
	for _, ts := range l.events {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	l.events = kept

	if len(l.events) < l.rateLimit {
		l.events = append(l.events, now)
		return true, 0
	}
	return false, l.events[0] - cutoff
}

func ctxError(ctx context.Context, message string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return orcherr.Wrap(orcherr.CategoryTimeout, message, ctx.Err())
	}
	return orcherr.Wrap(orcherr.CategoryCancellation, message, ctx.Err())
}

// TryAcquire attempts a non-blocking acquisition, returning false
// without error if the rate budget or the kind's semaphore has no slot
// available right now.
func (l *Limiter) TryAcquire(kind string) (bool, error) {
	sem := l.semFor(kind)
	if !sem.TryAcquire(1) {
		return false, nil
	}
	admitted, _ := l.tryAdmitRate()
	if !admitted {
		sem.Release(1)
		return false, nil
	}
	return true, nil
}
