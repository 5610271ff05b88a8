// Package delegation implements the Delegation Enforcer (spec component
// C4): a thin wrapper around a task graph that additionally enforces the
// timing-window invariant for parallel spawns within a wave, and
// validates spawn requests against dependency order.
package delegation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GratefulDave/stravinsky-sub003/internal/graph"
	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
)

// SpreadRecorder receives the measured spawn-timestamp spread of each
// closed wave. internal/metrics.Orchestration satisfies this interface.
type SpreadRecorder interface {
	RecordWaveSpread(ctx context.Context, spreadMS float64, compliant bool)
}

type nopSpreadRecorder struct{}

func (nopSpreadRecorder) RecordWaveSpread(context.Context, float64, bool) {}

// DefaultWindowMS is the default timing-window width, in milliseconds,
// within which every spawn in a wave must fall.
const DefaultWindowMS = 500

// Enforcer wraps a task graph with wave tracking and spawn-timing
// compliance checks.
type Enforcer struct {
	g        *graph.Graph
	waves    [][]string
	waveIdx  int
	windowMS int64
	strict   bool

	spawnTimes map[string]int64
	nowFn      func() int64

	logger   *zap.Logger
	recorder SpreadRecorder
}

// Option configures a new Enforcer.
type Option func(*Enforcer)

// WithWindowMS overrides the default 500ms timing window.
func WithWindowMS(ms int64) Option {
	return func(e *Enforcer) { e.windowMS = ms }
}

// WithStrict toggles strict compliance enforcement (default true): when
// strict, a non-compliant wave close raises a ParallelExecutionError;
// when non-strict it is recorded but not rejected.
func WithStrict(strict bool) Option {
	return func(e *Enforcer) { e.strict = strict }
}

// WithClock overrides the monotonic clock source, for deterministic
// tests.
func WithClock(now func() int64) Option {
	return func(e *Enforcer) { e.nowFn = now }
}

// WithLogger attaches a structured logger; spawn validation failures and
// compliance checks are logged. A nil logger is equivalent to
// zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(e *Enforcer) { e.logger = logger }
}

// WithSpreadRecorder attaches a metrics recorder for wave-spread
// measurements.
func WithSpreadRecorder(r SpreadRecorder) Option {
	return func(e *Enforcer) { e.recorder = r }
}

// New builds an Enforcer around g. The wave partition is computed
// eagerly so validate_spawn can consult it immediately.
func New(g *graph.Graph, opts ...Option) (*Enforcer, error) {
	waves, err := g.Waves()
	if err != nil {
		return nil, err
	}
	e := &Enforcer{
		g:          g,
		waves:      waves,
		windowMS:   DefaultWindowMS,
		strict:     true,
		spawnTimes: make(map[string]int64),
		nowFn:      defaultMonotonicMS,
		logger:     zap.NewNop(),
		recorder:   nopSpreadRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.recorder == nil {
		e.recorder = nopSpreadRecorder{}
	}
	return e, nil
}

var monotonicEpoch = time.Now()

// defaultMonotonicMS is the production spawn-timestamp source: wall
// clock adjustments must not affect window comparisons, so timestamps
// are milliseconds since process-local epoch.
func defaultMonotonicMS() int64 {
	return time.Since(monotonicEpoch).Milliseconds()
}

// CurrentWave returns the task ids of the wave currently open for
// spawning, or nil if every wave has closed.
func (e *Enforcer) CurrentWave() []string {
	if e.waveIdx >= len(e.waves) {
		return nil
	}
	return e.waves[e.waveIdx]
}

// ValidateSpawn reports whether taskID may be spawned right now. It
// returns one of three distinct reasons on rejection: the task does not
// belong to the current wave, the task's dependencies are not all
// Completed, or every wave has already closed.
func (e *Enforcer) ValidateSpawn(taskID string) error {
	if e.waveIdx >= len(e.waves) {
		return orcherr.New(orcherr.CategoryIllegalTaskTransition, "all waves are closed, nothing left to spawn")
	}
	inWave := false
	for _, id := range e.waves[e.waveIdx] {
		if id == taskID {
			inWave = true
			break
		}
	}
	if !inWave {
		return orcherr.New(orcherr.CategoryIllegalTaskTransition,
			fmt.Sprintf("task %q is not part of the current wave", taskID))
	}
	task, ok := e.g.Task(taskID)
	if !ok {
		return orcherr.New(orcherr.CategoryIllegalTaskTransition, fmt.Sprintf("unknown task %q", taskID))
	}
	for _, dep := range task.Deps {
		depTask, ok := e.g.Task(dep)
		if !ok || depTask.Status() != graph.StatusCompleted {
			return orcherr.New(orcherr.CategoryIllegalTaskTransition,
				fmt.Sprintf("task %q has an incomplete dependency %q", taskID, dep))
		}
	}
	return nil
}

// RecordSpawn marks taskID spawned on the graph and records its
// monotonic spawn timestamp for later compliance checking.
func (e *Enforcer) RecordSpawn(taskID string, handleRef any) error {
	if err := e.ValidateSpawn(taskID); err != nil {
		return err
	}
	ts := e.nowFn()
	if err := e.g.MarkSpawned(taskID, handleRef, ts); err != nil {
		return err
	}
	e.spawnTimes[taskID] = ts
	return nil
}

// CheckCompliance is CheckComplianceContext with context.Background().
func (e *Enforcer) CheckCompliance() (spreadMS int64, err error) {
	return e.CheckComplianceContext(context.Background())
}

// CheckComplianceContext measures the spread between the earliest and
// latest recorded spawn timestamp in the current wave. When strict and
// the spread exceeds windowMS, it returns a ParallelExecutionError
// carrying the measured spread. The measurement is always recorded
// against ctx, strict or not.
func (e *Enforcer) CheckComplianceContext(ctx context.Context) (spreadMS int64, err error) {
	wave := e.CurrentWave()
	if len(wave) == 0 {
		return 0, nil
	}
	var min, max int64
	seen := false
	for _, id := range wave {
		ts, ok := e.spawnTimes[id]
		if !ok {
			continue
		}
		if !seen {
			min, max = ts, ts
			seen = true
			continue
		}
		if ts < min {
			min = ts
		}
		if ts > max {
			max = ts
		}
	}
	if !seen {
		return 0, nil
	}
	spreadMS = max - min
	compliant := spreadMS <= e.windowMS
	e.recorder.RecordWaveSpread(ctx, float64(spreadMS), compliant)
	if !compliant {
		e.logger.Warn("wave compliance check failed",
			zap.Int("wave_index", e.waveIdx), zap.Int64("spread_ms", spreadMS), zap.Int64("window_ms", e.windowMS), zap.Bool("strict", e.strict))
		if e.strict {
			return spreadMS, orcherr.New(orcherr.CategoryParallelExecution,
				fmt.Sprintf("wave spawn spread %dms exceeds window %dms", spreadMS, e.windowMS))
		}
	}
	return spreadMS, nil
}

// MarkCompleted delegates to the underlying graph and, once every task
// in the current wave has reached Completed, auto-advances to the next
// wave.
func (e *Enforcer) MarkCompleted(taskID string, result any) error {
	if err := e.g.MarkCompleted(taskID, result); err != nil {
		return err
	}
	e.maybeAdvance()
	return nil
}

// MarkFailed delegates to the underlying graph. A failed task does not
// by itself advance the wave; the router decides how to treat
// unreachable descendants.
func (e *Enforcer) MarkFailed(taskID string, cause error) error {
	return e.g.MarkFailed(taskID, cause)
}

func (e *Enforcer) maybeAdvance() {
	if e.waveIdx >= len(e.waves) {
		return
	}
	for _, id := range e.waves[e.waveIdx] {
		task, ok := e.g.Task(id)
		if !ok || task.Status() != graph.StatusCompleted {
			return
		}
	}
	e.waveIdx++
}

// AdvanceWave forces the wave cursor forward. It is a no-op returning
// false when the current wave is not fully Completed, or when every
// wave has already closed.
func (e *Enforcer) AdvanceWave() bool {
	if e.waveIdx >= len(e.waves) {
		return false
	}
	for _, id := range e.waves[e.waveIdx] {
		task, ok := e.g.Task(id)
		if !ok || task.Status() != graph.StatusCompleted {
			return false
		}
	}
	e.waveIdx++
	return true
}

// WaveIndex returns the index of the wave currently open for spawning.
func (e *Enforcer) WaveIndex() int { return e.waveIdx }

// Done reports whether every wave has closed.
func (e *Enforcer) Done() bool { return e.waveIdx >= len(e.waves) }
