// Package state implements the per-request orchestrator state: the
// mutable object that tracks the current phase, the artifact store, the
// transition log, and the bounded critique counter against the
// eight-phase machine in internal/phase.
package state

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
	"github.com/GratefulDave/stravinsky-sub003/internal/phase"
)

// Recorder receives observability events from a State. Both methods are
// optional to satisfy in full: a nil-safe no-op Recorder is installed by
// default so State never has to nil-check at call sites.
type Recorder interface {
	RecordTransition(ctx context.Context, from, to string)
	RecordGateDenial(ctx context.Context, from, to string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTransition(context.Context, string, string) {}
func (nopRecorder) RecordGateDenial(context.Context, string, string) {}

// Artifact is a named, opaque blob produced by one phase and required by
// another. Content is never interpreted by the core.
type Artifact struct {
	Name      string
	Content   []byte
	UpdatedAt time.Time
}

// TransitionEntry records one accepted phase transition.
type TransitionEntry struct {
	From      phase.Phase
	To        phase.Phase
	WallClock time.Time
	Monotonic int64
}

// GateFunc is the optional phase-gate callback. It must return true for a
// transition to be permitted when gating is enabled.
type GateFunc func(from, to phase.Phase) bool

// Summary is the observability snapshot returned by Summary().
type Summary struct {
	Current         phase.Phase
	History         []phase.Phase
	ArtifactNames   []string
	CritiqueCount   int
	GateEnabled     bool
	TransitionCount int
}

// State is the mutable per-request orchestrator state. It is not safe
// for concurrent use without external synchronization; one State is
// assigned per request, driven single-threaded by the router.
type State struct {
	current      phase.Phase
	history      []phase.Phase
	artifacts    map[string]*Artifact
	log          []TransitionEntry
	critiques    int
	maxCritiques int

	StrictMode  bool
	GateEnabled bool
	Gate        GateFunc
	gates       *GateRegistry

	nowMonotonic func() int64
	logger       *zap.Logger
	recorder     Recorder
}

// Option configures a new State at construction time.
type Option func(*State)

// WithMaxCritiques overrides the default critique bound (3).
func WithMaxCritiques(n int) Option {
	return func(s *State) { s.maxCritiques = n }
}

// WithStrictMode sets strict_mode at construction (default true).
func WithStrictMode(strict bool) Option {
	return func(s *State) { s.StrictMode = strict }
}

// WithGate installs a gate callback and enables gating.
func WithGate(gate GateFunc) Option {
	return func(s *State) {
		s.Gate = gate
		s.GateEnabled = true
	}
}

// WithGateRegistry installs a named-gate registry consulted on every
// transition, layered on top of the single GateFunc: blocking
// violations (Error or Critical) deny the transition the same way a
// false GateFunc does, warnings are logged and allowed.
func WithGateRegistry(r *GateRegistry) Option {
	return func(s *State) { s.gates = r }
}

// WithMonotonicClock overrides the monotonic timestamp source, for tests
// that need deterministic spread measurements.
func WithMonotonicClock(now func() int64) Option {
	return func(s *State) { s.nowMonotonic = now }
}

// WithLogger attaches a structured logger; phase transitions, gate
// denials, and critique-loop entries are logged at debug/warn level.
// A nil logger (the default) is equivalent to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(s *State) { s.logger = logger }
}

// WithRecorder attaches a metrics Recorder for transitions and gate
// denials. internal/metrics.Orchestration satisfies this interface.
func WithRecorder(r Recorder) Option {
	return func(s *State) { s.recorder = r }
}

// New creates an Orchestrator State starting in Classify, the only phase
// with no predecessor in the transition table.
func New(opts ...Option) *State {
	s := &State{
		current:      phase.Classify,
		history:      []phase.Phase{phase.Classify},
		artifacts:    make(map[string]*Artifact),
		maxCritiques: 3,
		StrictMode:   true,
		nowMonotonic: defaultMonotonic,
		logger:       zap.NewNop(),
		recorder:     nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	return s
}

var monotonicEpoch = time.Now()

func defaultMonotonic() int64 {
	return int64(time.Since(monotonicEpoch))
}

// Current returns the current phase.
func (s *State) Current() phase.Phase {
	return s.current
}

// CritiqueCount returns the number of Plan self-loops plus Validate->Plan
// returns counted so far.
func (s *State) CritiqueCount() int {
	return s.critiques
}

// RegisterArtifact stores content under name. Always succeeds; an
// existing artifact with the same name is replaced. Write-once within a
// cycle is a caller discipline, not an enforced invariant: re-production
// is legal and expected across a critique loop back into Plan.
func (s *State) RegisterArtifact(name string, content []byte) {
	s.artifacts[name] = &Artifact{Name: name, Content: content, UpdatedAt: time.Now()}
}

// Artifact returns the named artifact and whether it is present.
func (s *State) Artifact(name string) (*Artifact, bool) {
	a, ok := s.artifacts[name]
	return a, ok
}

// MissingArtifacts returns the required artifacts of target that are not
// yet registered. Used both internally and as a public diagnostic.
func (s *State) MissingArtifacts(target phase.Phase) []string {
	var missing []string
	for _, name := range phase.RequiredArtifacts(target) {
		if _, ok := s.artifacts[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// CanTransition is the pure precondition check: target must be a legal
// successor of current, strict mode requires every required artifact of
// target to be present, and a critique-loop entry into Plan must still
// be under the cap.
func (s *State) CanTransition(target phase.Phase) error {
	if !phase.Valid(target) {
		return orcherr.New(orcherr.CategoryIllegalTransition, "unknown target phase "+string(target))
	}
	if !phase.CanSucceed(s.current, target) {
		return orcherr.New(orcherr.CategoryIllegalTransition,
			string(s.current)+" -> "+string(target)+" is not a legal transition")
	}
	if s.StrictMode {
		if missing := s.MissingArtifacts(target); len(missing) > 0 {
			return orcherr.New(orcherr.CategoryMissingArtifacts,
				"missing required artifacts for "+string(target))
		}
	}
	if s.isCritiqueEntry(target) && s.critiques >= s.maxCritiques {
		return orcherr.New(orcherr.CategoryCritiqueExhausted,
			"critique counter already at max")
	}
	return nil
}

// isCritiqueEntry reports whether transitioning to target from the
// current phase counts against the critique budget: a Plan->Plan
// self-loop, or a Validate->Plan rejection return. Entering Plan from
// Context or Wisdom does not increment the counter.
func (s *State) isCritiqueEntry(target phase.Phase) bool {
	if target != phase.Plan {
		return false
	}
	return s.current == phase.Plan || s.current == phase.Validate
}

// Transition is TransitionContext with context.Background(), for
// callers that don't otherwise thread a context through the state
// machine.
func (s *State) Transition(target phase.Phase) error {
	return s.TransitionContext(context.Background(), target)
}

// TransitionContext atomically validates and, if accepted, appends a
// transition log entry, advances current, and increments the critique
// counter when entering Plan via a critique path. Gate denial is
// checked last, after the domain-error preconditions, so permission
// errors never mask an already-illegal transition. Every accepted
// transition and gate denial is logged and recorded against ctx.
func (s *State) TransitionContext(ctx context.Context, target phase.Phase) error {
	from := s.current

	if err := s.CanTransition(target); err != nil {
		s.logger.Debug("transition rejected", zap.String("from", string(from)), zap.String("to", string(target)), zap.Error(err))
		return err
	}
	if s.GateEnabled && s.Gate != nil && !s.Gate(s.current, target) {
		s.recorder.RecordGateDenial(ctx, string(from), string(target))
		s.logger.Warn("gate denied transition", zap.String("from", string(from)), zap.String("to", string(target)))
		return orcherr.New(orcherr.CategoryGateDenied,
			"gate callback denied "+string(s.current)+" -> "+string(target))
	}
	if s.gates != nil {
		violations, err := s.gates.Check(ctx, s, string(target))
		if err != nil {
			return orcherr.Wrap(orcherr.CategoryGateDenied,
				"gate check failed entering "+string(target), err)
		}
		for _, v := range violations {
			if v.Severity == SeverityWarning {
				s.logger.Warn("gate violation",
					zap.String("gate", v.GateName), zap.String("to", string(target)), zap.String("description", v.Description))
			}
		}
		if HasBlocking(violations) {
			s.recorder.RecordGateDenial(ctx, string(from), string(target))
			s.logger.Warn("named gates denied transition",
				zap.String("from", string(from)), zap.String("to", string(target)),
				zap.Strings("gates", blockingGateNames(violations)))
			return orcherr.New(orcherr.CategoryGateDenied,
				"named gates denied "+string(from)+" -> "+string(target))
		}
	}

	critiqueEntry := s.isCritiqueEntry(target)

	s.log = append(s.log, TransitionEntry{
		From:      from,
		To:        target,
		WallClock: time.Now(),
		Monotonic: s.nowMonotonic(),
	})
	s.current = target
	s.history = append(s.history, target)
	if critiqueEntry {
		s.critiques++
	}

	s.recorder.RecordTransition(ctx, string(from), string(target))
	s.logger.Debug("transition accepted",
		zap.String("from", string(from)), zap.String("to", string(target)),
		zap.Int("critiques", s.critiques), zap.Bool("critique_entry", critiqueEntry))
	return nil
}

// History returns the ordered sequence of entered phases, starting with
// Classify. The returned slice must not be mutated.
func (s *State) History() []phase.Phase {
	return s.history
}

// Log returns the ordered transition log. The returned slice must not be
// mutated.
func (s *State) Log() []TransitionEntry {
	return s.log
}

// Summarize builds the observability record described in spec section
// 4.2's summary() operation.
func (s *State) Summarize() Summary {
	names := make([]string, 0, len(s.artifacts))
	for name := range s.artifacts {
		names = append(names, name)
	}
	return Summary{
		Current:         s.current,
		History:         append([]phase.Phase(nil), s.history...),
		ArtifactNames:   names,
		CritiqueCount:   s.critiques,
		GateEnabled:     s.GateEnabled,
		TransitionCount: len(s.log),
	}
}
