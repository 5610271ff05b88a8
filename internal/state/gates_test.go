package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
	"github.com/GratefulDave/stravinsky-sub003/internal/phase"
)

type fakeGate struct {
	name       string
	violations []Violation
}

func (g *fakeGate) Name() string { return g.name }

func (g *fakeGate) Check(ctx context.Context, s *State, target string) ([]Violation, error) {
	return g.violations, nil
}

func TestGateRegistryAggregatesViolations(t *testing.T) {
	r := NewGateRegistry()
	r.Register("plan", &fakeGate{name: "a", violations: []Violation{
		{GateName: "a", Phase: "plan", Severity: SeverityWarning, DetectedAt: time.Now()},
	}})
	r.Register("plan", &fakeGate{name: "b", violations: []Violation{
		{GateName: "b", Phase: "plan", Severity: SeverityCritical, DetectedAt: time.Now()},
	}})

	s := New()
	violations, err := r.Check(context.Background(), s, "plan")
	require.NoError(t, err)
	assert.Len(t, violations, 2)
	assert.True(t, HasCritical(violations))
	assert.True(t, HasBlocking(violations))
}

func TestGateRegistryNoGatesRegistered(t *testing.T) {
	r := NewGateRegistry()
	s := New()
	violations, err := r.Check(context.Background(), s, "delegate")
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestTransitionDeniedByBlockingNamedGate(t *testing.T) {
	r := NewGateRegistry()
	r.Register(string(phase.Context), &fakeGate{name: "tdd", violations: []Violation{
		{GateName: "tdd", Phase: "context", Severity: SeverityError, DetectedAt: time.Now()},
	}})

	s := New(WithStrictMode(false), WithGateRegistry(r))
	err := s.Transition(phase.Context)
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryGateDenied))
	assert.Equal(t, phase.Classify, s.Current())
	assert.Empty(t, s.Log())
}

func TestTransitionAllowedPastWarningOnlyGate(t *testing.T) {
	r := NewGateRegistry()
	r.Register(string(phase.Context), &fakeGate{name: "style", violations: []Violation{
		{GateName: "style", Phase: "context", Severity: SeverityWarning, DetectedAt: time.Now()},
	}})

	s := New(WithStrictMode(false), WithGateRegistry(r))
	require.NoError(t, s.Transition(phase.Context))
	assert.Equal(t, phase.Context, s.Current())
}

func TestNamedGatesOnlyRunForRegisteredPhase(t *testing.T) {
	r := NewGateRegistry()
	r.Register(string(phase.Delegate), &fakeGate{name: "compliance", violations: []Violation{
		{GateName: "compliance", Phase: "delegate", Severity: SeverityCritical, DetectedAt: time.Now()},
	}})

	s := New(WithStrictMode(false), WithGateRegistry(r))
	require.NoError(t, s.Transition(phase.Context))
	require.NoError(t, s.Transition(phase.Plan))
}
