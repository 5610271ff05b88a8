package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
	"github.com/GratefulDave/stravinsky-sub003/internal/phase"
)

func TestNewStartsInClassify(t *testing.T) {
	s := New()
	assert.Equal(t, phase.Classify, s.Current())
	assert.Equal(t, []phase.Phase{phase.Classify}, s.History())
}

func TestTransitionIllegalSuccessor(t *testing.T) {
	s := New()
	err := s.Transition(phase.Plan)
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryIllegalTransition))
	assert.Equal(t, phase.Classify, s.Current())
}

func TestTransitionMissingArtifactsStrict(t *testing.T) {
	s := New()
	s.RegisterArtifact("classification", []byte("x"))
	require.NoError(t, s.Transition(phase.Context))
	err := s.Transition(phase.Wisdom)
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryMissingArtifacts))
}

func TestTransitionSucceedsWithArtifacts(t *testing.T) {
	s := New()
	s.RegisterArtifact("classification", []byte("bug"))
	require.NoError(t, s.Transition(phase.Context))
	assert.Equal(t, phase.Context, s.Current())
	assert.Len(t, s.Log(), 1)
}

func TestContextCanSkipWisdom(t *testing.T) {
	s := New()
	s.RegisterArtifact("classification", []byte("x"))
	require.NoError(t, s.Transition(phase.Context))
	s.RegisterArtifact("context", []byte("ctx"))
	require.NoError(t, s.Transition(phase.Plan))
	assert.Equal(t, phase.Plan, s.Current())
}

func TestNonStrictModeSkipsArtifactCheck(t *testing.T) {
	s := New(WithStrictMode(false))
	require.NoError(t, s.Transition(phase.Context))
	require.NoError(t, s.Transition(phase.Plan))
}

// TestCritiqueExhaustion is Scenario D from spec section 8: current=Plan,
// counter already at max, Validate->Plan must be rejected.
func TestCritiqueExhaustion(t *testing.T) {
	s := New(WithMaxCritiques(1), WithStrictMode(false))
	require.NoError(t, s.Transition(phase.Context))
	require.NoError(t, s.Transition(phase.Plan))
	require.NoError(t, s.Transition(phase.Validate))

	// First Validate->Plan critique consumes the only slot.
	require.NoError(t, s.Transition(phase.Plan))
	assert.Equal(t, 1, s.CritiqueCount())

	require.NoError(t, s.Transition(phase.Validate))
	err := s.Transition(phase.Plan)
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryCritiqueExhausted))
	// Rejected transition must not move current phase or log an entry.
	assert.Equal(t, phase.Validate, s.Current())
	assert.Len(t, s.Log(), 5)
}

func TestPlanEntryFromContextDoesNotIncrementCritiques(t *testing.T) {
	s := New(WithStrictMode(false))
	require.NoError(t, s.Transition(phase.Context))
	require.NoError(t, s.Transition(phase.Plan))
	assert.Equal(t, 0, s.CritiqueCount())
}

func TestPlanSelfLoopIncrementsCritiques(t *testing.T) {
	s := New(WithStrictMode(false))
	require.NoError(t, s.Transition(phase.Context))
	require.NoError(t, s.Transition(phase.Plan))
	require.NoError(t, s.Transition(phase.Plan))
	assert.Equal(t, 1, s.CritiqueCount())
}

func TestGateDenied(t *testing.T) {
	s := New(WithStrictMode(false), WithGate(func(from, to phase.Phase) bool {
		return to != phase.Plan
	}))
	require.NoError(t, s.Transition(phase.Context))
	err := s.Transition(phase.Plan)
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryGateDenied))
}

func TestRegisterArtifactOverwriteIsIdempotentOnLog(t *testing.T) {
	s := New(WithStrictMode(false))
	s.RegisterArtifact("plan", []byte("v1"))
	before := len(s.Log())
	s.RegisterArtifact("plan", []byte("v2"))
	assert.Equal(t, before, len(s.Log()))
	a, ok := s.Artifact("plan")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), a.Content)
}

func TestSummarize(t *testing.T) {
	s := New(WithStrictMode(false))
	require.NoError(t, s.Transition(phase.Context))
	sum := s.Summarize()
	assert.Equal(t, phase.Context, sum.Current)
	assert.Equal(t, 1, sum.TransitionCount)
}
