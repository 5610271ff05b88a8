package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
)

func TestEmptyGraphHasNoWaves(t *testing.T) {
	g := New()
	waves, err := g.Waves()
	require.NoError(t, err)
	assert.Empty(t, waves)
	assert.Empty(t, g.ReadyTasks())
}

func TestSingleTaskIsOneWave(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("a", "do a", "worker", nil))
	waves, err := g.Waves()
	require.NoError(t, err)
	require.Len(t, waves, 1)
	assert.Equal(t, []string{"a"}, waves[0])
}

// TestTwoWaveDiamond mirrors spec Scenario A's two-wave shape: two
// independent roots followed by a task that depends on both.
func TestTwoWaveDiamond(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("a", "", "worker", nil))
	require.NoError(t, g.AddTask("b", "", "worker", nil))
	require.NoError(t, g.AddTask("c", "", "worker", []string{"a", "b"}))

	waves, err := g.Waves()
	require.NoError(t, err)
	require.Len(t, waves, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, waves[0])
	assert.Equal(t, []string{"c"}, waves[1])
}

func TestDisconnectedComponentsPartitionIndependently(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("a", "", "worker", nil))
	require.NoError(t, g.AddTask("b", "", "worker", []string{"a"}))
	require.NoError(t, g.AddTask("x", "", "worker", nil))

	waves, err := g.Waves()
	require.NoError(t, err)
	require.Len(t, waves, 2)
	assert.ElementsMatch(t, []string{"a", "x"}, waves[0])
	assert.Equal(t, []string{"b"}, waves[1])
}

func TestWavesPreserveInsertionOrderWithinALevel(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("c", "", "worker", nil))
	require.NoError(t, g.AddTask("a", "", "worker", nil))
	require.NoError(t, g.AddTask("b", "", "worker", nil))

	waves, err := g.Waves()
	require.NoError(t, err)
	require.Len(t, waves, 1)
	assert.Equal(t, []string{"c", "a", "b"}, waves[0])
}

func TestAddTaskRejectsUnknownDependency(t *testing.T) {
	g := New()
	err := g.AddTask("a", "", "worker", []string{"ghost"})
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryIllegalTaskTransition))
}

func TestAddTaskRejectsDuplicateID(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("a", "", "worker", nil))
	err := g.AddTask("a", "", "worker", nil)
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryIllegalTaskTransition))
}

func TestCycleIsDetected(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("a", "", "worker", nil))
	require.NoError(t, g.AddTask("b", "", "worker", []string{"a"}))
	// Manually wire a's Deps to include b to force a cycle without
	// tripping AddTask's forward-reference check.
	g.tasks["a"].Deps = append(g.tasks["a"].Deps, "b")

	_, err := g.Waves()
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryCycleError))
}

func TestReadyTasksRequireCompletedDependencies(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("a", "", "worker", nil))
	require.NoError(t, g.AddTask("b", "", "worker", []string{"a"}))

	ready := g.ReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)

	require.NoError(t, g.MarkSpawned("a", nil, 0))
	require.NoError(t, g.MarkRunning("a"))
	require.NoError(t, g.MarkCompleted("a", "done"))

	ready = g.ReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].ID)
}

func TestMarkSpawnedRejectsUnmetDependencies(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("a", "", "worker", nil))
	require.NoError(t, g.AddTask("b", "", "worker", []string{"a"}))

	err := g.MarkSpawned("b", nil, 0)
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryIllegalTaskTransition))
}

func TestMarkSpawnedTwiceIsIllegal(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("a", "", "worker", nil))
	require.NoError(t, g.MarkSpawned("a", nil, 0))
	err := g.MarkSpawned("a", nil, 0)
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryIllegalTaskTransition))
}

func TestMarkFailedFromRunning(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask("a", "", "worker", nil))
	require.NoError(t, g.MarkSpawned("a", nil, 0))
	require.NoError(t, g.MarkRunning("a"))
	require.NoError(t, g.MarkFailed("a", assertErr))

	task, ok := g.Task("a")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, task.Status())
}

func TestMarkCompletedOnUnknownTaskIsIllegal(t *testing.T) {
	g := New()
	err := g.MarkCompleted("ghost", nil)
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryIllegalTaskTransition))
}

var assertErr = assertError{"boom"}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
