package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/GratefulDave/stravinsky-sub003/internal/agentkind"
	"github.com/GratefulDave/stravinsky-sub003/internal/climiter"
	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestSupervisor(opts ...Option) *Supervisor {
	registry := agentkind.Default()
	limiter := climiter.New(climiter.WithKindCapacity("implementer", 4), climiter.WithRateLimit(1000, 60_000))
	return New(registry, limiter, opts...)
}

func TestSpawnRunsCommandAndReportsCompleted(t *testing.T) {
	s := newTestSupervisor()
	handle, err := s.Spawn(context.Background(), SpawnSpec{
		TaskID:     "t1",
		Kind:       "implementer",
		ParentKind: "orchestrator",
		Command:    "sh",
		Args:       []string{"-c", "echo hello"},
	})
	require.NoError(t, err)
	handle.Wait()
	assert.Equal(t, ChildCompleted, handle.Status())
	assert.NotEmpty(t, handle.ID)
	assert.NotEqual(t, handle.TaskID, handle.ID)
}

func TestSpawnStreamsStdoutLines(t *testing.T) {
	s := newTestSupervisor()
	var mu sync.Mutex
	var lines []string

	handle, err := s.Spawn(context.Background(), SpawnSpec{
		TaskID:     "t2",
		Kind:       "implementer",
		ParentKind: "orchestrator",
		Command:    "sh",
		Args:       []string{"-c", "echo one; echo two"},
		Stdout: func(childID, line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	handle.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"one", "two"}, lines)
}

func TestOutputBlockingReturnsFinalBytes(t *testing.T) {
	s := newTestSupervisor()
	handle, err := s.Spawn(context.Background(), SpawnSpec{
		TaskID: "t2b", Kind: "implementer", ParentKind: "orchestrator",
		Command: "sh", Args: []string{"-c", "echo alpha; echo beta"},
	})
	require.NoError(t, err)

	out, err := s.Output(context.Background(), handle.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\n", string(out))
}

func TestProgressReturnsBoundedTail(t *testing.T) {
	s := newTestSupervisor(WithProgressBytes(4))
	handle, err := s.Spawn(context.Background(), SpawnSpec{
		TaskID: "t2c", Kind: "implementer", ParentKind: "orchestrator",
		Command: "sh", Args: []string{"-c", "echo abcdefgh"},
	})
	require.NoError(t, err)
	handle.Wait()

	tail, err := s.Progress(handle.ID)
	require.NoError(t, err)
	assert.Equal(t, "fgh\n", string(tail))
}

func TestSpawnRejectsUnknownKind(t *testing.T) {
	s := newTestSupervisor()
	_, err := s.Spawn(context.Background(), SpawnSpec{
		TaskID: "t3", Kind: "ghost", Command: "sh", Args: []string{"-c", "true"},
	})
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryUnknownKind))
}

// TestScenarioEHierarchyViolation mirrors a worker-kind parent
// attempting to spawn another worker: it must be rejected before a
// process is ever launched.
func TestScenarioEHierarchyViolation(t *testing.T) {
	s := newTestSupervisor()
	_, err := s.Spawn(context.Background(), SpawnSpec{
		TaskID:     "t4",
		Kind:       "reviewer",
		ParentKind: "implementer",
		Command:    "sh",
		Args:       []string{"-c", "true"},
	})
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.CategoryHierarchyViolation))
	assert.Empty(t, s.List())
}

func TestSpawnReportsFailedOnNonZeroExit(t *testing.T) {
	s := newTestSupervisor()
	handle, err := s.Spawn(context.Background(), SpawnSpec{
		TaskID: "t5", Kind: "implementer", ParentKind: "orchestrator",
		Command: "sh", Args: []string{"-c", "exit 1"},
	})
	require.NoError(t, err)
	handle.Wait()
	assert.Equal(t, ChildFailed, handle.Status())
	require.Error(t, handle.Err())
	assert.True(t, orcherr.Is(handle.Err(), orcherr.CategoryChildFailure))
}

// TestCancellationMidRun cancels a long-running child and observes it
// reach Cancelled status within the grace period.
func TestCancellationMidRun(t *testing.T) {
	s := newTestSupervisor(WithGracePeriod(50 * time.Millisecond))
	handle, err := s.Spawn(context.Background(), SpawnSpec{
		TaskID: "t6", Kind: "implementer", ParentKind: "orchestrator",
		Command: "sh", Args: []string{"-c", "sleep 5"},
	})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(handle.ID))
	assert.Equal(t, ChildCancelled, handle.Status())

	// Idempotent: cancelling a terminal child is a no-op.
	require.NoError(t, s.Cancel(handle.ID))
}

func TestCancelAllSweepsRunningChildren(t *testing.T) {
	s := newTestSupervisor(WithGracePeriod(50 * time.Millisecond))
	var handles []*ChildHandle
	for _, id := range []string{"c1", "c2"} {
		h, err := s.Spawn(context.Background(), SpawnSpec{
			TaskID: id, Kind: "implementer", ParentKind: "orchestrator",
			Command: "sh", Args: []string{"-c", "sleep 5"},
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	require.NoError(t, s.CancelAll())
	for _, h := range handles {
		assert.Equal(t, ChildCancelled, h.Status())
	}
}

func TestCleanupRemovesTerminalChildren(t *testing.T) {
	s := newTestSupervisor()
	handle, err := s.Spawn(context.Background(), SpawnSpec{
		TaskID: "t7", Kind: "implementer", ParentKind: "orchestrator",
		Command: "sh", Args: []string{"-c", "true"},
	})
	require.NoError(t, err)
	handle.Wait()

	s.Cleanup(0)
	_, ok := s.Get(handle.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, handle.ExitCode())
	assert.False(t, handle.EndedAt().IsZero())
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	s := newTestSupervisor(WithMaxRetries(2))
	_, err := s.Retry(context.Background(), SpawnSpec{
		TaskID: "t8", Kind: "implementer", ParentKind: "orchestrator",
		Command: "sh", Args: []string{"-c", "exit 1"},
	})
	require.Error(t, err)
}
