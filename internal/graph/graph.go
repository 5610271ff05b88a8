// Package graph implements the Task Graph: a DAG of child tasks, the
// derived wave partition computed by Kahn's algorithm, and per-task
// lifecycle tracking. It follows the same constructor, registration,
// and error-wrapping conventions as internal/state so the two read as
// one system.
package graph

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
)

// Status is a Task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSpawned   Status = "spawned"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is one node of the graph.
type Task struct {
	ID          string
	Description string
	Kind        string
	Deps        []string

	status      Status
	spawnedAt   int64
	hasSpawnTS  bool
	handleRef   any
	result      any
	failureErr  error
}

// Status returns the task's current lifecycle status.
func (t *Task) Status() Status { return t.status }

// Result returns the stored result, if any.
func (t *Task) Result() any { return t.result }

// SpawnedAt returns the recorded monotonic spawn timestamp and whether
// one has been recorded.
func (t *Task) SpawnedAt() (int64, bool) { return t.spawnedAt, t.hasSpawnTS }

// Graph is the ordered id->Task mapping plus the lazily computed wave
// partition.
type Graph struct {
	order []string
	tasks map[string]*Task

	waves    [][]string
	computed bool

	logger *zap.Logger
}

// Option configures a new Graph.
type Option func(*Graph)

// WithLogger attaches a structured logger; wave computation is logged
// at debug level, and task failures and detected cycles at warn level.
// A nil logger is equivalent to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(g *Graph) { g.logger = logger }
}

// New creates an empty task graph.
func New(opts ...Option) *Graph {
	g := &Graph{tasks: make(map[string]*Task), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// AddTask appends a task. Duplicate ids and references to unknown
// dependency ids are rejected immediately; cycle detection is deferred
// to Waves().
func (g *Graph) AddTask(id, description, kind string, deps []string) error {
	if _, exists := g.tasks[id]; exists {
		return orcherr.New(orcherr.CategoryIllegalTaskTransition, fmt.Sprintf("duplicate task id %q", id))
	}
	for _, d := range deps {
		if _, ok := g.tasks[d]; !ok {
			return orcherr.New(orcherr.CategoryIllegalTaskTransition,
				fmt.Sprintf("task %q depends on unknown task %q", id, d))
		}
	}
	g.tasks[id] = &Task{
		ID:          id,
		Description: description,
		Kind:        kind,
		Deps:        append([]string(nil), deps...),
		status:      StatusPending,
	}
	g.order = append(g.order, id)
	g.computed = false
	return nil
}

// Task returns the task by id.
func (g *Graph) Task(id string) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Size returns the number of tasks in the graph.
func (g *Graph) Size() int { return len(g.order) }

// Waves computes the topological level partition via repeated Kahn-style
// levelling: wave 0 is every task with no dependencies, wave k is every
// task whose dependencies are all in waves < k. The computation is
// cached; subsequent calls return the same slice. Ordering within a wave
// follows insertion order for reproducibility.
func (g *Graph) Waves() ([][]string, error) {
	if g.computed {
		return g.waves, nil
	}

	indegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		t := g.tasks[id]
		indegree[id] = len(t.Deps)
		for _, d := range t.Deps {
			dependents[d] = append(dependents[d], id)
		}
	}

	remaining := len(g.order)
	var waves [][]string
	emitted := make(map[string]bool, len(g.order))

	for remaining > 0 {
		var wave []string
		for _, id := range g.order {
			if !emitted[id] && indegree[id] == 0 {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			break
		}
		for _, id := range wave {
			emitted[id] = true
		}
		remaining -= len(wave)
		for _, id := range wave {
			for _, dep := range dependents[id] {
				indegree[dep]--
			}
		}
		waves = append(waves, wave)
	}

	if remaining > 0 {
		var cyclic []string
		for _, id := range g.order {
			if !emitted[id] {
				cyclic = append(cyclic, id)
			}
		}
		g.logger.Warn("cycle detected computing waves", zap.Strings("offending_ids", cyclic))
		return nil, orcherr.New(orcherr.CategoryCycleError,
			"cycle detected among tasks: "+strings.Join(cyclic, ", "))
	}

	g.waves = waves
	g.computed = true
	g.logger.Debug("waves computed", zap.Int("wave_count", len(waves)), zap.Int("task_count", len(g.order)))
	return waves, nil
}

// ReadyTasks returns every task whose status is Pending and whose
// dependencies are all Completed.
func (g *Graph) ReadyTasks() []*Task {
	var ready []*Task
	for _, id := range g.order {
		t := g.tasks[id]
		if t.status != StatusPending {
			continue
		}
		if g.depsCompleted(t) {
			ready = append(ready, t)
		}
	}
	return ready
}

func (g *Graph) depsCompleted(t *Task) bool {
	for _, d := range t.Deps {
		dep, ok := g.tasks[d]
		if !ok || dep.status != StatusCompleted {
			return false
		}
	}
	return true
}

// MarkSpawned transitions id from Pending to Spawned. It is the only
// legal origin for Spawned; marking an unknown or non-Pending task is an
// IllegalTaskTransition.
func (g *Graph) MarkSpawned(id string, handleRef any, monotonicTS int64) error {
	t, err := g.mustGet(id)
	if err != nil {
		return err
	}
	if t.status != StatusPending {
		return g.illegalTransition(id, t.status, StatusSpawned)
	}
	if !g.depsCompleted(t) {
		return orcherr.New(orcherr.CategoryIllegalTaskTransition,
			fmt.Sprintf("task %q has unmet dependencies", id))
	}
	t.status = StatusSpawned
	t.handleRef = handleRef
	t.spawnedAt = monotonicTS
	t.hasSpawnTS = true
	return nil
}

// MarkRunning transitions id from Spawned to Running.
func (g *Graph) MarkRunning(id string) error {
	t, err := g.mustGet(id)
	if err != nil {
		return err
	}
	if t.status != StatusSpawned {
		return g.illegalTransition(id, t.status, StatusRunning)
	}
	t.status = StatusRunning
	return nil
}

// MarkCompleted transitions id to Completed from Spawned or Running.
func (g *Graph) MarkCompleted(id string, result any) error {
	t, err := g.mustGet(id)
	if err != nil {
		return err
	}
	if t.status != StatusSpawned && t.status != StatusRunning {
		return g.illegalTransition(id, t.status, StatusCompleted)
	}
	t.status = StatusCompleted
	t.result = result
	return nil
}

// MarkFailed transitions id to Failed from Spawned or Running.
func (g *Graph) MarkFailed(id string, cause error) error {
	t, err := g.mustGet(id)
	if err != nil {
		return err
	}
	if t.status != StatusSpawned && t.status != StatusRunning {
		return g.illegalTransition(id, t.status, StatusFailed)
	}
	t.status = StatusFailed
	t.failureErr = cause
	g.logger.Warn("task failed", zap.String("task_id", id), zap.Error(cause))
	return nil
}

func (g *Graph) mustGet(id string) (*Task, error) {
	t, ok := g.tasks[id]
	if !ok {
		return nil, orcherr.New(orcherr.CategoryIllegalTaskTransition, fmt.Sprintf("unknown task %q", id))
	}
	return t, nil
}

func (g *Graph) illegalTransition(id string, from, to Status) error {
	return orcherr.New(orcherr.CategoryIllegalTaskTransition,
		fmt.Sprintf("task %q cannot move from %s to %s", id, from, to))
}
