// Package router implements the Request Router (spec component C8): the
// driver that takes one request through the full phase state machine,
// building the Task Graph and Delegation Enforcer at the Delegate phase
// and installing the enforcer into the Supervisor from Execute until
// Run returns.
package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GratefulDave/stravinsky-sub003/internal/agentkind"
	"github.com/GratefulDave/stravinsky-sub003/internal/delegation"
	"github.com/GratefulDave/stravinsky-sub003/internal/graph"
	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
	"github.com/GratefulDave/stravinsky-sub003/internal/phase"
	"github.com/GratefulDave/stravinsky-sub003/internal/state"
	"github.com/GratefulDave/stravinsky-sub003/internal/supervisor"
)

// TaskSpec describes one unit of delegated work the PlanFunc has
// decided the request needs.
type TaskSpec struct {
	ID          string
	Description string
	Kind        string
	Deps        []string
}

// ClassifyFunc produces the classification artifact from the raw
// request payload.
type ClassifyFunc func(ctx context.Context, request string) ([]byte, error)

// ContextFunc produces the context artifact.
type ContextFunc func(ctx context.Context, s *state.State) ([]byte, error)

// WisdomFunc produces the optional wisdom artifact between Context and
// Plan. A nil WisdomFunc skips the Wisdom phase entirely; the machine
// moves Context -> Plan directly.
type WisdomFunc func(ctx context.Context, s *state.State) ([]byte, error)

// PlanFunc produces the plan artifact and the task graph it describes.
type PlanFunc func(ctx context.Context, s *state.State) ([]byte, []TaskSpec, error)

// ValidateFunc inspects the plan artifact and either approves it
// (returning true) or asks for a revision (returning false).
type ValidateFunc func(ctx context.Context, s *state.State, tasks []TaskSpec) (approved bool, err error)

// ExecuteTaskFunc runs one delegated task to completion, returning its
// result payload.
type ExecuteTaskFunc func(ctx context.Context, task TaskSpec) (result any, err error)

// VerifyFunc inspects the execution result and produces the final
// verification artifact.
type VerifyFunc func(ctx context.Context, s *state.State, results map[string]any) ([]byte, error)

// Hooks bundles the caller-supplied phase handlers. Every field except
// Wisdom is required; Router.Run returns an error if one is nil.
type Hooks struct {
	Classify ClassifyFunc
	Context  ContextFunc
	Wisdom   WisdomFunc
	Plan     PlanFunc
	Validate ValidateFunc
	Execute  ExecuteTaskFunc
	Verify   VerifyFunc
}

// Router drives one request through Classify -> ... -> Verify, wiring
// the Task Graph and Delegation Enforcer around the Delegate and
// Execute phases.
type Router struct {
	registry   *agentkind.Registry
	supervisor *supervisor.Supervisor
	windowMS   int64
	strict     bool
	logger     *zap.Logger
}

// Option configures a new Router.
type Option func(*Router)

// WithWindowMS overrides the Delegation Enforcer's timing window.
func WithWindowMS(ms int64) Option {
	return func(r *Router) { r.windowMS = ms }
}

// WithStrictDelegation toggles strict wave-compliance enforcement.
func WithStrictDelegation(strict bool) Option {
	return func(r *Router) { r.strict = strict }
}

// WithLogger attaches a structured logger; it is propagated to the task
// graph and delegation enforcer built for each request. A nil logger is
// equivalent to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// New builds a Router bound to registry and sup.
func New(registry *agentkind.Registry, sup *supervisor.Supervisor, opts ...Option) *Router {
	r := &Router{
		registry:   registry,
		supervisor: sup,
		windowMS:   delegation.DefaultWindowMS,
		strict:     true,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Result is the terminal outcome of one Run call.
type Result struct {
	FinalState    *state.State
	TaskResults   map[string]any
	FailedTaskIDs []string
}

// Run drives request through the complete phase machine once, ending at
// Verify. It is the single entry point described for the Request Router:
// orchestrator state, task graph, and delegation enforcer are all scoped
// to this one call.
func (r *Router) Run(ctx context.Context, request string, hooks Hooks, opts ...state.Option) (*Result, error) {
	if err := validateHooks(hooks); err != nil {
		return nil, err
	}

	allOpts := append([]state.Option{state.WithLogger(r.logger)}, opts...)
	s := state.New(allOpts...)
	r.logger.Info("request started")

	classification, err := hooks.Classify(ctx, request)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.CategoryChildFailure, "classify phase", err)
	}
	s.RegisterArtifact("classification", classification)
	if err := s.Transition(phase.Context); err != nil {
		return nil, err
	}

	ctxArtifact, err := hooks.Context(ctx, s)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.CategoryChildFailure, "context phase", err)
	}
	s.RegisterArtifact("context", ctxArtifact)

	if hooks.Wisdom != nil {
		if err := s.Transition(phase.Wisdom); err != nil {
			return nil, err
		}
		wisdom, err := hooks.Wisdom(ctx, s)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.CategoryChildFailure, "wisdom phase", err)
		}
		s.RegisterArtifact("wisdom", wisdom)
	}

	if err := s.Transition(phase.Plan); err != nil {
		return nil, err
	}

	var tasks []TaskSpec
	for {
		planArtifact, planned, err := hooks.Plan(ctx, s)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.CategoryChildFailure, "plan phase", err)
		}
		s.RegisterArtifact("plan", planArtifact)
		tasks = planned

		if err := s.Transition(phase.Validate); err != nil {
			return nil, err
		}
		approved, err := hooks.Validate(ctx, s, tasks)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.CategoryChildFailure, "validate phase", err)
		}
		if approved {
			s.RegisterArtifact("validation", []byte("approved"))
			break
		}
		if err := s.Transition(phase.Plan); err != nil {
			return nil, err
		}
	}

	if err := s.Transition(phase.Delegate); err != nil {
		return nil, err
	}

	taskGraph := graph.New(graph.WithLogger(r.logger))
	for _, t := range tasks {
		if err := taskGraph.AddTask(t.ID, t.Description, t.Kind, t.Deps); err != nil {
			return nil, err
		}
	}
	specsByID := make(map[string]TaskSpec, len(tasks))
	for _, t := range tasks {
		specsByID[t.ID] = t
	}

	enforcer, err := delegation.New(taskGraph,
		delegation.WithWindowMS(r.windowMS),
		delegation.WithStrict(r.strict),
		delegation.WithLogger(r.logger),
	)
	if err != nil {
		return nil, err
	}

	s.RegisterArtifact("delegation-targets", []byte(fmt.Sprintf("%d tasks", len(tasks))))
	s.RegisterArtifact("task-graph", []byte(fmt.Sprintf("%d tasks, first wave size %d", taskGraph.Size(), len(enforcer.CurrentWave()))))
	if err := s.Transition(phase.Execute); err != nil {
		return nil, err
	}

	r.supervisor.SetCurrentEnforcer(enforcer)
	defer r.supervisor.ClearCurrentEnforcer()

	results := make(map[string]any)
	var failed []string

	for !enforcer.Done() {
		wave := enforcer.CurrentWave()

		// All of a wave's spawns are recorded back-to-back so the
		// enforcer measures dispatch latency, not execution latency;
		// each task then runs concurrently on its own goroutine.
		type outcome struct {
			result any
			err    error
		}
		outcomes := make(map[string]*outcome, len(wave))
		var g errgroup.Group
		for _, taskID := range wave {
			spec := specsByID[taskID]
			if err := enforcer.RecordSpawn(taskID, nil); err != nil {
				return nil, err
			}
			out := &outcome{}
			outcomes[taskID] = out
			g.Go(func() error {
				out.result, out.err = hooks.Execute(ctx, spec)
				return nil
			})
		}
		_ = g.Wait()

		// Compliance is measured while this wave is still current;
		// marking completions below auto-advances the cursor.
		if _, err := enforcer.CheckCompliance(); err != nil {
			return nil, err
		}

		for _, taskID := range wave {
			out := outcomes[taskID]
			if out.err != nil {
				failed = append(failed, taskID)
				if markErr := enforcer.MarkFailed(taskID, out.err); markErr != nil {
					return nil, markErr
				}
				continue
			}
			results[taskID] = out.result
			if markErr := enforcer.MarkCompleted(taskID, out.result); markErr != nil {
				return nil, markErr
			}
		}
		if len(failed) > 0 {
			break
		}
	}

	s.RegisterArtifact("execution-result", []byte(fmt.Sprintf("%d completed, %d failed", len(results), len(failed))))
	if err := s.Transition(phase.Verify); err != nil {
		return nil, err
	}
	verifyArtifact, err := hooks.Verify(ctx, s, results)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.CategoryChildFailure, "verify phase", err)
	}
	s.RegisterArtifact("verification", verifyArtifact)

	r.logger.Info("request completed", zap.Int("completed_tasks", len(results)), zap.Int("failed_tasks", len(failed)))
	return &Result{FinalState: s, TaskResults: results, FailedTaskIDs: failed}, nil
}

func validateHooks(h Hooks) error {
	if h.Classify == nil || h.Context == nil || h.Plan == nil || h.Validate == nil || h.Execute == nil || h.Verify == nil {
		return orcherr.New(orcherr.CategoryMissingArtifacts, "router requires every phase hook to be set")
	}
	return nil
}
