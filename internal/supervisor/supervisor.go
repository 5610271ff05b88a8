// Package supervisor implements the Agent Supervisor (spec component
// C6): non-blocking subprocess spawning of agent-kind children, with
// streaming output, cancellation, retries, and per-kind concurrency
// caps taken from the Concurrency Limiter. Spawns are also validated
// against the currently installed Delegation Enforcer, if any.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GratefulDave/stravinsky-sub003/internal/agentkind"
	"github.com/GratefulDave/stravinsky-sub003/internal/climiter"
	"github.com/GratefulDave/stravinsky-sub003/internal/delegation"
	"github.com/GratefulDave/stravinsky-sub003/internal/orcherr"
)

// ChildRecorder receives child-lifecycle metrics from a Supervisor.
// internal/metrics.Orchestration satisfies this interface.
type ChildRecorder interface {
	ChildStarted(ctx context.Context, kind string)
	ChildFinished(ctx context.Context, kind string)
}

type nopChildRecorder struct{}

func (nopChildRecorder) ChildStarted(context.Context, string)  {}
func (nopChildRecorder) ChildFinished(context.Context, string) {}

// DefaultGracePeriod is how long Cancel waits after an interrupt signal
// before escalating to a forceful kill.
const DefaultGracePeriod = 2 * time.Second

// DefaultProgressBytes bounds how much of the output tail Progress
// returns.
const DefaultProgressBytes = 4096

// ChildStatus tracks a spawned child process.
type ChildStatus string

const (
	ChildRunning   ChildStatus = "running"
	ChildCompleted ChildStatus = "completed"
	ChildFailed    ChildStatus = "failed"
	ChildCancelled ChildStatus = "cancelled"
)

// OutputSink receives incremental output lines from a child as they
// arrive. Implementations must not block for long; the supervisor calls
// them synchronously from the child's reader goroutine.
type OutputSink func(childID, line string)

// ChildHandle is the caller-visible reference to a spawned agent
// process. The handle ID is assigned by the supervisor and is distinct
// from the task-graph id the spawn was issued for; retries of the same
// task produce fresh handles. Holders poll and cancel through it but
// never own the process: the supervisor does.
type ChildHandle struct {
	ID         string
	TaskID     string
	Kind       string
	ParentKind string

	mu        sync.Mutex
	status    ChildStatus
	err       error
	stdout    []byte
	stderr    []byte
	startedAt time.Time
	endedAt   time.Time
	exitCode  int

	cmd             *exec.Cmd
	cancel          context.CancelFunc
	done            chan struct{}
	cancelRequested bool
}

// StartedAt returns when the child process was started.
func (c *ChildHandle) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// EndedAt returns when the child reached a terminal status, or the zero
// time while it is still running.
func (c *ChildHandle) EndedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endedAt
}

// ExitCode returns the child's exit code, valid once terminal; -1 while
// running or when the process was killed before exiting.
func (c *ChildHandle) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

// Status returns the child's current lifecycle status.
func (c *ChildHandle) Status() ChildStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error that caused a Failed status, if any.
func (c *ChildHandle) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Output returns a copy of everything the child has written to stdout
// so far, in emission order.
func (c *ChildHandle) Output() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.stdout...)
}

// Stderr returns a copy of everything the child has written to stderr
// so far.
func (c *ChildHandle) Stderr() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.stderr...)
}

func (c *ChildHandle) appendStdout(line string) {
	c.mu.Lock()
	c.stdout = append(c.stdout, line...)
	c.stdout = append(c.stdout, '\n')
	c.mu.Unlock()
}

func (c *ChildHandle) appendStderr(line string) {
	c.mu.Lock()
	c.stderr = append(c.stderr, line...)
	c.stderr = append(c.stderr, '\n')
	c.mu.Unlock()
}

func (c *ChildHandle) setStatus(status ChildStatus, err error, exitCode int) {
	c.mu.Lock()
	c.status = status
	c.err = err
	c.endedAt = time.Now()
	c.exitCode = exitCode
	c.mu.Unlock()
}

// Wait blocks until the child process exits.
func (c *ChildHandle) Wait() {
	<-c.done
}

// Supervisor spawns and tracks agent-kind child processes.
type Supervisor struct {
	registry      *agentkind.Registry
	limiter       *climiter.Limiter
	gracePeriod   time.Duration
	maxRetries    int
	progressBytes int

	mu       sync.Mutex
	children map[string]*ChildHandle

	enforcerMu sync.Mutex
	enforcer   *delegation.Enforcer

	logger   *zap.Logger
	recorder ChildRecorder
}

// Option configures a new Supervisor.
type Option func(*Supervisor)

// WithGracePeriod overrides the default 2s graceful-cancellation window.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.gracePeriod = d }
}

// WithMaxRetries sets how many extra attempts Retry makes after a failed
// one before giving up (default 0, no retries). Spawn itself never
// retries.
func WithMaxRetries(n int) Option {
	return func(s *Supervisor) { s.maxRetries = n }
}

// WithProgressBytes overrides the Progress tail cap (default 4096).
func WithProgressBytes(n int) Option {
	return func(s *Supervisor) { s.progressBytes = n }
}

// WithLogger attaches a structured logger; spawn, cancellation, and
// exit events are logged. A nil logger is equivalent to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithChildRecorder attaches a metrics recorder for child lifecycle
// events.
func WithChildRecorder(r ChildRecorder) Option {
	return func(s *Supervisor) { s.recorder = r }
}

// New builds a Supervisor bound to the given agent-kind registry and
// concurrency limiter.
func New(registry *agentkind.Registry, limiter *climiter.Limiter, opts ...Option) *Supervisor {
	s := &Supervisor{
		registry:      registry,
		limiter:       limiter,
		gracePeriod:   DefaultGracePeriod,
		progressBytes: DefaultProgressBytes,
		children:      make(map[string]*ChildHandle),
		logger:        zap.NewNop(),
		recorder:      nopChildRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.recorder == nil {
		s.recorder = nopChildRecorder{}
	}
	return s
}

// SetCurrentEnforcer installs the Delegation Enforcer the Supervisor
// should consult before spawning, avoiding a direct ownership cycle
// between the two packages: the router owns both and swaps this pointer
// in around the Delegate->Execute transition. A nil value clears it.
func (s *Supervisor) SetCurrentEnforcer(e *delegation.Enforcer) {
	s.enforcerMu.Lock()
	s.enforcer = e
	s.enforcerMu.Unlock()
}

// ClearCurrentEnforcer removes the installed enforcer.
func (s *Supervisor) ClearCurrentEnforcer() {
	s.SetCurrentEnforcer(nil)
}

func (s *Supervisor) currentEnforcer() *delegation.Enforcer {
	s.enforcerMu.Lock()
	defer s.enforcerMu.Unlock()
	return s.enforcer
}

// SpawnSpec describes one child process to launch.
type SpawnSpec struct {
	TaskID     string
	Kind       string
	ParentKind string
	Command    string
	Args       []string
	// Prompt is the caller's inbound prompt for the child. The
	// registry's injected preamble for Kind is prepended before it is
	// written to the child's stdin, per the delegation contract; the
	// supervisor treats both strings as opaque.
	Prompt string
	// ModelOverride and ThinkingBudget are appended to the child's
	// command line as flags when set.
	ModelOverride  string
	ThinkingBudget int
	Stdout         OutputSink
	Stderr         OutputSink
}

// Spawn validates the hierarchy and installed enforcer, acquires a
// concurrency slot for Kind, and launches the child non-blockingly: it
// returns as soon as the process has started, with the child's exit
// tracked asynchronously. The returned handle carries a fresh
// supervisor-assigned id, distinct from spec.TaskID.
func (s *Supervisor) Spawn(ctx context.Context, spec SpawnSpec) (*ChildHandle, error) {
	desc, err := s.registry.Lookup(spec.Kind)
	if err != nil {
		return nil, err
	}
	if spec.ParentKind != "" {
		canDelegate, err := s.registry.CanDelegate(spec.ParentKind, spec.Kind)
		if err != nil {
			return nil, err
		}
		if !canDelegate {
			return nil, orcherr.New(orcherr.CategoryHierarchyViolation,
				fmt.Sprintf("agent kind %q may not spawn %q", spec.ParentKind, spec.Kind))
		}
	}
	if enforcer := s.currentEnforcer(); enforcer != nil && spec.TaskID != "" {
		if err := enforcer.ValidateSpawn(spec.TaskID); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	if err := s.limiter.Acquire(ctx, spec.Kind); err != nil {
		return nil, err
	}
	s.logger.Debug("concurrency slot acquired", zap.String("kind", spec.Kind), zap.Duration("wait", time.Since(start)))

	args := append([]string(nil), spec.Args...)
	if spec.ModelOverride != "" {
		args = append(args, "--model", spec.ModelOverride)
	}
	if spec.ThinkingBudget > 0 {
		args = append(args, "--thinking-budget", strconv.Itoa(spec.ThinkingBudget))
	}

	childCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(childCtx, spec.Command, args...)

	// The kind's permitted capabilities travel in the environment so the
	// child can refuse operations outside its descriptor.
	caps := make([]string, 0, len(desc.Capabilities))
	for capName := range desc.Capabilities {
		caps = append(caps, capName)
	}
	sort.Strings(caps)
	cmd.Env = append(os.Environ(), "BRIDGEORCH_CAPABILITIES="+strings.Join(caps, ","))

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		s.limiter.Release(spec.Kind)
		return nil, orcherr.Wrap(orcherr.CategoryChildFailure, "creating stdin pipe", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		s.limiter.Release(spec.Kind)
		return nil, orcherr.Wrap(orcherr.CategoryChildFailure, "creating stdout pipe", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		s.limiter.Release(spec.Kind)
		return nil, orcherr.Wrap(orcherr.CategoryChildFailure, "creating stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		s.limiter.Release(spec.Kind)
		return nil, orcherr.Wrap(orcherr.CategoryChildFailure, fmt.Sprintf("starting agent kind %q", spec.Kind), err)
	}

	inbound := desc.Preamble
	if spec.Prompt != "" {
		inbound += "\n\n" + spec.Prompt
	}
	go func() {
		defer stdinPipe.Close()
		_, _ = io.WriteString(stdinPipe, inbound)
	}()

	handle := &ChildHandle{
		ID:         uuid.NewString(),
		TaskID:     spec.TaskID,
		Kind:       spec.Kind,
		ParentKind: spec.ParentKind,
		status:     ChildRunning,
		startedAt:  time.Now(),
		exitCode:   -1,
		cmd:        cmd,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	s.logger.Info("child spawned",
		zap.String("handle_id", handle.ID), zap.String("task_id", spec.TaskID),
		zap.String("kind", spec.Kind), zap.String("parent_kind", spec.ParentKind))
	s.recorder.ChildStarted(ctx, spec.Kind)

	s.mu.Lock()
	s.children[handle.ID] = handle
	s.mu.Unlock()

	// Both pipes are drained before cmd.Wait, which closes them.
	var streams sync.WaitGroup
	streams.Add(2)
	streamOutput(stdoutPipe, handle, handle.appendStdout, spec.Stdout, &streams)
	streamOutput(stderrPipe, handle, handle.appendStderr, spec.Stderr, &streams)

	go func() {
		streams.Wait()
		waitErr := cmd.Wait()
		s.limiter.Release(spec.Kind)
		s.recorder.ChildFinished(ctx, spec.Kind)
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		handle.mu.Lock()
		cancelRequested := handle.cancelRequested
		handle.mu.Unlock()
		switch {
		case childCtx.Err() != nil || cancelRequested:
			handle.setStatus(ChildCancelled, childCtx.Err(), exitCode)
			s.logger.Info("child cancelled", zap.String("handle_id", handle.ID), zap.String("kind", spec.Kind))
		case waitErr != nil:
			handle.setStatus(ChildFailed, orcherr.Wrap(orcherr.CategoryChildFailure,
				fmt.Sprintf("agent %q exited with error", handle.ID), waitErr), exitCode)
			s.logger.Warn("child failed", zap.String("handle_id", handle.ID), zap.String("kind", spec.Kind),
				zap.Int("exit_code", exitCode), zap.Error(waitErr))
		default:
			handle.setStatus(ChildCompleted, nil, exitCode)
			s.logger.Info("child completed", zap.String("handle_id", handle.ID), zap.String("kind", spec.Kind))
		}
		close(handle.done)
	}()

	return handle, nil
}

func streamOutput(r io.Reader, handle *ChildHandle, record func(string), sink OutputSink, wg *sync.WaitGroup) {
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			record(line)
			if sink != nil {
				sink(handle.ID, line)
			}
		}
	}()
}

// Output returns the child's accumulated stdout. With block set it
// first waits for the child to exit, so the returned bytes are final.
func (s *Supervisor) Output(ctx context.Context, id string, block bool) ([]byte, error) {
	handle, ok := s.Get(id)
	if !ok {
		return nil, orcherr.New(orcherr.CategoryIllegalTaskTransition, fmt.Sprintf("unknown child %q", id))
	}
	if block {
		select {
		case <-handle.done:
		case <-ctx.Done():
			return nil, orcherr.Wrap(orcherr.CategoryCancellation, "waiting for child output", ctx.Err())
		}
	}
	return handle.Output(), nil
}

// Progress returns a non-blocking snapshot of the tail of the child's
// stdout, bounded by the supervisor's progress cap.
func (s *Supervisor) Progress(id string) ([]byte, error) {
	handle, ok := s.Get(id)
	if !ok {
		return nil, orcherr.New(orcherr.CategoryIllegalTaskTransition, fmt.Sprintf("unknown child %q", id))
	}
	out := handle.Output()
	if len(out) > s.progressBytes {
		out = out[len(out)-s.progressBytes:]
	}
	return out, nil
}

// Cancel requests graceful termination of the child, escalating to a
// forceful kill if it has not exited within the Supervisor's grace
// period. Cancelling an already-terminal child is a no-op.
func (s *Supervisor) Cancel(id string) error {
	handle, ok := s.Get(id)
	if !ok {
		return orcherr.New(orcherr.CategoryIllegalTaskTransition, fmt.Sprintf("unknown child %q", id))
	}
	if handle.Status() != ChildRunning {
		return nil
	}

	s.logger.Info("cancelling child", zap.String("handle_id", id), zap.String("kind", handle.Kind))
	handle.mu.Lock()
	handle.cancelRequested = true
	handle.mu.Unlock()
	if handle.cmd.Process != nil {
		_ = handle.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-handle.done:
		return nil
	case <-time.After(s.gracePeriod):
	}

	s.logger.Warn("grace period elapsed, forcing kill", zap.String("handle_id", id), zap.String("kind", handle.Kind))
	handle.cancel()
	<-handle.done
	return nil
}

// CancelAll cancels every non-terminal child, aggregating any
// per-child failures.
func (s *Supervisor) CancelAll() error {
	var errs error
	for _, h := range s.List() {
		if h.Status() != ChildRunning {
			continue
		}
		if err := s.Cancel(h.ID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// List returns every child the supervisor has spawned, regardless of
// status.
func (s *Supervisor) List() []*ChildHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ChildHandle, 0, len(s.children))
	for _, h := range s.children {
		out = append(out, h)
	}
	return out
}

// Get returns the child handle for id.
func (s *Supervisor) Get(id string) (*ChildHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.children[id]
	return h, ok
}

// FindByTaskID returns a live handle for the given task-graph id, or
// any terminal one if none is live. Retries produce multiple handles
// per task; callers that need a specific attempt should track handle
// ids instead.
func (s *Supervisor) FindByTaskID(taskID string) (*ChildHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *ChildHandle
	for _, h := range s.children {
		if h.TaskID != taskID {
			continue
		}
		found = h
		if h.Status() == ChildRunning {
			break
		}
	}
	return found, found != nil
}

// Cleanup forgets every child that reached a terminal status at least
// olderThan ago, freeing its handle for garbage collection. A zero
// olderThan reaps every terminal child.
func (s *Supervisor) Cleanup(olderThan time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.children {
		switch h.Status() {
		case ChildCompleted, ChildFailed, ChildCancelled:
			if time.Since(h.EndedAt()) >= olderThan {
				delete(s.children, id)
			}
		}
	}
}

// Retry re-spawns spec up to the Supervisor's configured max-retries
// bound if the previous attempt failed, returning the first successful
// handle or the last error observed. Each attempt gets a fresh handle.
func (s *Supervisor) Retry(ctx context.Context, spec SpawnSpec) (*ChildHandle, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		handle, err := s.Spawn(ctx, spec)
		if err != nil {
			lastErr = err
			continue
		}
		handle.Wait()
		if handle.Status() == ChildCompleted {
			return handle, nil
		}
		lastErr = handle.Err()
	}
	return nil, lastErr
}
