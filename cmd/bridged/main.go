// Command bridged is the orchestration bridge's long-running supervisor
// process: it loads configuration, wires logging and metrics into the
// phase machine, task graph, delegation enforcer, and agent supervisor,
// and serves the MCP stdio transport until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GratefulDave/stravinsky-sub003/internal/agentkind"
	"github.com/GratefulDave/stravinsky-sub003/internal/bconfig"
	"github.com/GratefulDave/stravinsky-sub003/internal/climiter"
	"github.com/GratefulDave/stravinsky-sub003/internal/diaghttp"
	"github.com/GratefulDave/stravinsky-sub003/internal/metrics"
	"github.com/GratefulDave/stravinsky-sub003/internal/obslog"
	"github.com/GratefulDave/stravinsky-sub003/internal/phase"
	"github.com/GratefulDave/stravinsky-sub003/internal/router"
	"github.com/GratefulDave/stravinsky-sub003/internal/sidecar"
	"github.com/GratefulDave/stravinsky-sub003/internal/state"
	"github.com/GratefulDave/stravinsky-sub003/internal/supervisor"
	stdiotransport "github.com/GratefulDave/stravinsky-sub003/pkg/transport/stdio"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bridged: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := bconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg := obslog.NewDefaultConfig()
	if cfg.Observability.LogFormat != "" {
		logCfg.Format = cfg.Observability.LogFormat
	}
	if lvl, lvlErr := zap.ParseAtomicLevel(cfg.Observability.LogLevel); lvlErr == nil {
		logCfg.Level = lvl.Level()
	}
	logger, err := obslog.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	zlog := logger.Underlying()

	// The host assistant's hook scripts may drop a marker file to
	// demand strict delegation; when present it overrides whatever the
	// config relaxed.
	if strictMarkerPresent() {
		cfg.Delegation.Strict = true
		cfg.Orchestrator.StrictMode = true
		zlog.Info("strict delegation marker present, forcing strict mode")
	}

	meter := metrics.New(zlog)

	registry := agentkind.Default()

	limiterOpts := append([]climiter.Option{
		climiter.WithRateLimit(cfg.Concurrency.RateLimit, cfg.Concurrency.RateWindowMS),
		climiter.WithClock(func() int64 { return time.Now().UnixMilli() }),
	}, withKindCapacities(registry, cfg.Concurrency.KindCapacity)...)

	limiter := climiter.New(limiterOpts...)

	sup := supervisor.New(registry, limiter,
		supervisor.WithGracePeriod(cfg.Supervisor.GracePeriod),
		supervisor.WithMaxRetries(cfg.Supervisor.MaxRetries),
		supervisor.WithLogger(zlog),
		supervisor.WithChildRecorder(meter),
	)

	r := router.New(registry, sup,
		router.WithWindowMS(cfg.Delegation.WindowMS),
		router.WithStrictDelegation(cfg.Delegation.Strict),
		router.WithLogger(zlog),
	)

	if cfg.Sidecar.Enabled {
		if err := os.MkdirAll(cfg.Sidecar.Dir, 0700); err != nil {
			return fmt.Errorf("creating sidecar directory: %w", err)
		}
	}

	invoker := buildInvoker()
	agentCmd := os.Getenv("BRIDGEORCH_AGENT_CMD")
	if agentCmd == "" {
		agentCmd = "cat"
	}
	hooks := buildHooks(invoker, sup, agentCmd, nil)

	stateOpts := []state.Option{
		state.WithStrictMode(cfg.Orchestrator.StrictMode),
		state.WithMaxCritiques(cfg.Orchestrator.MaxCritiques),
		state.WithRecorder(meter),
	}
	if cfg.Orchestrator.GateEnabled {
		gates := state.NewGateRegistry()
		gates.Register(string(phase.Delegate), planGate{})
		stateOpts = append(stateOpts, state.WithGateRegistry(gates))
	}

	transport := stdiotransport.NewServer(func(ctx context.Context, request string) (*router.Result, error) {
		opts := append([]state.Option{}, stateOpts...)
		if cfg.Sidecar.Enabled {
			sw, swErr := sidecar.Open(cfg.Sidecar.Dir, uuid.NewString(), zlog)
			if swErr != nil {
				zlog.Warn("sidecar unavailable for request", zap.Error(swErr))
			} else {
				defer sw.Close()
				opts = append(opts, state.WithRecorder(teeRecorder{meter: meter, sidecar: sw}))
			}
		}
		return r.Run(ctx, request, hooks, opts...)
	}, sup, zlog)

	zlog.Info("bridged starting",
		zap.String("log_level", cfg.Observability.LogLevel),
		zap.Int64("delegation_window_ms", cfg.Delegation.WindowMS),
		zap.Bool("strict_mode", cfg.Orchestrator.StrictMode),
		zap.Bool("sidecar_enabled", cfg.Sidecar.Enabled),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Observability.MetricsAddr != "" {
		diag, diagErr := diaghttp.NewServer(sup, zlog, diaghttp.Config{
			Addr:    cfg.Observability.MetricsAddr,
			Version: version,
		})
		if diagErr != nil {
			return fmt.Errorf("building diagnostic server: %w", diagErr)
		}
		go func() {
			if err := diag.Start(); err != nil {
				zlog.Warn("diagnostic server stopped", zap.Error(err))
			}
		}()
		defer diag.Shutdown(context.Background())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- transport.Run(ctx) }()

	select {
	case <-ctx.Done():
		zlog.Info("bridged shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("transport server: %w", err)
		}
	}
	return nil
}

// planGate refuses to enter Delegate on an empty plan artifact. Strict
// mode already checks presence; this catches the registered-but-blank
// case a misbehaving planner can produce.
type planGate struct{}

func (planGate) Name() string { return "plan-non-empty" }

func (planGate) Check(ctx context.Context, s *state.State, target string) ([]state.Violation, error) {
	a, ok := s.Artifact("plan")
	if ok && len(a.Content) > 0 {
		return nil, nil
	}
	return []state.Violation{{
		GateName:    "plan-non-empty",
		Phase:       target,
		Description: "plan artifact is missing or empty",
		Severity:    state.SeverityCritical,
		DetectedAt:  time.Now(),
	}}, nil
}

// teeRecorder fans state transitions out to the OTEL meter and the
// request's sidecar writer. Gate denials only reach the meter; the
// sidecar records accepted transitions per the persisted-state format.
type teeRecorder struct {
	meter   *metrics.Orchestration
	sidecar *sidecar.Writer
}

func (t teeRecorder) RecordTransition(ctx context.Context, from, to string) {
	t.meter.RecordTransition(ctx, from, to)
	t.sidecar.RecordTransition(from, to)
}

func (t teeRecorder) RecordGateDenial(ctx context.Context, from, to string) {
	t.meter.RecordGateDenial(ctx, from, to)
}

// strictMarkerPresent reports whether ~/.bridgeorch_mode exists.
func strictMarkerPresent() bool {
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(home, ".bridgeorch_mode"))
	return err == nil
}

// withKindCapacities resolves each registered kind's concurrency cap:
// an explicit per-kind entry in the config wins, otherwise the kind's
// cost tier ("cheap"/"medium"/"expensive") supplies the budget.
func withKindCapacities(registry *agentkind.Registry, kindCapacity map[string]int64) []climiter.Option {
	var opts []climiter.Option
	for _, kind := range registry.Kinds() {
		if capacity, ok := kindCapacity[kind]; ok {
			opts = append(opts, climiter.WithKindCapacity(kind, capacity))
			continue
		}
		desc, err := registry.Lookup(kind)
		if err != nil {
			continue
		}
		if capacity, ok := kindCapacity[string(desc.CostTier)]; ok {
			opts = append(opts, climiter.WithKindCapacity(kind, capacity))
		}
	}
	return opts
}
