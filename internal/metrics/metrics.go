// Package metrics instruments the orchestration core (C2 state
// transitions, C4 wave compliance, C6 child lifecycle, C7 semaphore
// utilization) with OpenTelemetry metrics, following the teacher's
// convention (internal/http/metrics.go) of wrapping an otel.Meter behind
// a small typed struct with a Nop-logger fallback.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/GratefulDave/stravinsky-sub003/internal/metrics"

// Orchestration holds every metric instrument the bridge core emits.
type Orchestration struct {
	meter  metric.Meter
	logger *zap.Logger

	phaseTransitions   metric.Int64Counter
	activeChildren     metric.Int64UpDownCounter
	waveSpreadMS       metric.Float64Histogram
	gateViolations     metric.Int64Counter
	complianceFailures metric.Int64Counter
	semaphoreWait      metric.Float64Histogram
}

// New builds an Orchestration metrics bundle. logger may be nil; it is
// only consulted to report instrument-registration failures.
func New(logger *zap.Logger) *Orchestration {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Orchestration{meter: otel.Meter(instrumentationName), logger: logger}
	m.init()
	return m
}

func (m *Orchestration) init() {
	var err error

	m.phaseTransitions, err = m.meter.Int64Counter(
		"bridgeorch.phase.transitions_total",
		metric.WithDescription("Accepted phase transitions, labeled by from-phase and to-phase."),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		m.logger.Warn("failed to create phase transitions counter", zap.Error(err))
	}

	m.activeChildren, err = m.meter.Int64UpDownCounter(
		"bridgeorch.supervisor.active_children",
		metric.WithDescription("Currently running child agent processes, labeled by kind."),
		metric.WithUnit("{process}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active children counter", zap.Error(err))
	}

	m.waveSpreadMS, err = m.meter.Float64Histogram(
		"bridgeorch.delegation.wave_spread_ms",
		metric.WithDescription("Measured spread between first and last spawn in a wave, in milliseconds."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 50, 100, 250, 500, 750, 1000, 2500, 5000),
	)
	if err != nil {
		m.logger.Warn("failed to create wave spread histogram", zap.Error(err))
	}

	m.gateViolations, err = m.meter.Int64Counter(
		"bridgeorch.orchestrator.gate_violations_total",
		metric.WithDescription("Phase-gate callback denials, labeled by from-phase and to-phase."),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create gate violations counter", zap.Error(err))
	}

	m.complianceFailures, err = m.meter.Int64Counter(
		"bridgeorch.delegation.compliance_failures_total",
		metric.WithDescription("Wave timing-window compliance failures, labeled by strict/non-strict."),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		m.logger.Warn("failed to create compliance failures counter", zap.Error(err))
	}

	m.semaphoreWait, err = m.meter.Float64Histogram(
		"bridgeorch.climiter.semaphore_wait_seconds",
		metric.WithDescription("Time spent blocked acquiring a per-kind concurrency slot."),
		metric.WithUnit("s"),
	)
	if err != nil {
		m.logger.Warn("failed to create semaphore wait histogram", zap.Error(err))
	}
}

// RecordTransition records one accepted phase transition.
func (m *Orchestration) RecordTransition(ctx context.Context, from, to string) {
	if m == nil || m.phaseTransitions == nil {
		return
	}
	m.phaseTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from), attribute.String("to", to),
	))
}

// ChildStarted increments the active-children gauge for kind.
func (m *Orchestration) ChildStarted(ctx context.Context, kind string) {
	if m == nil || m.activeChildren == nil {
		return
	}
	m.activeChildren.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// ChildFinished decrements the active-children gauge for kind.
func (m *Orchestration) ChildFinished(ctx context.Context, kind string) {
	if m == nil || m.activeChildren == nil {
		return
	}
	m.activeChildren.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordWaveSpread records the measured spawn-timestamp spread of a
// closed wave, and whether it violated the configured window.
func (m *Orchestration) RecordWaveSpread(ctx context.Context, spreadMS float64, compliant bool) {
	if m == nil || m.waveSpreadMS == nil {
		return
	}
	m.waveSpreadMS.Record(ctx, spreadMS, metric.WithAttributes(attribute.Bool("compliant", compliant)))
	if !compliant && m.complianceFailures != nil {
		m.complianceFailures.Add(ctx, 1)
	}
}

// RecordGateDenial records one phase-gate callback denial.
func (m *Orchestration) RecordGateDenial(ctx context.Context, from, to string) {
	if m == nil || m.gateViolations == nil {
		return
	}
	m.gateViolations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from), attribute.String("to", to),
	))
}

// RecordSemaphoreWait records time spent blocked on a per-kind
// concurrency slot.
func (m *Orchestration) RecordSemaphoreWait(ctx context.Context, kind string, seconds float64) {
	if m == nil || m.semaphoreWait == nil {
		return
	}
	m.semaphoreWait.Record(ctx, seconds, metric.WithAttributes(attribute.String("kind", kind)))
}
