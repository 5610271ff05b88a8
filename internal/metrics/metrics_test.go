package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// These tests exercise the Orchestration bundle against the default
// no-op global MeterProvider: no assertions on emitted values are
// possible without wiring a metric.Reader, but every call must be
// panic-free given that none of the instruments are installed by a
// real exporter in this test binary.
func TestOrchestration_RecordingMethodsDoNotPanic(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordTransition(ctx, "classify", "context")
		m.ChildStarted(ctx, "implementer")
		m.ChildFinished(ctx, "implementer")
		m.RecordWaveSpread(ctx, 123.4, true)
		m.RecordWaveSpread(ctx, 999.9, false)
		m.RecordGateDenial(ctx, "plan", "delegate")
		m.RecordSemaphoreWait(ctx, "implementer", 0.25)
	})
}

func TestOrchestration_NilReceiverIsSafe(t *testing.T) {
	var m *Orchestration
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordTransition(ctx, "classify", "context")
		m.ChildStarted(ctx, "implementer")
		m.ChildFinished(ctx, "implementer")
		m.RecordWaveSpread(ctx, 1, true)
		m.RecordGateDenial(ctx, "a", "b")
		m.RecordSemaphoreWait(ctx, "implementer", 0.1)
	})
}
