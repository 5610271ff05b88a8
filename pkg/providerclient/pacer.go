package providerclient

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// ModelPacer applies a client-side request budget per model, the
// adapter-layer counterpart of the core's rolling-window limiter. One
// token-bucket limiter is kept per model name, created on first use.
type ModelPacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewModelPacer builds a pacer admitting perMinute requests per model,
// with a burst of up to burst back-to-back calls.
func NewModelPacer(perMinute float64, burst int) *ModelPacer {
	if burst < 1 {
		burst = 1
	}
	return &ModelPacer{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perMinute / 60.0),
		burst:    burst,
	}
}

// Wait blocks until the model's budget admits one more request, or ctx
// is cancelled.
func (p *ModelPacer) Wait(ctx context.Context, model string) error {
	p.mu.Lock()
	lim, ok := p.limiters[model]
	if !ok {
		lim = rate.NewLimiter(p.limit, p.burst)
		p.limiters[model] = lim
	}
	p.mu.Unlock()
	return lim.Wait(ctx)
}
