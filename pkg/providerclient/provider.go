// Package providerclient defines the boundary the core consults exactly
// once per child spawn that invokes external reasoning, per spec.md §6:
// Invoke(provider, model, prompt, options) -> (bytes, error). The core
// never imports a concrete provider SDK; it only depends on the Invoker
// interface declared here. Concrete adapters (Claude, Gemini) live
// beside it and are wired in by the caller of internal/router, not by
// the core itself.
package providerclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GratefulDave/stravinsky-sub003/pkg/providerauth"
)

// Options carries per-invocation tuning the core's SpawnSpec maps onto a
// provider call (model_override, thinking_budget from spec.md §4.6).
type Options struct {
	Model           string
	ThinkingBudget  int
	Temperature     float64
	MaxOutputTokens int
}

// Invoker is the out-of-scope provider adapter boundary from spec.md §6.
// Implementations are expected to own OAuth refresh, rate-limit
// back-off, and per-model rolling-window caps equivalent to the core's
// Concurrency Limiter (C7).
type Invoker interface {
	Invoke(ctx context.Context, provider, model, prompt string, opts Options) ([]byte, error)
}

// FallbackConfig configures the two-attempt exponential backoff and
// credential-fallback policy spec.md §6 requires of the adapter layer:
// "Retries at the adapter layer use exponential backoff up to two
// attempts; a 429 from the primary path must fall back to an
// alternative credential... before surfacing the failure."
type FallbackConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	BackoffFactor  float64
}

// DefaultFallbackConfig returns the spec-mandated two-attempt policy.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{MaxAttempts: 2, InitialBackoff: 500 * time.Millisecond, BackoffFactor: 2.0}
}

// RateLimitedError is returned by a concrete Invoker to signal a 429
// (or provider-equivalent) response, so FallbackInvoker knows to
// rotate credentials rather than simply retrying the same one.
type RateLimitedError struct {
	Provider string
	Cause    error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provider %s rate limited: %v", e.Provider, e.Cause)
}

func (e *RateLimitedError) Unwrap() error { return e.Cause }

// CredentialSource supplies the next credential to retry with after a
// RateLimitedError: OAuth token first, falling back to a static API key,
// per spec.md §6.
type CredentialSource interface {
	// Next returns the credential to use for attempt n (0-indexed) and
	// whether one is still available.
	Next(ctx context.Context, n int) (providerauth.Credential, bool, error)
}

// FallbackInvoker wraps a provider call with the adapter-layer retry
// and credential-fallback policy. It does not itself open any network
// connection; the invoke function given to NewFallbackInvoker is the
// concrete transport (e.g. ClaudeAdapter.Do or GeminiAdapter.Do).
type FallbackInvoker struct {
	cfg        FallbackConfig
	credential CredentialSource
	invoke     func(ctx context.Context, cred providerauth.Credential, provider, model, prompt string, opts Options) ([]byte, error)
	sleep      func(time.Duration)
}

// NewFallbackInvoker builds a FallbackInvoker. invoke performs the
// actual provider call using the given credential; sleep defaults to
// time.Sleep and is overridable for deterministic tests.
func NewFallbackInvoker(cfg FallbackConfig, creds CredentialSource,
	invoke func(ctx context.Context, cred providerauth.Credential, provider, model, prompt string, opts Options) ([]byte, error)) *FallbackInvoker {
	if cfg.MaxAttempts == 0 {
		cfg = DefaultFallbackConfig()
	}
	return &FallbackInvoker{cfg: cfg, credential: creds, invoke: invoke, sleep: time.Sleep}
}

// Invoke implements Invoker: up to cfg.MaxAttempts tries, exponential
// backoff between them, rotating to the next credential whenever the
// prior attempt failed with a RateLimitedError.
func (f *FallbackInvoker) Invoke(ctx context.Context, provider, model, prompt string, opts Options) ([]byte, error) {
	backoff := f.cfg.InitialBackoff
	var lastErr error
	var cred providerauth.Credential
	rotate := true

	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if rotate {
			next, ok, err := f.credential.Next(ctx, attempt)
			if err != nil {
				return nil, fmt.Errorf("resolving credential for attempt %d: %w", attempt, err)
			}
			if !ok {
				break
			}
			cred = next
		}

		result, err := f.invoke(ctx, cred, provider, model, prompt, opts)
		if err == nil {
			return result, nil
		}
		lastErr = err
		var rl *RateLimitedError
		rotate = errors.As(err, &rl)

		if attempt < f.cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			f.sleep(backoff)
			backoff = time.Duration(float64(backoff) * f.cfg.BackoffFactor)
		}
	}
	return nil, fmt.Errorf("provider %s exhausted %d attempts: %w", provider, f.cfg.MaxAttempts, lastErr)
}
