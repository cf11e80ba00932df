package provider

import (
	"context"
	"log/slog"
	"time"
)

// FallbackExecutor tries an ordered list of models against one provider.
// Retryable failures move on to the next model after a delay; fatal failures
// abort the whole list immediately.
type FallbackExecutor struct {
	models     []string
	baseDelay  time.Duration
	maxDelay   time.Duration
	retryPause time.Duration

	// OnRetry, when set, observes every abandoned model attempt before the
	// executor moves to the next one.
	OnRetry func(model string, kind Kind)
}

func NewFallbackExecutor(models []string) *FallbackExecutor {
	return &FallbackExecutor{
		models:     models,
		baseDelay:  time.Second,
		maxDelay:   4 * time.Second,
		retryPause: 500 * time.Millisecond,
	}
}

// Execute runs fn once per model, in order, until an attempt succeeds.
// Rate-limit failures back off exponentially (base doubling, capped) before
// the next model; other retryable failures pause briefly. Cancellation is
// returned as-is and stops the sequence. When every model fails, the last
// failure is returned.
func (e *FallbackExecutor) Execute(ctx context.Context, fn func(ctx context.Context, model string) (*GenerateResponse, error)) (*GenerateResponse, error) {
	return executeFallback(ctx, e, fn)
}

// ExecuteStream is Execute for stream-opening attempts. Failures after the
// stream has opened are the caller's problem; only the open is retried.
func (e *FallbackExecutor) ExecuteStream(ctx context.Context, fn func(ctx context.Context, model string) (*Stream, error)) (*Stream, error) {
	return executeFallback(ctx, e, fn)
}

// executeFallback is generic because single responses and streams share the
// same model-ladder semantics. Methods cannot carry type parameters.
func executeFallback[T any](ctx context.Context, e *FallbackExecutor, fn func(ctx context.Context, model string) (T, error)) (T, error) {
	var zero T
	if len(e.models) == 0 {
		return zero, &Error{Kind: KindAPI, Message: "no models configured"}
	}

	var lastErr error
	for i, model := range e.models {
		out, err := fn(ctx, model)
		if err == nil {
			return out, nil
		}
		if Canceled(err) {
			return zero, err
		}

		pe, ok := AsError(err)
		if !ok || !pe.Retryable() {
			return zero, err
		}
		lastErr = err

		if i == len(e.models)-1 {
			break
		}
		if e.OnRetry != nil {
			e.OnRetry(model, pe.Kind)
		}

		delay := e.retryPause
		if pe.Kind == KindRateLimited {
			delay = min(e.baseDelay<<i, e.maxDelay)
		}
		slog.Warn("model attempt failed, trying next",
			"provider", pe.Provider,
			"model", model,
			"next", e.models[i+1],
			"kind", pe.Kind,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
