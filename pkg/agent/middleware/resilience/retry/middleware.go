package retry

import (
	"context"
	"fmt"
	"time"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
)

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt or elapsed budget runs out.
//
// When MaxElapsed is set, fn runs under a context bounded by that budget so an
// in-flight call stops when it expires. Exhausting either budget on a
// retryable error returns an llmerrors ServiceUnavailable error wrapping the
// last failure. Cancellation of ctx is returned as-is.
func Do[T any](ctx context.Context, policy *Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	runCtx := ctx
	var deadline time.Time
	if policy.Config.MaxElapsed > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, policy.Config.MaxElapsed)
		defer cancel()
		deadline, _ = runCtx.Deadline()
	}

	var lastErr error
	attempt := 0
	for attempt < policy.Config.MaxAttempts {
		attempt++

		if attempt > 1 {
			delay := policy.CalculateDelay(attempt)
			if !deadline.IsZero() {
				if remaining := time.Until(deadline); delay > remaining {
					delay = remaining
				}
			}
			if policy.OnRetry != nil {
				policy.OnRetry(ctx, attempt-1, lastErr, delay)
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-runCtx.Done():
					timer.Stop()
					return zero, exhausted(ctx, lastErr, attempt-1)
				case <-timer.C:
				}
			}
		}

		result, err := fn(runCtx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
		if runCtx.Err() != nil {
			// Elapsed budget spent; the call was cut off by our own deadline.
			break
		}
		if !policy.ShouldRetry(err) {
			return zero, err
		}
	}

	return zero, exhausted(ctx, lastErr, attempt)
}

func exhausted(ctx context.Context, lastErr error, attempts int) error {
	if ctx.Err() != nil {
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	}
	return llmerrors.NewServiceUnavailableError(lastErr, attempts)
}

// Middleware returns a middleware function that wraps an LLM client with retry logic.
// Streams are retried only while opening; once a channel is returned it is the
// caller's.
func Middleware(policy *Policy) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				return Do(ctx, policy, func(attemptCtx context.Context) (llm.CompletionResponse, error) {
					return next.Complete(attemptCtx, req)
				})
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				// The stream outlives the loop, so it must not inherit the loop deadline.
				streamPolicy := *policy
				streamPolicy.Config.MaxElapsed = 0
				return Do(ctx, &streamPolicy, func(attemptCtx context.Context) (<-chan llm.StreamChunk, error) {
					return next.Stream(attemptCtx, req)
				})
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}
