// Package timeout provides timeout middleware for LLM clients.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
)

// Middleware returns a middleware function that wraps an LLM client with per-request timeout logic.
// Each request gets a timeout context to prevent hanging requests.
//
// A request cut off by this timeout while the caller's context is still live
// is reported as a transient llmerrors.Error, so an outer retry layer tries
// again. Expiry of the caller's own deadline passes through unchanged.
func Middleware(duration time.Duration) llm.Middleware {
	if duration <= 0 {
		return nil
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()

				resp, err := next.Complete(timeoutCtx, req)
				if err != nil {
					return resp, classify(ctx, timeoutCtx, err, duration)
				}
				return resp, nil
			},
			// The stream's lifetime belongs to the caller; only opening it is bounded.
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				type opened struct {
					ch  <-chan llm.StreamChunk
					err error
				}
				done := make(chan opened, 1)
				go func() {
					ch, err := next.Stream(ctx, req)
					done <- opened{ch, err}
				}()

				timer := time.NewTimer(duration)
				defer timer.Stop()
				select {
				case o := <-done:
					return o.ch, o.err
				case <-ctx.Done():
					return nil, ctx.Err() //nolint:wrapcheck // caller's own cancellation
				case <-timer.C:
					return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient,
						context.DeadlineExceeded, fmt.Sprintf("stream open timed out after %s", duration))
				}
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

func classify(parent, timeoutCtx context.Context, err error, duration time.Duration) error {
	if parent.Err() != nil {
		return err
	}
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err,
			fmt.Sprintf("request timed out after %s", duration))
	}
	return err
}
