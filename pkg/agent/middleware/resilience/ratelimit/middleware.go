package ratelimit

import (
	"context"
	"time"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/middleware/metrics"
)

// Middleware returns a middleware function that wraps an LLM client with rate limiting.
// It reserves the estimated prompt tokens plus the output budget before each request.
func Middleware(limiter Limiter, estimator TokenEstimator, recorder metrics.Recorder) llm.Middleware {
	if limiter == nil {
		return nil
	}
	if estimator == nil {
		estimator = NewDefaultTokenEstimator()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	acquire := func(ctx context.Context, model string, req llm.CompletionRequest) (func(), error) {
		tokens := estimator.EstimatePrompt(req) + req.Config.MaxOutputTokens
		owner := metrics.LabelsFromContext(ctx).Operation

		start := time.Now()
		release, err := limiter.Acquire(ctx, tokens, owner)
		recorder.ObserveQueueWait(model, time.Since(start))
		if err != nil {
			recorder.IncThrottle(model, "rate_limit")
			return nil, err
		}
		return release, nil
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				release, err := acquire(ctx, next.GetModelName(), req)
				if err != nil {
					return llm.CompletionResponse{}, err
				}
				defer release()

				return next.Complete(ctx, req) //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			// The slot covers opening the stream only.
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				release, err := acquire(ctx, next.GetModelName(), req)
				if err != nil {
					return nil, err
				}
				defer release()

				return next.Stream(ctx, req) //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}
