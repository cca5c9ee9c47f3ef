package circuit

import (
	"context"
	"errors"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
)

// outcomeOf maps a call result to a breaker outcome. Caller cancellation and
// request-shaped errors (auth, bad prompt) say nothing about provider health.
func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, context.Canceled):
		return Ignored
	}
	switch llmerrors.TypeOf(err) {
	case llmerrors.ErrorTypeAuth, llmerrors.ErrorTypeBadPrompt:
		return Ignored
	default:
		return Failure
	}
}

// Middleware rejects calls with *Error while the breaker is open. Only stream
// establishment counts toward breaker state. A nil breaker disables it.
func Middleware(b *Breaker) llm.Middleware {
	if b == nil {
		return nil
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if err := b.Admit(); err != nil {
					return llm.CompletionResponse{}, err
				}
				resp, err := next.Complete(ctx, req)
				b.Record(outcomeOf(err))
				return resp, err //nolint:wrapcheck // pass through
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				if err := b.Admit(); err != nil {
					return nil, err
				}
				ch, err := next.Stream(ctx, req)
				b.Record(outcomeOf(err))
				return ch, err //nolint:wrapcheck // pass through
			},
			next.GetModelName,
		)
	}
}
