// Package validation provides response validation middleware for LLM clients.
package validation

import (
	"context"
	"strings"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
	"phasedoc/pkg/logx"
)

// EmptyReason is the block reason given to responses that came back with no
// usable text and no reason from the provider.
const EmptyReason = "Unknown (response was empty or no content parts)"

// guidanceMessage is appended as a user turn when re-asking after an empty reply.
const guidanceMessage = "No response received. Please answer the request above with non-empty text."

// EmptyResponseValidator normalizes empty replies into blocked responses.
//
// A response is empty when its content is blank or the provider reported
// ErrorTypeEmptyResponse. Before giving up the validator may re-ask up to
// guidanceRetries times with a short guidance turn appended. Responses the
// provider explicitly blocked are never re-asked.
type EmptyResponseValidator struct {
	logger          *logx.Logger
	guidanceRetries int
}

// NewEmptyResponseValidator creates a validator that re-asks at most guidanceRetries times.
func NewEmptyResponseValidator(guidanceRetries int) *EmptyResponseValidator {
	if guidanceRetries < 0 {
		guidanceRetries = 0
	}
	return &EmptyResponseValidator{
		logger:          logx.NewLogger("empty-response-validator"),
		guidanceRetries: guidanceRetries,
	}
}

// Middleware returns a middleware function that validates LLM responses.
// Empty replies come back as responses with BlockReason set, never as errors,
// so callers handle them on the same path as safety blocks.
func (v *EmptyResponseValidator) Middleware() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				for attempt := 0; ; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err != nil && !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						//nolint:wrapcheck // Middleware intentionally passes through errors unchanged
						return resp, err
					}
					if err == nil && resp.Blocked() {
						v.logger.Warn("response blocked by provider: %s", resp.BlockReason)
						return resp, nil
					}
					if err == nil && strings.TrimSpace(resp.Content) != "" {
						return resp, nil
					}

					if attempt >= v.guidanceRetries {
						v.logger.Warn("empty response after %d attempt(s), reporting as blocked", attempt+1)
						resp.Content = ""
						resp.BlockReason = EmptyReason
						return resp, nil
					}

					v.logger.Warn("empty response (attempt %d/%d), re-asking with guidance", attempt+1, v.guidanceRetries+1)
					req = withGuidance(req)
				}
			},
			// Streams are passed through; emptiness is only known once drained.
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				return next.Stream(ctx, req)
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

func withGuidance(req llm.CompletionRequest) llm.CompletionRequest {
	messages := make([]llm.CompletionMessage, 0, len(req.Messages)+1)
	messages = append(messages, req.Messages...)
	messages = append(messages, llm.NewUserMessage(guidanceMessage))
	req.Messages = messages
	return req
}
