// Package logging provides logging middleware for LLM clients.
package logging

import (
	"context"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
	"phasedoc/pkg/logx"
)

// maxLoggedMessage bounds each logged message body.
const maxLoggedMessage = 10000

// BlockedResponseLoggingMiddleware returns a middleware function that dumps the
// prompt when a response comes back blocked or fails outright, then passes the
// result through unchanged. Successful calls are logged at debug level only.
func BlockedResponseLoggingMiddleware(logger *logx.Logger) llm.Middleware {
	if logger == nil {
		logger = logx.NewLogger("llm-middleware")
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)

				switch {
				case err != nil:
					logger.Warn("LLM call failed (model=%s, type=%s): %v",
						next.GetModelName(), llmerrors.TypeOf(err), err)
					logPrompt(logger, req)
				case resp.Blocked():
					logger.Warn("LLM response blocked (model=%s, stop=%s): %s",
						next.GetModelName(), resp.StopReason, resp.BlockReason)
					logPrompt(logger, req)
				default:
					logger.Debug("LLM response: model=%s stop=%s chars=%d",
						next.GetModelName(), resp.StopReason, len(resp.Content))
				}

				//nolint:wrapcheck // Middleware intentionally passes through errors unchanged
				return resp, err
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				return next.Stream(ctx, req)
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

//nolint:gocritic // request copied for logging only
func logPrompt(logger *logx.Logger, req llm.CompletionRequest) {
	for i := range req.Messages {
		msg := &req.Messages[i]
		logger.Warn("  message[%d] role=%s: %s", i, msg.Role, llmerrors.SanitizePrompt(msg.Content, maxLoggedMessage))
	}
	logger.Warn("  temperature=%v top_p=%v top_k=%d max_output_tokens=%d",
		req.Config.Temperature, req.Config.TopP, req.Config.TopK, req.Config.MaxOutputTokens)
}
