package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
	"phasedoc/pkg/logx"
	"phasedoc/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor is a function that extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor counts tokens with the tiktoken GPT-4 encoding. Providers
// tokenize differently, so the numbers are estimates.
//
//nolint:gocritic // request passed by value to match UsageExtractor
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	var sb strings.Builder
	for i := range req.Messages {
		sb.WriteString(req.Messages[i].Content)
		sb.WriteByte('\n')
	}
	promptTokens = utils.CountTokensSimple(sb.String())
	completionTokens = utils.CountTokensSimple(resp.Content)
	return promptTokens, completionTokens
}

// Middleware returns a middleware function that records metrics for LLM operations.
// It tracks request latency, token usage, blocked responses and error types.
// Labels are read from the request context (see ContextWithLabels).
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if recorder == nil {
		recorder = Nop()
	}
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()
				labels := LabelsFromContext(ctx)

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				errorType := ""
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
					if resp.Blocked() {
						recorder.IncBlocked(model, labels, resp.BlockReason)
					}
				} else {
					errorType = ErrorType(err)
				}

				recorder.ObserveRequest(model, labels, promptTokens, completionTokens, err == nil, errorType, duration)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Debug("LLM request: model=%s session=%s phase=%s op=%s tokens=%d+%d=%d status=%s duration=%dms",
						model, labels.Session, labels.Phase, labels.Operation,
						promptTokens, completionTokens, promptTokens+completionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			// Streams record only the time to open; tokens would need the drained stream.
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				model := next.GetModelName()

				ch, err := next.Stream(ctx, req)

				errorType := ""
				if err != nil {
					errorType = ErrorType(err)
				}
				recorder.ObserveRequest(model, LabelsFromContext(ctx), 0, 0, err == nil, errorType, time.Since(start))

				return ch, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

// ErrorType returns the metrics label for err.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case llmerrors.TypeOf(err) != llmerrors.ErrorTypeUnknown:
		return llmerrors.TypeOf(err).String()
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case strings.HasPrefix(err.Error(), "circuit breaker is"):
		return "circuit_breaker"
	default:
		return "unknown"
	}
}
