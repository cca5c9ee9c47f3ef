// Package anthropic provides Anthropic Claude client implementation for LLM interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
)

// DefaultModel is used when no model name is configured for the Claude provider.
const DefaultModel = "claude-sonnet-4-20250514"

// stopReasonRefusal is Claude's stop reason for declined requests.
const stopReasonRefusal = "refusal"

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient interface.
//
//nolint:govet // Simple client struct, logical grouping preferred
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a new Claude client with specific model (raw client, middleware applied at higher level).
func NewClaudeClientWithModel(apiKey, model string) llm.LLMClient {
	if model == "" {
		model = DefaultModel
	}
	return &ClaudeClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// ensureAlternation prepares messages for Anthropic API requirements: system
// messages move to the system parameter, consecutive user messages merge, and
// the sequence must start and end with a user turn.
func ensureAlternation(messages []llm.CompletionMessage) (systemPrompt string, alternating []llm.CompletionMessage, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	systemPrompt, rest := llm.SplitSystem(messages)
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	var userParts []string
	flush := func() {
		if len(userParts) > 0 {
			alternating = append(alternating, llm.NewUserMessage(strings.Join(userParts, "\n\n")))
			userParts = nil
		}
	}
	for i := range rest {
		msg := &rest[i]
		switch msg.Role {
		case llm.RoleUser:
			userParts = append(userParts, msg.Content)
		case llm.RoleAssistant:
			flush()
			if len(alternating) > 0 && alternating[len(alternating)-1].Role == llm.RoleAssistant {
				return "", nil, fmt.Errorf("alternation violation at index %d: consecutive assistant messages", i)
			}
			alternating = append(alternating, *msg)
		default:
			return "", nil, fmt.Errorf("invalid role %s at index %d", msg.Role, i)
		}
	}
	flush()

	if alternating[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", alternating[0].Role)
	}
	if last := alternating[len(alternating)-1]; last.Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", last.Role)
	}

	return systemPrompt, alternating, nil
}

// buildParams converts a request into Anthropic message parameters. Claude
// rejects temperature and top_p together on current models, so top_p is not sent.
//
//nolint:gocritic // CompletionRequest passed by value to mirror the interface
func (c *ClaudeClient) buildParams(in llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	systemPrompt, alternating, err := ensureAlternation(in.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		msg := &alternating[i]
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.Config.MaxOutputTokens),
		Temperature: anthropic.Float(min(float64(in.Config.Temperature), 1.0)),
	}
	if in.Config.TopK > 0 {
		params.TopK = anthropic.Int(int64(in.Config.TopK))
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	return params, nil
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest is passed by value to match interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := c.buildParams(in)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received nil response from Claude API")
	}

	var sb strings.Builder
	for i := range resp.Content {
		if block := &resp.Content[i]; block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	out := llm.CompletionResponse{
		Content:    sb.String(),
		StopReason: string(resp.StopReason),
	}
	if out.StopReason == stopReasonRefusal {
		out.BlockReason = stopReasonRefusal
	}
	return out, nil
}

// Stream implements the llm.LLMClient interface as a single-chunk stream.
//
//nolint:gocritic // CompletionRequest is passed by value to match interface
func (c *ClaudeClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.StreamFromComplete(ctx, c, in)
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// classifyError maps Anthropic SDK errors to our structured error types.
// Context errors pass through so the retry layer can tell cancellation apart.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if errType, ok := llmerrors.ClassifyStatus(apiErr.StatusCode); ok {
			return &llmerrors.Error{
				Type:       errType,
				StatusCode: apiErr.StatusCode,
				Err:        err,
				Message:    fmt.Sprintf("Claude API error (status %d)", apiErr.StatusCode),
			}
		}
		// 529 overloaded and other unmapped codes
		return &llmerrors.Error{Type: llmerrors.ErrorTypeTransient, StatusCode: apiErr.StatusCode, Err: err,
			Message: fmt.Sprintf("Claude API error (status %d)", apiErr.StatusCode)}
	}

	return llmerrors.NewErrorWithCause(llmerrors.ClassifyMessage(err.Error()), err, "Claude request failed")
}
