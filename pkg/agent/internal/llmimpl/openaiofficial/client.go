// Package openaiofficial provides OpenAI client implementation using the official OpenAI Go package.
package openaiofficial

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
)

// DefaultModel is used when no model name is configured for the OpenAI provider.
const DefaultModel = "gpt-4o-mini"

// OfficialClient wraps the official OpenAI Go client to implement llm.LLMClient interface.
//
//nolint:govet // Simple struct, field alignment not critical
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClientWithModel creates a new OpenAI client with specific model using the official package (raw client, middleware applied at higher level).
func NewOfficialClientWithModel(apiKey, model string) llm.LLMClient {
	if model == "" {
		model = DefaultModel
	}
	return &OfficialClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// reasoningModel reports whether the model rejects sampling parameters.
func reasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") ||
		strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5")
}

// buildInput flattens the conversation for the Responses API. System text goes
// to Instructions; earlier assistant turns are labelled inline.
func buildInput(messages []llm.CompletionMessage) (instructions, input string, err error) {
	if len(messages) == 0 {
		return "", "", fmt.Errorf("message list cannot be empty")
	}
	instructions, rest := llm.SplitSystem(messages)
	if len(rest) == 0 {
		return "", "", fmt.Errorf("must have at least one non-system message")
	}

	var sb strings.Builder
	for i := range rest {
		msg := &rest[i]
		if i > 0 {
			sb.WriteString("\n\n")
		}
		switch msg.Role {
		case llm.RoleUser:
			sb.WriteString(msg.Content)
		case llm.RoleAssistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(msg.Content)
		default:
			return "", "", fmt.Errorf("invalid role %s at index %d", msg.Role, i)
		}
	}
	return instructions, sb.String(), nil
}

//nolint:gocritic // CompletionRequest passed by value to mirror the interface
func (o *OfficialClient) buildParams(in llm.CompletionRequest) (responses.ResponseNewParams, error) {
	instructions, input, err := buildInput(in.Messages)
	if err != nil {
		return responses.ResponseNewParams{}, err
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(in.Config.MaxOutputTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if !reasoningModel(o.model) {
		params.Temperature = openai.Float(float64(in.Config.Temperature))
		params.TopP = openai.Float(float64(in.Config.TopP))
	}
	return params, nil
}

// Complete implements the llm.LLMClient interface using the Responses API.
//
//nolint:gocritic // 80 bytes is reasonable for interface compliance
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := o.buildParams(in)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	out := llm.CompletionResponse{
		Content:    resp.OutputText(),
		StopReason: string(resp.Status),
	}
	if reason := resp.IncompleteDetails.Reason; reason != "" {
		out.StopReason = reason
		if reason == "content_filter" && strings.TrimSpace(out.Content) == "" {
			out.BlockReason = reason
		}
	}
	return out, nil
}

// Stream implements the llm.LLMClient interface as a single-chunk stream.
//
//nolint:gocritic // 80 bytes is reasonable for interface compliance
func (o *OfficialClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.StreamFromComplete(ctx, o, in)
}

// GetModelName returns the model name for this client.
func (o *OfficialClient) GetModelName() string {
	return o.model
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		errType, ok := llmerrors.ClassifyStatus(apiErr.StatusCode)
		if !ok {
			errType = llmerrors.ClassifyMessage(apiErr.Error())
		}
		return &llmerrors.Error{
			Type:       errType,
			StatusCode: apiErr.StatusCode,
			Err:        err,
			Message:    fmt.Sprintf("OpenAI API error (status %d)", apiErr.StatusCode),
		}
	}

	return llmerrors.NewErrorWithCause(llmerrors.ClassifyMessage(err.Error()), err, "OpenAI request failed")
}
