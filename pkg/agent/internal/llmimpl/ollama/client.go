// Package ollama provides Ollama client implementation for LLM interface.
// Ollama is a local LLM runtime that allows running open-source models.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
)

// DefaultHost is the local Ollama server address.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client to implement llm.LLMClient interface.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewOllamaClientWithModel creates a new Ollama client with specific model.
// hostURL should be the Ollama server URL (e.g., "http://localhost:11434").
func NewOllamaClientWithModel(hostURL, model string) llm.LLMClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		parsedURL, _ = url.Parse(DefaultHost)
	}

	return &Client{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   model,
		hostURL: parsedURL.String(),
	}
}

// options maps generation settings onto Ollama model options.
// Safety thresholds have no local equivalent and are dropped.
func options(cfg llm.GenerationConfig) map[string]any {
	opts := map[string]any{
		"temperature": cfg.Temperature,
		"top_p":       cfg.TopP,
		"num_predict": cfg.MaxOutputTokens,
	}
	if cfg.TopK > 0 {
		opts["top_k"] = cfg.TopK
	}
	return opts
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessagesToOllama(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options(in.Config),
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: getStopReason(&response),
	}, nil
}

// Stream implements the llm.LLMClient interface using Ollama's native streaming.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	messages, err := convertMessagesToOllama(in.Messages)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	stream := true
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options(in.Config),
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		send := func(c llm.StreamChunk) error {
			select {
			case ch <- c:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			return send(llm.StreamChunk{Content: resp.Message.Content, Done: resp.Done})
		})
		if err != nil {
			_ = send(llm.StreamChunk{Error: classifyError(err)})
		}
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// convertMessagesToOllama converts our message format to Ollama's Message format.
func convertMessagesToOllama(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, fmt.Errorf("invalid role %s at index %d", msg.Role, i)
		}
		result = append(result, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	return result, nil
}

// getStopReason converts Ollama's done_reason to our stop reason format.
func getStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}

	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// classifyError converts Ollama errors to our error types.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		errType, ok := llmerrors.ClassifyStatus(statusErr.StatusCode)
		if !ok {
			errType = llmerrors.ClassifyMessage(statusErr.ErrorMessage)
		}
		return &llmerrors.Error{
			Type:       errType,
			StatusCode: statusErr.StatusCode,
			Err:        err,
			Message:    fmt.Sprintf("Ollama API error (status %d): %s", statusErr.StatusCode, statusErr.ErrorMessage),
		}
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, fmt.Sprintf("Ollama server not reachable: %v", err))
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, fmt.Sprintf("Ollama model not found: %v", err))
	case strings.Contains(errStr, "timeout"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, fmt.Sprintf("request timeout: %v", err))
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ClassifyMessage(errStr), err, fmt.Sprintf("Ollama API error: %v", err))
	}
}
