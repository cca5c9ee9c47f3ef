// Package gateway is the single entry point for LLM text and JSON generation.
// Every prompt in the interview and document flows goes through a Gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/middleware/validation"
	"phasedoc/pkg/logx"
)

// RawResponseKey carries the unparseable reply in a GenerateJSON error map.
const RawResponseKey = "_raw_ai_response_error"

// BlockedMessage is returned by Generate in place of content the provider refused or left empty.
func BlockedMessage(reason string) string {
	return fmt.Sprintf("Content generation blocked or result was empty. Reason: %s. Please revise your input or try again.", reason)
}

// NotGenerated is the value for a required key the model left out.
func NotGenerated(key string) string {
	return fmt.Sprintf("Data for '%s' not generated by AI.", key)
}

// InvalidJSON is the value for every required key when the reply was not a JSON object.
func InvalidJSON(key string) string {
	return fmt.Sprintf("Error generating data for '%s': AI response was not valid JSON.", key)
}

// Gateway sends single-turn prompts with fixed generation settings.
// The client is expected to carry the retry and validation middleware.
type Gateway struct {
	client llm.LLMClient
	config llm.GenerationConfig
	logger *logx.Logger
}

// New creates a gateway over client using cfg for every request.
//
//nolint:gocritic // GenerationConfig copied once at construction
func New(client llm.LLMClient, cfg llm.GenerationConfig) *Gateway {
	return &Gateway{
		client: client,
		config: cfg.Clone(),
		logger: logx.NewLogger("gateway"),
	}
}

// Model returns the underlying model name.
func (g *Gateway) Model() string {
	return g.client.GetModelName()
}

// Generate returns the model's reply to prompt.
//
// A blocked or empty reply is not an error: the returned text is
// BlockedMessage with the provider's reason. Provider failures that survive
// the retry layer are returned as errors.
func (g *Gateway) Generate(ctx context.Context, prompt string) (string, error) {
	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage(prompt)},
		Config:   g.config.Clone(),
	}

	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}

	if resp.Blocked() || strings.TrimSpace(resp.Content) == "" {
		reason := resp.BlockReason
		if reason == "" {
			reason = validation.EmptyReason
		}
		g.logger.Warn("Generation blocked or empty (model=%s): %s", g.Model(), reason)
		return BlockedMessage(reason), nil
	}
	return resp.Content, nil
}

// GenerateJSON asks for a JSON object and returns exactly requiredKeys.
//
// Keys the model omitted map to NotGenerated. Non-string values are rendered
// as compact JSON. If the reply cannot be parsed as an object, every key maps
// to InvalidJSON and RawResponseKey holds the raw reply; that is not an error.
func (g *Gateway) GenerateJSON(ctx context.Context, prompt string, requiredKeys []string) (map[string]string, error) {
	raw, err := g.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	obj, err := ParseObject(raw)
	if err != nil {
		g.logger.Warn("Structured generation returned invalid JSON: %v", err)
		out := make(map[string]string, len(requiredKeys)+1)
		for _, k := range requiredKeys {
			out[k] = InvalidJSON(k)
		}
		out[RawResponseKey] = raw
		return out, nil
	}

	out := make(map[string]string, len(requiredKeys))
	for _, k := range requiredKeys {
		v, ok := obj[k]
		if !ok {
			out[k] = NotGenerated(k)
			continue
		}
		out[k] = stringify(v)
	}
	return out, nil
}

// ParseObject extracts a JSON object from a model reply. Leading ```json or ```
// fences and a trailing ``` fence are stripped; if what remains is not braced,
// the text from the first '{' to the last '}' is tried.
func ParseObject(raw string) (map[string]json.RawMessage, error) {
	s := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(s, "```json"); ok {
		s = strings.TrimSpace(rest)
	} else if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutSuffix(s, "```"); ok {
		s = strings.TrimSpace(rest)
	}

	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start == -1 || end == -1 || start >= end {
			return nil, fmt.Errorf("response is not a JSON object")
		}
		s = s[start : end+1]
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse JSON object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("response is JSON null")
	}
	return obj, nil
}

// stringify returns JSON strings unquoted and anything else as compact JSON.
func stringify(v json.RawMessage) string {
	if string(bytes.TrimSpace(v)) == "null" {
		return "null"
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}
