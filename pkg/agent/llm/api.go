// Package llm provides interfaces and types for Large Language Model client implementations.
package llm

import (
	"context"
	"fmt"
	"maps"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the AI assistant.
	RoleAssistant CompletionRole = "assistant"
)

// Generation defaults.
const (
	DefaultModel           = "gemini-1.5-flash-latest"
	DefaultTemperature     = 0.7
	DefaultTopP            = 0.95
	DefaultTopK            = 40
	DefaultMaxOutputTokens = 8192
)

// HarmCategory names a content-safety category.
type HarmCategory string

const (
	HarmCategoryHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
	HarmCategoryHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	HarmCategorySexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	HarmCategoryDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
)

// SafetyThreshold is the minimum probability at which content is blocked.
type SafetyThreshold string

const (
	BlockNone            SafetyThreshold = "BLOCK_NONE"
	BlockOnlyHigh        SafetyThreshold = "BLOCK_ONLY_HIGH"
	BlockMediumAndAbove  SafetyThreshold = "BLOCK_MEDIUM_AND_ABOVE"
	BlockLowAndAbove     SafetyThreshold = "BLOCK_LOW_AND_ABOVE"
	ThresholdUnspecified SafetyThreshold = "HARM_BLOCK_THRESHOLD_UNSPECIFIED"
)

// ValidThreshold reports whether t is one of the known thresholds.
func ValidThreshold(t SafetyThreshold) bool {
	switch t {
	case BlockNone, BlockOnlyHigh, BlockMediumAndAbove, BlockLowAndAbove, ThresholdUnspecified:
		return true
	default:
		return false
	}
}

// GenerationConfig carries sampling and safety settings. Providers ignore
// fields they have no equivalent for.
type GenerationConfig struct {
	SafetyThresholds map[HarmCategory]SafetyThreshold `json:"safety_thresholds,omitempty" yaml:"safety_thresholds,omitempty"`
	Temperature      float32                          `json:"temperature" yaml:"temperature"`
	TopP             float32                          `json:"top_p" yaml:"top_p"`
	TopK             int                              `json:"top_k" yaml:"top_k"`
	MaxOutputTokens  int                              `json:"max_output_tokens" yaml:"max_output_tokens"`
}

// DefaultSafetyThresholds blocks medium-and-above probability in every category.
func DefaultSafetyThresholds() map[HarmCategory]SafetyThreshold {
	return map[HarmCategory]SafetyThreshold{
		HarmCategoryHarassment:       BlockMediumAndAbove,
		HarmCategoryHateSpeech:       BlockMediumAndAbove,
		HarmCategorySexuallyExplicit: BlockMediumAndAbove,
		HarmCategoryDangerousContent: BlockMediumAndAbove,
	}
}

// DefaultGenerationConfig returns the stock sampling settings.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:      DefaultTemperature,
		TopP:             DefaultTopP,
		TopK:             DefaultTopK,
		MaxOutputTokens:  DefaultMaxOutputTokens,
		SafetyThresholds: DefaultSafetyThresholds(),
	}
}

// Clone returns a copy that shares no maps with c.
func (c GenerationConfig) Clone() GenerationConfig {
	c.SafetyThresholds = maps.Clone(c.SafetyThresholds)
	return c
}

// Validate checks ranges.
func (c GenerationConfig) Validate() error {
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if c.TopP < 0.0 || c.TopP > 1.0 {
		return fmt.Errorf("top_p must be between 0.0 and 1.0")
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k must not be negative")
	}
	if c.MaxOutputTokens <= 0 {
		return fmt.Errorf("max output tokens must be positive")
	}
	for cat, th := range c.SafetyThresholds {
		if !ValidThreshold(th) {
			return fmt.Errorf("unknown safety threshold %q for %s", th, cat)
		}
	}
	return nil
}

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Content string
	Role    CompletionRole
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Messages []CompletionMessage
	Config   GenerationConfig
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	Content    string // Main response text
	StopReason string // Provider finish reason: "STOP", "end_turn", "max_tokens", "refusal", ...
	// BlockReason is set when the provider refused or returned nothing usable.
	BlockReason string
}

// Blocked reports whether the response carries no usable content.
func (r CompletionResponse) Blocked() bool {
	return r.BlockReason != ""
}

// StreamChunk represents a chunk of streamed completion response.
type StreamChunk struct {
	Error   error
	Content string
	Done    bool
}

// LLMClient defines the interface for language model interactions.
type LLMClient interface { //nolint:revive // name mirrors the provider SDKs
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// Stream generates a completion as a stream of chunks.
	Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error)

	// GetModelName returns the model name for this LLM client.
	GetModelName() string
}

// NewCompletionRequest creates a new completion request with default generation settings.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages: messages,
		Config:   DefaultGenerationConfig(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleSystem,
		Content: content,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleUser,
		Content: content,
	}
}

// SplitSystem separates system messages (joined by blank lines) from the rest.
// Providers with a dedicated system field use it.
func SplitSystem(messages []CompletionMessage) (system string, rest []CompletionMessage) {
	var sys []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	for i, s := range sys {
		if i > 0 {
			system += "\n\n"
		}
		system += s
	}
	return system, rest
}

// StreamFromComplete adapts a single Complete call into a one-chunk stream.
// Providers without native streaming use it.
func StreamFromComplete(ctx context.Context, c LLMClient, in CompletionRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := c.Complete(ctx, in)
		if err != nil {
			ch <- StreamChunk{Error: err}
			return
		}
		ch <- StreamChunk{Content: resp.Content, Done: true}
	}()
	return ch, nil
}
