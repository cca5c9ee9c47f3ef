// Package google provides Google Gemini client implementation for LLM interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/genai"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
)

// GeminiClient wraps the Google GenAI client to implement llm.LLMClient interface.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
	mu     sync.Mutex
}

// NewGeminiClientWithModel creates a new Gemini client with specific model (raw client, middleware applied at higher level).
func NewGeminiClientWithModel(apiKey, model string) llm.LLMClient {
	// Client creation requires a context, so it is deferred to the first call.
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
	}
}

func (g *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, fmt.Sprintf("failed to create Gemini client: %v", err))
	}
	g.client = client
	return client, nil
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	contents, systemInstruction, err := convertMessagesToGemini(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, buildConfig(in.Config, systemInstruction))
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	return convertResponse(result), nil
}

// Stream implements the llm.LLMClient interface as a single-chunk stream.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (g *GeminiClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.StreamFromComplete(ctx, g, in)
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

// buildConfig maps sampling and safety settings onto the Gemini request config.
func buildConfig(cfg llm.GenerationConfig, systemInstruction string) *genai.GenerateContentConfig {
	temperature := cfg.Temperature
	topP := cfg.TopP
	config := &genai.GenerateContentConfig{
		Temperature: &temperature,
		TopP:        &topP,
		//nolint:gosec // validated at config load
		MaxOutputTokens: int32(cfg.MaxOutputTokens),
	}
	if cfg.TopK > 0 {
		topK := float32(cfg.TopK)
		config.TopK = &topK
	}

	for _, cat := range []llm.HarmCategory{
		llm.HarmCategoryHarassment,
		llm.HarmCategoryHateSpeech,
		llm.HarmCategorySexuallyExplicit,
		llm.HarmCategoryDangerousContent,
	} {
		threshold, ok := cfg.SafetyThresholds[cat]
		if !ok {
			continue
		}
		config.SafetySettings = append(config.SafetySettings, &genai.SafetySetting{
			Category:  genai.HarmCategory(cat),
			Threshold: genai.HarmBlockThreshold(threshold),
		})
	}

	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	return config
}

// convertMessagesToGemini converts our message format to Gemini's Content format.
// Returns contents array and optional system instruction.
func convertMessagesToGemini(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	systemInstruction, rest := llm.SplitSystem(messages)
	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		msg := &rest[i]

		var role genai.Role
		switch msg.Role {
		case llm.RoleUser:
			role = genai.RoleUser
		case llm.RoleAssistant:
			role = genai.RoleModel
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}
		if msg.Content == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	if len(contents) == 0 {
		return nil, "", fmt.Errorf("no user or assistant content to send")
	}

	return contents, systemInstruction, nil
}

// blockingFinishReasons end a candidate without usable text.
//
//nolint:gochecknoglobals // read-only lookup
var blockingFinishReasons = map[string]bool{
	"SAFETY":             true,
	"RECITATION":         true,
	"BLOCKLIST":          true,
	"PROHIBITED_CONTENT": true,
	"SPII":               true,
	"IMAGE_SAFETY":       true,
}

// convertResponse extracts text, finish reason and any block reason.
// Prompt feedback wins over the candidate's finish reason. An empty response
// with no stated reason is left unblocked for the validator to name.
func convertResponse(result *genai.GenerateContentResponse) llm.CompletionResponse {
	if result == nil {
		return llm.CompletionResponse{}
	}

	var resp llm.CompletionResponse
	var candidate *genai.Candidate
	if len(result.Candidates) > 0 {
		candidate = result.Candidates[0]
	}
	if candidate != nil {
		resp.StopReason = string(candidate.FinishReason)
	}

	if fb := result.PromptFeedback; fb != nil && fb.BlockReason != "" {
		resp.BlockReason = string(fb.BlockReason)
		return resp
	}

	if candidate != nil && candidate.Content != nil {
		var sb strings.Builder
		for _, part := range candidate.Content.Parts {
			if part != nil && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
		resp.Content = sb.String()
	}
	if resp.Content == "" && blockingFinishReasons[resp.StopReason] {
		resp.BlockReason = resp.StopReason
	}
	return resp
}

// apiStatusPattern matches the status code in genai API error text ("Error 429, Message: ...").
// It is only consulted for errors that are not a genai.APIError.
var apiStatusPattern = regexp.MustCompile(`\bError (\d{3})\b`)

// statusCode returns the HTTP status carried by err, if any.
func statusCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && apiErrPtr.Code != 0 {
		return apiErrPtr.Code, true
	}
	if m := apiStatusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code, true
	}
	return 0, false
}

// classifyError converts a Gemini SDK error into an llmerrors.Error.
func classifyError(err error) error {
	msg := fmt.Sprintf("Gemini API call failed: %v", err)
	if code, ok := statusCode(err); ok {
		if errType, ok := llmerrors.ClassifyStatus(code); ok {
			return &llmerrors.Error{Type: errType, StatusCode: code, Err: err, Message: msg}
		}
	}
	return llmerrors.NewErrorWithCause(llmerrors.ClassifyMessage(err.Error()), err, msg)
}
