// Package utils provides token counting and filesystem helpers.
package utils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens for a model family.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter for model. Gemini, Claude and Ollama
// models have no public tokenizer here and are approximated with the GPT-4
// encoding, as are unknown names.
func NewTokenCounter(model string) (*TokenCounter, error) {
	tikModel := tokenizer.GPT4
	if strings.HasPrefix(model, "gpt-3.5") {
		tikModel = tokenizer.GPT35Turbo
	}

	codec, err := tokenizer.ForModel(tikModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}

	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// 4 chars ≈ 1 token
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}

	return count
}

//nolint:gochecknoglobals // shared codec, built once
var (
	simpleOnce    sync.Once
	simpleCounter *TokenCounter
)

// CountTokensSimple counts tokens with a shared GPT-4 encoding counter.
func CountTokensSimple(text string) int {
	simpleOnce.Do(func() {
		// On error the nil counter falls back to the character estimate.
		simpleCounter, _ = NewTokenCounter("gpt-4")
	})
	return simpleCounter.CountTokens(text)
}
