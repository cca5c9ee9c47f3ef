package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
)

// TestEnsureAlternation tests the message alternation logic.
func TestEnsureAlternation(t *testing.T) {
	tests := []struct {
		name         string
		input        []llm.CompletionMessage
		expectSystem string
		expectMsgLen int
		errContains  string
	}{
		{
			name:        "empty messages",
			input:       []llm.CompletionMessage{},
			errContains: "message list cannot be empty",
		},
		{
			name: "system message extracted",
			input: []llm.CompletionMessage{
				{Role: llm.RoleSystem, Content: "You are helpful"},
				{Role: llm.RoleUser, Content: "Hello"},
			},
			expectSystem: "You are helpful",
			expectMsgLen: 1,
		},
		{
			name: "proper alternation maintained",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleAssistant, Content: "Hi"},
				{Role: llm.RoleUser, Content: "How are you?"},
			},
			expectMsgLen: 3,
		},
		{
			name: "consecutive user messages merged",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleUser, Content: "Anyone there?"},
			},
			expectMsgLen: 1,
		},
		{
			name:        "only system",
			input:       []llm.CompletionMessage{{Role: llm.RoleSystem, Content: "rules"}},
			errContains: "at least one non-system message",
		},
		{
			name: "ends with assistant",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleAssistant, Content: "Hi"},
			},
			errContains: "last message must be user role",
		},
		{
			name: "starts with assistant",
			input: []llm.CompletionMessage{
				{Role: llm.RoleAssistant, Content: "Hi"},
				{Role: llm.RoleUser, Content: "Hello"},
			},
			errContains: "first message must be user role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, msgs, err := ensureAlternation(tt.input)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if system != tt.expectSystem {
				t.Errorf("expected system %q, got %q", tt.expectSystem, system)
			}
			if len(msgs) != tt.expectMsgLen {
				t.Errorf("expected %d messages, got %d", tt.expectMsgLen, len(msgs))
			}
		})
	}
}

func TestEnsureAlternation_MergedContent(t *testing.T) {
	_, msgs, err := ensureAlternation([]llm.CompletionMessage{
		llm.NewUserMessage("first"),
		llm.NewUserMessage("second"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].Content != "first\n\nsecond" {
		t.Errorf("unexpected merged content %q", msgs[0].Content)
	}
}

func TestBuildParams(t *testing.T) {
	c := NewClaudeClientWithModel("key", "").(*ClaudeClient)
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("hello"),
	})

	params, err := c.buildParams(req)
	if err != nil {
		t.Fatal(err)
	}
	if string(params.Model) != DefaultModel {
		t.Errorf("expected default model, got %s", params.Model)
	}
	if params.MaxTokens != 8192 {
		t.Errorf("expected max tokens 8192, got %d", params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "sys" {
		t.Errorf("expected system prompt, got %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(params.Messages))
	}
}

// TestGetModelName tests model name retrieval.
func TestGetModelName(t *testing.T) {
	client := NewClaudeClientWithModel("test-key", "claude-3-5-haiku-latest")
	if client.GetModelName() != "claude-3-5-haiku-latest" {
		t.Errorf("expected model %q, got %q", "claude-3-5-haiku-latest", client.GetModelName())
	}
}

func TestClassifyError(t *testing.T) {
	if err := classifyError(fmt.Errorf("post: %w", context.Canceled)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation passed through, got %v", err)
	}

	err := classifyError(errors.New("read tcp: connection reset by peer"))
	if !llmerrors.Is(err, llmerrors.ErrorTypeTransient) {
		t.Errorf("expected transient, got %v", err)
	}

	err = classifyError(errors.New("authentication_error: invalid key"))
	if !llmerrors.Is(err, llmerrors.ErrorTypeAuth) {
		t.Errorf("expected auth, got %v", err)
	}
}
