package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
	"phasedoc/pkg/agent/llmtest"
	"phasedoc/pkg/agent/middleware/validation"
)

func TestGenerate_ReturnsContent(t *testing.T) {
	fake := llmtest.NewFakeClient(llmtest.Reply("What is the project called?"))
	g := New(fake, llm.DefaultGenerationConfig())

	got, err := g.Generate(context.Background(), "ask something")
	require.NoError(t, err)
	assert.Equal(t, "What is the project called?", got)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "ask something", reqs[0].Messages[0].Content)
	assert.Equal(t, llm.RoleUser, reqs[0].Messages[0].Role)
	assert.InDelta(t, 0.7, reqs[0].Config.Temperature, 0.0001)
	assert.Equal(t, 40, reqs[0].Config.TopK)
	assert.Len(t, reqs[0].Config.SafetyThresholds, 4)
}

func TestGenerate_Blocked(t *testing.T) {
	tests := []struct {
		name   string
		step   llmtest.Step
		reason string
	}{
		{name: "safety block", step: llmtest.Block("SAFETY"), reason: "SAFETY"},
		{name: "empty content", step: llmtest.Reply("   "), reason: validation.EmptyReason},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(llmtest.NewFakeClient(tt.step), llm.DefaultGenerationConfig())
			got, err := g.Generate(context.Background(), "p")
			require.NoError(t, err)
			assert.Equal(t,
				"Content generation blocked or result was empty. Reason: "+tt.reason+". Please revise your input or try again.",
				got)
		})
	}
}

func TestGenerate_ErrorKeepsClassification(t *testing.T) {
	authErr := llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, 401, "bad key")
	g := New(llmtest.NewFakeClient(llmtest.Fail(authErr)), llm.DefaultGenerationConfig())

	_, err := g.Generate(context.Background(), "p")
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
}

func TestGenerateJSON(t *testing.T) {
	keys := []string{"summary", "key_risks"}

	tests := []struct {
		name  string
		reply string
		want  map[string]string
	}{
		{
			name:  "plain object",
			reply: `{"summary": "short", "key_risks": "few"}`,
			want:  map[string]string{"summary": "short", "key_risks": "few"},
		},
		{
			name:  "json fence",
			reply: "```json\n{\"summary\": \"s\", \"key_risks\": \"r\"}\n```",
			want:  map[string]string{"summary": "s", "key_risks": "r"},
		},
		{
			name:  "bare fence",
			reply: "```\n{\"summary\": \"s\", \"key_risks\": \"r\"}\n```",
			want:  map[string]string{"summary": "s", "key_risks": "r"},
		},
		{
			name:  "embedded in prose",
			reply: `Sure! Here it is: {"summary": "s", "key_risks": "r"} Hope that helps.`,
			want:  map[string]string{"summary": "s", "key_risks": "r"},
		},
		{
			name:  "missing key and extra key",
			reply: `{"summary": "s", "other": "dropped"}`,
			want:  map[string]string{"summary": "s", "key_risks": "Data for 'key_risks' not generated by AI."},
		},
		{
			name:  "non-string values",
			reply: `{"summary": ["a", "b"], "key_risks": {"level": 3}}`,
			want:  map[string]string{"summary": `["a","b"]`, "key_risks": `{"level":3}`},
		},
		{
			name:  "number and null",
			reply: `{"summary": 42, "key_risks": null}`,
			want:  map[string]string{"summary": "42", "key_risks": "null"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(llmtest.NewFakeClient(llmtest.Reply(tt.reply)), llm.DefaultGenerationConfig())
			got, err := g.GenerateJSON(context.Background(), "p", keys)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("GenerateJSON mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerateJSON_InvalidReply(t *testing.T) {
	keys := []string{"summary", "key_risks"}
	for _, reply := range []string{"no braces at all", "{not json}", "} backwards {"} {
		g := New(llmtest.NewFakeClient(llmtest.Reply(reply)), llm.DefaultGenerationConfig())
		got, err := g.GenerateJSON(context.Background(), "p", keys)
		require.NoError(t, err)

		want := map[string]string{
			"summary":      "Error generating data for 'summary': AI response was not valid JSON.",
			"key_risks":    "Error generating data for 'key_risks': AI response was not valid JSON.",
			RawResponseKey: reply,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("reply %q (-want +got):\n%s", reply, diff)
		}
	}
}

func TestGenerateJSON_BlockedReplyIsInvalidJSON(t *testing.T) {
	g := New(llmtest.NewFakeClient(llmtest.Block("SAFETY")), llm.DefaultGenerationConfig())
	got, err := g.GenerateJSON(context.Background(), "p", []string{"k"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got[RawResponseKey], "Content generation blocked"))
	assert.Equal(t, InvalidJSON("k"), got["k"])
}

func TestGenerateJSON_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	g := New(llmtest.NewFakeClient(llmtest.Fail(boom)), llm.DefaultGenerationConfig())
	_, err := g.GenerateJSON(context.Background(), "p", []string{"k"})
	assert.ErrorIs(t, err, boom)
}

func TestParseObject(t *testing.T) {
	_, err := ParseObject("null")
	assert.Error(t, err)

	obj, err := ParseObject("  {\"a\": 1}  ")
	require.NoError(t, err)
	assert.Contains(t, obj, "a")
}
