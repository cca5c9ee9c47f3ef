// Package llmtest provides a scripted LLM client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"phasedoc/pkg/agent/llm"
)

// Step is one scripted outcome.
type Step struct {
	Err      error
	Response llm.CompletionResponse
}

// Reply scripts a successful response with content.
func Reply(content string) Step {
	return Step{Response: llm.CompletionResponse{Content: content, StopReason: "STOP"}}
}

// Block scripts a response refused by the provider.
func Block(reason string) Step {
	return Step{Response: llm.CompletionResponse{StopReason: reason, BlockReason: reason}}
}

// Fail scripts an error.
func Fail(err error) Step {
	return Step{Err: err}
}

// FakeClient replays scripted steps in order and records every request.
// When Respond is set it is used instead of the script. Safe for concurrent use.
type FakeClient struct {
	Respond func(req llm.CompletionRequest) (llm.CompletionResponse, error)
	Model   string

	mu       sync.Mutex
	steps    []Step
	next     int
	requests []llm.CompletionRequest
}

// NewFakeClient creates a fake that replays steps.
func NewFakeClient(steps ...Step) *FakeClient {
	return &FakeClient{steps: steps, Model: "fake-model"}
}

// Complete returns the next scripted step.
//
//nolint:gocritic // CompletionRequest is passed by value to match interface
func (f *FakeClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.CompletionResponse{}, err
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.Respond
	var step Step
	exhausted := f.next >= len(f.steps)
	if !exhausted {
		step = f.steps[f.next]
		f.next++
	}
	f.mu.Unlock()

	if respond != nil {
		return respond(req)
	}
	if exhausted {
		return llm.CompletionResponse{}, fmt.Errorf("fake client: no more responses")
	}
	return step.Response, step.Err
}

// Stream delivers the next step as a single chunk.
//
//nolint:gocritic // CompletionRequest is passed by value to match interface
func (f *FakeClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.StreamFromComplete(ctx, f, req)
}

// GetModelName returns the configured model name.
func (f *FakeClient) GetModelName() string {
	return f.Model
}

// Calls returns how many requests were made.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of every recorded request.
func (f *FakeClient) Requests() []llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.CompletionRequest(nil), f.requests...)
}

// Prompts returns the content of the last message of each request, in order.
func (f *FakeClient) Prompts() []string {
	reqs := f.Requests()
	out := make([]string, 0, len(reqs))
	for i := range reqs {
		if n := len(reqs[i].Messages); n > 0 {
			out = append(out, reqs[i].Messages[n-1].Content)
		} else {
			out = append(out, "")
		}
	}
	return out
}

// LastPrompt returns the last message content of the most recent request.
func (f *FakeClient) LastPrompt() string {
	p := f.Prompts()
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}
