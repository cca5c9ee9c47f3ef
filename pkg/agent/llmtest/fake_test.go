package llmtest

import (
	"context"
	"errors"
	"testing"

	"phasedoc/pkg/agent/llm"
)

func TestFakeClient_Script(t *testing.T) {
	boom := errors.New("boom")
	client := NewFakeClient(Reply("response1"), Fail(boom), Block("SAFETY"))
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})

	resp, err := client.Complete(context.Background(), req)
	if err != nil || resp.Content != "response1" {
		t.Fatalf("got %q, %v", resp.Content, err)
	}

	if _, err := client.Complete(context.Background(), req); !errors.Is(err, boom) {
		t.Errorf("expected scripted error, got %v", err)
	}

	resp, err = client.Complete(context.Background(), req)
	if err != nil || !resp.Blocked() {
		t.Errorf("expected blocked response, got %+v, %v", resp, err)
	}

	if _, err := client.Complete(context.Background(), req); err == nil {
		t.Error("expected error once the script is exhausted")
	}

	if client.Calls() != 4 {
		t.Errorf("expected 4 calls, got %d", client.Calls())
	}
	if client.LastPrompt() != "hello" {
		t.Errorf("unexpected last prompt %q", client.LastPrompt())
	}
}

func TestFakeClient_Respond(t *testing.T) {
	client := NewFakeClient()
	client.Respond = func(req llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: "echo: " + req.Messages[0].Content}, nil
	}

	ch, err := client.Stream(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("x")}))
	if err != nil {
		t.Fatal(err)
	}
	chunk := <-ch
	if chunk.Content != "echo: x" || !chunk.Done {
		t.Errorf("unexpected chunk %+v", chunk)
	}
}

func TestFakeClient_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewFakeClient(Reply("never"))
	if _, err := client.Complete(ctx, llm.CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if client.Calls() != 0 {
		t.Error("canceled calls are not recorded")
	}
}
