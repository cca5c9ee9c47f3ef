package answers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"phasedoc/pkg/proto"
)

func TestMemoryStoreAppendList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, "s1", proto.NewAnswer(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 answers, got %d", len(got))
	}
	for i, a := range got {
		if a.QuestionID != fmt.Sprintf("q%d", i) {
			t.Errorf("answer %d out of order: %s", i, a.QuestionID)
		}
	}
}

func TestMemoryStoreUnknownSession(t *testing.T) {
	got, err := NewMemoryStore().List(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestMemoryStoreListIsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := proto.NewAnswer("q1", "original")
	a.Metadata = map[string]string{"k": "v"}
	if err := s.Append(ctx, "s1", a); err != nil {
		t.Fatal(err)
	}

	got, _ := s.List(ctx, "s1")
	got[0].Text = "mutated"
	got[0].Metadata["k"] = "mutated"
	_ = append(got, proto.NewAnswer("q2", "extra"))

	again, _ := s.List(ctx, "s1")
	if len(again) != 1 || again[0].Text != "original" || again[0].Metadata["k"] != "v" {
		t.Errorf("store was mutated through List result: %#v", again)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Append(ctx, "s1", proto.NewAnswer("q1", "a"))
	_ = s.Append(ctx, "s2", proto.NewAnswer("q1", "b"))

	if err := s.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if got, _ := s.List(ctx, "s1"); len(got) != 0 {
		t.Errorf("expected s1 cleared, got %d answers", len(got))
	}
	if got, _ := s.List(ctx, "s2"); len(got) != 1 {
		t.Errorf("clearing s1 touched s2: %d answers", len(got))
	}
	if err := s.Clear(ctx, "never-seen"); err != nil {
		t.Errorf("clearing unknown session should be a no-op, got %v", err)
	}
}

func TestMemoryStoreEmptySession(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Append(context.Background(), "", proto.NewAnswer("q", "a")); !errors.Is(err, ErrEmptySession) {
		t.Errorf("expected ErrEmptySession, got %v", err)
	}
	if err := s.Clear(context.Background(), ""); !errors.Is(err, ErrEmptySession) {
		t.Errorf("expected ErrEmptySession, got %v", err)
	}
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemoryStore().Append(ctx, "s1", proto.NewAnswer("q", "a")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryStoreConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const sessions = 4
	const perSession = 50

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		for j := 0; j < perSession; j++ {
			wg.Add(1)
			go func(sess, n int) {
				defer wg.Done()
				_ = s.Append(ctx, fmt.Sprintf("s%d", sess), proto.NewAnswer(fmt.Sprintf("q%d", n), "a"))
			}(i, j)
		}
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		got, _ := s.List(ctx, fmt.Sprintf("s%d", i))
		if len(got) != perSession {
			t.Errorf("session s%d: expected %d answers, got %d", i, perSession, len(got))
		}
	}
}
