package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
)

// clock is a manually advanced time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	b := New(cfg)
	b.now = c.now
	return b, c
}

func rejection(t *testing.T, err error) *Error {
	t.Helper()
	var cbErr *Error
	if !errors.As(err, &cbErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	return cbErr
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, c := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		b.Record(Failure)
	}
	if b.State() != Closed {
		t.Fatalf("expected CLOSED below threshold, got %s", b.State())
	}
	b.Record(Failure)
	if b.State() != Open {
		t.Fatalf("expected OPEN at threshold, got %s", b.State())
	}

	c.advance(20 * time.Second)
	cbErr := rejection(t, b.Admit())
	if cbErr.State != Open || cbErr.RetryAfter != 40*time.Second {
		t.Errorf("got %s retry after %v, want OPEN retry after 40s", cbErr.State, cbErr.RetryAfter)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})

	b.Record(Failure)
	b.Record(Success)
	b.Record(Failure)
	if b.State() != Closed {
		t.Errorf("non-consecutive failures must not open, got %s", b.State())
	}
}

func TestBreaker_IgnoredDoesNotCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})

	b.Record(Failure)
	b.Record(Ignored)
	b.Record(Failure)
	if b.State() != Open {
		t.Errorf("ignored outcome must not reset the failure run, got %s", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, c := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Second})

	b.Record(Failure)
	c.advance(10 * time.Second)

	if err := b.Admit(); err != nil {
		t.Fatalf("expected trial admitted after timeout, got %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected HALF_OPEN, got %s", b.State())
	}
	b.Record(Success)
	if b.State() != HalfOpen {
		t.Fatalf("one success should not close with threshold 2, got %s", b.State())
	}
	if err := b.Admit(); err != nil {
		t.Fatalf("second trial: %v", err)
	}
	b.Record(Success)
	if b.State() != Closed {
		t.Fatalf("expected CLOSED, got %s", b.State())
	}
}

func TestBreaker_HalfOpenAdmitsOneTrialAtATime(t *testing.T) {
	b, c := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second})

	b.Record(Failure)
	c.advance(time.Second)
	if err := b.Admit(); err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if cbErr := rejection(t, b.Admit()); cbErr.State != HalfOpen {
		t.Errorf("concurrent trial rejected with %s, want HALF_OPEN", cbErr.State)
	}

	// An ignored outcome still ends the trial.
	b.Record(Ignored)
	if err := b.Admit(); err != nil {
		t.Errorf("next trial after ignored outcome: %v", err)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, c := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Second})

	for i := 0; i < 3; i++ {
		b.Record(Failure)
	}
	c.advance(time.Second)
	if err := b.Admit(); err != nil {
		t.Fatalf("trial: %v", err)
	}
	b.Record(Failure)
	if b.State() != Open {
		t.Fatalf("expected OPEN after failed trial, got %s", b.State())
	}
	if cbErr := rejection(t, b.Admit()); cbErr.RetryAfter != time.Second {
		t.Errorf("cool-down restarts from the failed trial, got %v", cbErr.RetryAfter)
	}
}

func TestNew_ClampsSuccessThreshold(t *testing.T) {
	b, c := newTestBreaker(Config{FailureThreshold: 1, Timeout: time.Second})

	b.Record(Failure)
	c.advance(time.Second)
	_ = b.Admit()
	b.Record(Success)
	if b.State() != Closed {
		t.Errorf("zero success threshold should close on first success, got %s", b.State())
	}
}

func TestMiddleware_NilBreaker(t *testing.T) {
	if Middleware(nil) != nil {
		t.Error("nil breaker should yield a nil middleware")
	}
}

func TestMiddleware_RejectsWhenOpen(t *testing.T) {
	calls := 0
	failing := llmerrors.NewError(llmerrors.ErrorTypeTransient, "503")
	base := llm.WrapClient(
		func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
			calls++
			return llm.CompletionResponse{}, failing
		},
		func(context.Context, llm.CompletionRequest) (<-chan llm.StreamChunk, error) { return nil, failing },
		func() string { return "flaky" },
	)

	b, _ := newTestBreaker(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	client := llm.Chain(base, Middleware(b))

	for i := 0; i < 2; i++ {
		_, _ = client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	}
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	if rejection(t, err).State != Open {
		t.Fatalf("expected open circuit error, got %v", err)
	}
	if _, err := client.Stream(context.Background(), llm.NewCompletionRequest(nil)); rejection(t, err).State != Open {
		t.Errorf("stream should be rejected too, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected provider called twice, got %d", calls)
	}
	if client.GetModelName() != "flaky" {
		t.Errorf("model name = %q", client.GetModelName())
	}
}

func TestMiddleware_RequestErrorsDoNotTrip(t *testing.T) {
	for name, cause := range map[string]error{
		"auth":       llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key"),
		"bad prompt": llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "too long"),
		"canceled":   context.Canceled,
	} {
		t.Run(name, func(t *testing.T) {
			base := llm.WrapClient(
				func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
					return llm.CompletionResponse{}, cause
				},
				func(context.Context, llm.CompletionRequest) (<-chan llm.StreamChunk, error) { return nil, cause },
				func() string { return "misconfigured" },
			)

			b, _ := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
			client := llm.Chain(base, Middleware(b))

			for i := 0; i < 3; i++ {
				_, _ = client.Complete(context.Background(), llm.NewCompletionRequest(nil))
			}
			if b.State() != Closed {
				t.Errorf("%s errors must not open the breaker, got %s", name, b.State())
			}
		})
	}
}
