package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"phasedoc/pkg/agent/llmerrors"
)

// =============================================================================
// ShouldRetry classifier tests
// =============================================================================

func TestShouldRetry_NilError(t *testing.T) {
	if ShouldRetry(nil) {
		t.Error("Expected false for nil error")
	}
}

func TestShouldRetry_ContextCanceled(t *testing.T) {
	if ShouldRetry(context.Canceled) {
		t.Error("Expected false for context.Canceled")
	}
	if ShouldRetry(fmt.Errorf("operation failed: %w", context.Canceled)) {
		t.Error("Expected false for wrapped context.Canceled")
	}
}

func TestShouldRetry_BareDeadlineExceeded(t *testing.T) {
	if ShouldRetry(context.DeadlineExceeded) {
		t.Error("Expected false for context.DeadlineExceeded")
	}
	if ShouldRetry(fmt.Errorf("http call failed: %w", context.DeadlineExceeded)) {
		t.Error("Expected false for wrapped DeadlineExceeded")
	}
}

func TestShouldRetry_ClassifiedTimeout(t *testing.T) {
	// A per-request timeout classified by the timeout middleware stays retryable.
	err := llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient,
		fmt.Errorf("http request failed: %w", context.DeadlineExceeded), "request timed out")
	if !ShouldRetry(err) {
		t.Error("Expected true: classified per-request timeout should be retryable")
	}
}

func TestShouldRetry_LLMErrorTypes(t *testing.T) {
	tests := []struct {
		errType llmerrors.ErrorType
		want    bool
	}{
		{llmerrors.ErrorTypeAuth, false},
		{llmerrors.ErrorTypeBadPrompt, false},
		{llmerrors.ErrorTypeServiceUnavailable, false},
		{llmerrors.ErrorTypeRateLimit, true},
		{llmerrors.ErrorTypeTransient, true},
		{llmerrors.ErrorTypeEmptyResponse, true},
		{llmerrors.ErrorTypeUnknown, true},
	}
	for _, tt := range tests {
		err := fmt.Errorf("llm call failed: %w", &llmerrors.Error{Type: tt.errType, Message: "x"})
		if got := ShouldRetry(err); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.errType, tt.want, got)
		}
	}
}

func TestShouldRetry_UnclassifiedPatterns(t *testing.T) {
	nonRetryable := []string{
		"HTTP 401 Unauthorized",
		"403 Forbidden",
		"invalid api key provided",
		"HTTP 400 Bad Request",
		"404 Not Found",
		"upstream returned status 404",
		"status=400",
	}
	for _, p := range nonRetryable {
		if ShouldRetry(errors.New(p)) {
			t.Errorf("Expected false for pattern: %q", p)
		}
	}

	retryable := []string{
		"connection reset by peer",
		"EOF",
		"something completely unexpected",
		"stream reset after 4000 tokens",
		"request id 1400402: upstream closed",
		"retry after 4040ms",
	}
	for _, msg := range retryable {
		if !ShouldRetry(errors.New(msg)) {
			t.Errorf("Expected true for unknown error: %q", msg)
		}
	}
}

// =============================================================================
// Policy tests
// =============================================================================

func TestNewPolicy_DefaultClassifier(t *testing.T) {
	p := NewPolicy(DefaultConfig, nil)
	if p.Classifier == nil {
		t.Fatal("Expected default classifier when nil passed")
	}
	if p.ShouldRetry(nil) {
		t.Error("Expected false for nil error with default classifier")
	}
}

func TestNewPolicy_CustomClassifier(t *testing.T) {
	alwaysRetry := func(err error) bool { return err != nil }
	p := NewPolicy(DefaultConfig, alwaysRetry)

	if !p.ShouldRetry(errors.New("anything")) {
		t.Error("Expected custom classifier to be used")
	}
}

func TestNewPolicy_ClampsAttempts(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 0}, nil)
	if p.Config.MaxAttempts != 1 {
		t.Errorf("Expected at least one attempt, got %d", p.Config.MaxAttempts)
	}
}

func TestDefaultConfig(t *testing.T) {
	if DefaultConfig.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", DefaultConfig.MaxAttempts)
	}
	if DefaultConfig.MaxElapsed != 120*time.Second {
		t.Errorf("MaxElapsed = %v, want 120s", DefaultConfig.MaxElapsed)
	}
	if !DefaultConfig.Jitter {
		t.Error("Expected jitter enabled by default")
	}
}

func TestCalculateDelay_FirstAttempt(t *testing.T) {
	p := NewPolicy(Config{InitialDelay: time.Second, MaxDelay: 30 * time.Second, BackoffFactor: 2.0}, nil)
	if delay := p.CalculateDelay(1); delay != 0 {
		t.Errorf("Expected 0 delay for first attempt, got: %v", delay)
	}
}

func TestCalculateDelay_ExponentialBackoff(t *testing.T) {
	p := NewPolicy(Config{InitialDelay: time.Second, MaxDelay: 30 * time.Second, BackoffFactor: 2.0}, nil)

	want := map[int]time.Duration{2: time.Second, 3: 2 * time.Second, 4: 4 * time.Second, 5: 8 * time.Second}
	for attempt, d := range want {
		if got := p.CalculateDelay(attempt); got != d {
			t.Errorf("attempt %d: expected %v, got %v", attempt, d, got)
		}
	}
}

func TestCalculateDelay_MaxDelayCap(t *testing.T) {
	p := NewPolicy(Config{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0}, nil)

	// Attempt 10: 1s * 2^8 = 256s, capped at 5s
	if delay := p.CalculateDelay(10); delay != 5*time.Second {
		t.Errorf("Expected 5s (max delay cap) for attempt 10, got: %v", delay)
	}
	// Huge exponents must not overflow
	if delay := p.CalculateDelay(500); delay != 5*time.Second {
		t.Errorf("Expected 5s for attempt 500, got: %v", delay)
	}
}

func TestCalculateDelay_FullJitter(t *testing.T) {
	p := NewPolicy(Config{InitialDelay: time.Second, MaxDelay: 30 * time.Second, BackoffFactor: 2.0, Jitter: true}, nil)

	for i := 0; i < 200; i++ {
		delay := p.CalculateDelay(3)
		if delay < 0 || delay > 2*time.Second {
			t.Fatalf("Expected delay in [0, 2s], got: %v", delay)
		}
	}

	// Extremes of the random source map to the ends of the range.
	p.randN = func(int64) int64 { return 0 }
	if d := p.CalculateDelay(3); d != 0 {
		t.Errorf("Expected 0 at low end, got %v", d)
	}
	p.randN = func(n int64) int64 { return n - 1 }
	if d := p.CalculateDelay(3); d != 2*time.Second {
		t.Errorf("Expected cap at high end, got %v", d)
	}
}
