// Package retry provides retry logic with exponential backoff for resilient LLM calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"phasedoc/pkg/agent/llmerrors"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`     // Maximum number of attempts (including initial)
	MaxElapsed    time.Duration `json:"max_elapsed" yaml:"max_elapsed"`       // Budget for the whole loop; 0 means unbounded
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`   // Backoff cap before the first retry
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`           // Maximum delay between retries
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"` // Multiplier for exponential backoff
	Jitter        bool          `json:"jitter" yaml:"jitter"`                 // Full jitter: sleep uniformly in [0, cap]
}

// DefaultConfig is five attempts within two minutes, with full jitter.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   5,
	MaxElapsed:    120 * time.Second,
	InitialDelay:  time.Second,
	MaxDelay:      60 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// Hook is called before each retry sleep. attempt is the attempt that just failed.
type Hook func(ctx context.Context, attempt int, err error, delay time.Duration)

// nonRetryablePatterns mark unclassified errors that will not improve on retry.
// Status codes only match as whole numbers, so "4000 tokens" is not a 400.
//
//nolint:gochecknoglobals // read-only pattern list
var (
	nonRetryableStatus   = regexp.MustCompile(`\b(400|401|403|404)\b`)
	nonRetryablePatterns = []string{
		"unauthorized", "forbidden", "invalid api key", "bad request", "not found",
	}
)

// ShouldRetry is the default error classifier.
//
// Classified LLM errors decide for themselves. Cancellation never retries, and
// neither does a bare deadline error: per-request timeouts reach here already
// classified as transient. Unclassified errors retry unless their text looks
// like an auth or client error.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	if nonRetryableStatus.MatchString(errStr) {
		return false
	}
	for _, p := range nonRetryablePatterns {
		if strings.Contains(errStr, p) {
			return false
		}
	}
	return true
}

// Policy encapsulates retry configuration and logic.
type Policy struct {
	Classifier Classifier
	OnRetry    Hook
	// randN returns a uniform value in [0, n). Tests replace it.
	randN      func(n int64) int64
	Config     Config
}

// NewPolicy creates a new retry policy with the given configuration and classifier.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
		randN:      rand.Int64N,
	}
}

// WithHook sets the retry hook and returns p.
func (p *Policy) WithHook(h Hook) *Policy {
	p.OnRetry = h
	return p
}

// BackoffCap is the upper bound of the delay before the given attempt:
// min(MaxDelay, InitialDelay * BackoffFactor^(attempt-2)). Attempt 1 has no delay.
func (p *Policy) BackoffCap(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	raw := float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2))
	if p.Config.MaxDelay > 0 && raw > float64(p.Config.MaxDelay) {
		return p.Config.MaxDelay
	}
	if raw > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(raw)
}

// CalculateDelay computes the delay before the given attempt. With jitter the
// delay is uniform in [0, BackoffCap]; without it the cap itself.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	limit := p.BackoffCap(attempt)
	if !p.Config.Jitter || limit <= 0 {
		return limit
	}
	randN := p.randN
	if randN == nil {
		randN = rand.Int64N
	}
	return time.Duration(randN(int64(limit) + 1))
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
