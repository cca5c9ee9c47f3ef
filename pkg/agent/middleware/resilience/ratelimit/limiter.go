// Package ratelimit provides rate limiting functionality for LLM clients.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/logx"
	"phasedoc/pkg/utils"
)

// BufferFactor is the share of the per-minute budget the bucket holds, leaving
// headroom for token estimation error.
const BufferFactor = 0.9

const (
	refillInterval = 6 * time.Second // ten refills per minute
	pollInterval   = 100 * time.Millisecond
)

// Limiter defines the interface for rate limiting implementations.
type Limiter interface {
	// Acquire attempts to atomically acquire tokens and a concurrency slot.
	// Returns a release function that must be called to return the concurrency slot.
	// Blocks until both resources are available or context is cancelled.
	Acquire(ctx context.Context, tokens int, owner string) (releaseFunc func(), err error)

	// GetStats returns current limiter statistics.
	GetStats() LimiterStats
}

// TokenEstimator estimates the number of tokens needed for a request.
type TokenEstimator interface {
	// EstimatePrompt estimates the number of prompt tokens for a request.
	EstimatePrompt(req llm.CompletionRequest) int
}

// Config defines rate limiting configuration for a provider.
type Config struct {
	TokensPerMinute int           `json:"tokens_per_minute" yaml:"tokens_per_minute"` // 0 disables limiting
	MaxConcurrency  int           `json:"max_concurrency" yaml:"max_concurrency"`     // Maximum concurrent requests
	MaxWait         time.Duration `json:"max_wait" yaml:"max_wait"`                   // Give up waiting after this long; 0 means one minute
}

// Enabled reports whether c limits anything.
func (c Config) Enabled() bool {
	return c.TokensPerMinute > 0 && c.MaxConcurrency > 0
}

// DefaultTokenEstimator provides token estimation using TikToken.
type DefaultTokenEstimator struct{}

// NewDefaultTokenEstimator creates a new default token estimator.
func NewDefaultTokenEstimator() TokenEstimator {
	return &DefaultTokenEstimator{}
}

// EstimatePrompt estimates prompt tokens using TikToken-based counting.
//
//nolint:gocritic // request passed by value to match TokenEstimator
func (e *DefaultTokenEstimator) EstimatePrompt(req llm.CompletionRequest) int {
	var sb strings.Builder
	for i := range req.Messages {
		sb.WriteString(req.Messages[i].Content)
		sb.WriteByte('\n')
	}
	return utils.CountTokensSimple(sb.String())
}

// acquisition tracks a single concurrency slot acquisition for cleanup purposes.
type acquisition struct {
	timestamp time.Time
	owner     string
}

// TokenBucketLimiter implements rate limiting using a token bucket algorithm
// combined with concurrency limiting (semaphore).
//
//nolint:govet // fieldalignment: Struct layout optimized for readability over memory
type TokenBucketLimiter struct {
	mu sync.Mutex

	name string

	// Token bucket state
	availableTokens int
	tokensPerRefill int
	maxCapacity     int

	// Concurrency limiting
	activeRequests int
	maxConcurrency int
	acquisitions   []*acquisition
	releaseTimeout time.Duration // slots held longer than this are force-released

	maxWait time.Duration

	tokenLimitHits  int64
	concurrencyHits int64
}

// LimiterStats represents current rate limiter statistics.
type LimiterStats struct {
	Name                string `json:"name"`
	AvailableTokens     int    `json:"available_tokens"`
	MaxCapacity         int    `json:"max_capacity"`
	ActiveRequests      int    `json:"active_requests"`
	MaxConcurrency      int    `json:"max_concurrency"`
	TokenLimitHits      int64  `json:"token_limit_hits"`
	ConcurrencyHits     int64  `json:"concurrency_hits"`
	TrackedAcquisitions int    `json:"tracked_acquisitions"`
}

// NewTokenBucketLimiter creates a token bucket limiter. requestTimeout bounds a
// single request; slots held for twice that long are considered leaked.
func NewTokenBucketLimiter(name string, cfg Config, requestTimeout time.Duration) *TokenBucketLimiter {
	maxCapacity := int(float64(cfg.TokensPerMinute) * BufferFactor)
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = time.Minute
	}

	return &TokenBucketLimiter{
		name:            name,
		availableTokens: maxCapacity,
		tokensPerRefill: cfg.TokensPerMinute / 10,
		maxCapacity:     maxCapacity,
		maxConcurrency:  cfg.MaxConcurrency,
		acquisitions:    make([]*acquisition, 0),
		releaseTimeout:  requestTimeout * 2,
		maxWait:         maxWait,
	}
}

// Acquire atomically acquires both tokens and a concurrency slot.
// Returns a release function that MUST be called (via defer) to return the slot.
// A request larger than the bucket is clamped to the bucket size so it can
// run once the bucket is full.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, tokens int, owner string) (func(), error) {
	firstAttempt := true
	startTime := time.Now()

	for {
		l.mu.Lock()

		if tokens > l.maxCapacity {
			tokens = l.maxCapacity
		}

		if l.activeRequests >= l.maxConcurrency {
			l.cleanStaleAcquisitions()
		}

		hasTokens := l.availableTokens >= tokens
		hasSlot := l.activeRequests < l.maxConcurrency

		if hasTokens && hasSlot {
			l.availableTokens -= tokens
			l.activeRequests++

			acq := &acquisition{timestamp: time.Now(), owner: owner}
			l.acquisitions = append(l.acquisitions, acq)

			l.mu.Unlock()
			return func() { l.release(acq) }, nil
		}

		if elapsed := time.Since(startTime); elapsed > l.maxWait {
			l.mu.Unlock()
			return nil, fmt.Errorf("rate limit acquisition timeout after %v "+
				"(requested %d tokens, max capacity %d, limiter: %s, owner: %s)",
				elapsed.Round(time.Second), tokens, l.maxCapacity, l.name, owner)
		}

		// Record what blocked us once per call.
		if firstAttempt {
			if !hasTokens {
				l.tokenLimitHits++
				logx.Infof("RATELIMIT: %s token limit hit, waiting for refill (need %d, have %d, owner: %s)",
					l.name, tokens, l.availableTokens, owner)
			}
			if !hasSlot {
				l.concurrencyHits++
				logx.Infof("RATELIMIT: %s concurrency limit hit, waiting for slot (active: %d/%d, owner: %s)",
					l.name, l.activeRequests, l.maxConcurrency, owner)
			}
			firstAttempt = false
		}

		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err() //nolint:wrapcheck // Context error propagated as-is
		case <-time.After(pollInterval):
		}
	}
}

// release returns a concurrency slot; consumed tokens are not refunded.
func (l *TokenBucketLimiter) release(acq *acquisition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, a := range l.acquisitions {
		if a == acq {
			l.acquisitions = append(l.acquisitions[:i], l.acquisitions[i+1:]...)
			l.activeRequests--
			return
		}
	}
	// Already force-released as stale.
}

// cleanStaleAcquisitions removes acquisitions that have exceeded the release timeout.
// Called under lock when concurrency appears full.
func (l *TokenBucketLimiter) cleanStaleAcquisitions() {
	if l.releaseTimeout <= 0 {
		return
	}
	now := time.Now()
	valid := l.acquisitions[:0]
	cleaned := 0
	for _, acq := range l.acquisitions {
		if now.Sub(acq.timestamp) > l.releaseTimeout {
			cleaned++
			l.activeRequests--
			logx.Warnf("RATELIMIT: force-released stale slot after %v (limiter: %s, owner: %s)",
				l.releaseTimeout, l.name, acq.owner)
			continue
		}
		valid = append(valid, acq)
	}
	l.acquisitions = valid

	if cleaned > 0 {
		logx.Warnf("RATELIMIT: cleaned %d stale concurrency slots for %s", cleaned, l.name)
	}
}

// Start refills the bucket every six seconds until ctx is cancelled.
func (l *TokenBucketLimiter) Start(ctx context.Context) {
	ticker := time.NewTicker(refillInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.refill()
			}
		}
	}()
}

// refill adds tokens to the bucket up to max capacity.
func (l *TokenBucketLimiter) refill() {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldTokens := l.availableTokens
	l.availableTokens = min(l.availableTokens+l.tokensPerRefill, l.maxCapacity)

	if l.availableTokens != oldTokens {
		logx.Debugf("RATELIMIT: %s bucket refilled: %d -> %d tokens (max: %d)",
			l.name, oldTokens, l.availableTokens, l.maxCapacity)
	}
}

// GetStats returns current limiter statistics (thread-safe).
func (l *TokenBucketLimiter) GetStats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LimiterStats{
		Name:                l.name,
		AvailableTokens:     l.availableTokens,
		MaxCapacity:         l.maxCapacity,
		ActiveRequests:      l.activeRequests,
		MaxConcurrency:      l.maxConcurrency,
		TokenLimitHits:      l.tokenLimitHits,
		ConcurrencyHits:     l.concurrencyHits,
		TrackedAcquisitions: len(l.acquisitions),
	}
}
