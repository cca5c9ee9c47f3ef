package metrics

import (
	"sync"
	"time"
)

// UsageRecorder aggregates token usage per session in memory. The CLI reads
// it to print a usage line after an interview or build.
type UsageRecorder struct {
	sessions map[string]*SessionUsage
	mu       sync.RWMutex
}

// SessionUsage represents aggregated usage for one session.
//
//nolint:govet
type SessionUsage struct {
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	FailedCount      int64     `json:"failed_count"`
	RetryCount       int64     `json:"retry_count"`
	BlockedCount     int64     `json:"blocked_count"`
	SessionID        string    `json:"session_id"`
	LastUpdated      time.Time `json:"last_updated"`
}

// NewUsageRecorder returns an empty usage recorder.
func NewUsageRecorder() *UsageRecorder {
	return &UsageRecorder{sessions: make(map[string]*SessionUsage)}
}

func (r *UsageRecorder) session(id string) *SessionUsage {
	s, ok := r.sessions[id]
	if !ok {
		s = &SessionUsage{SessionID: id}
		r.sessions[id] = s
	}
	return s
}

// ObserveRequest records a completed request. Requests without a session label are aggregated under "".
func (r *UsageRecorder) ObserveRequest(_ string, labels Labels, promptTokens, completionTokens int, success bool, _ string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session(labels.Session)
	s.RequestCount++
	if !success {
		s.FailedCount++
	}
	s.PromptTokens += int64(promptTokens)
	s.CompletionTokens += int64(completionTokens)
	s.TotalTokens = s.PromptTokens + s.CompletionTokens
	s.LastUpdated = time.Now()
}

// IncRetry counts a retry against the labelled session.
func (r *UsageRecorder) IncRetry(_ string, labels Labels, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session(labels.Session).RetryCount++
}

// IncBlocked counts a blocked response against the labelled session.
func (r *UsageRecorder) IncBlocked(_ string, labels Labels, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session(labels.Session).BlockedCount++
}

// IncThrottle is ignored.
func (r *UsageRecorder) IncThrottle(_, _ string) {}

// ObserveQueueWait is ignored.
func (r *UsageRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// Session returns a copy of the usage for sessionID, or nil.
func (r *UsageRecorder) Session(sessionID string) *SessionUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.sessions[sessionID]; ok {
		c := *s
		return &c
	}
	return nil
}

// Totals sums usage across every session.
func (r *UsageRecorder) Totals() SessionUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var t SessionUsage
	for _, s := range r.sessions {
		t.PromptTokens += s.PromptTokens
		t.CompletionTokens += s.CompletionTokens
		t.RequestCount += s.RequestCount
		t.FailedCount += s.FailedCount
		t.RetryCount += s.RetryCount
		t.BlockedCount += s.BlockedCount
		if s.LastUpdated.After(t.LastUpdated) {
			t.LastUpdated = s.LastUpdated
		}
	}
	t.TotalTokens = t.PromptTokens + t.CompletionTokens
	return t
}

// Reset clears all usage.
func (r *UsageRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*SessionUsage)
}
