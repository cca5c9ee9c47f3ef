// Package metrics provides metrics recording for LLM client operations.
package metrics

import (
	"context"
	"time"
)

// Labels identify the work a request was made for. They travel in the
// context so the middleware can tag requests without knowing the caller.
type Labels struct {
	Session   string // interview session id
	Phase     string // phase id, or outline name for document builds
	Operation string // question, summary, seed, section
}

type labelsKey struct{}

// ContextWithLabels returns ctx carrying l.
func ContextWithLabels(ctx context.Context, l Labels) context.Context {
	return context.WithValue(ctx, labelsKey{}, l)
}

// LabelsFromContext returns the labels stored in ctx, or zero labels.
func LabelsFromContext(ctx context.Context) Labels {
	l, _ := ctx.Value(labelsKey{}).(Labels)
	return l
}

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model string,
		labels Labels,
		promptTokens, completionTokens int,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncRetry counts one retry after a failure of the given error type.
	IncRetry(model string, labels Labels, errorType string)

	// IncBlocked counts a response that was blocked or came back empty.
	IncBlocked(model string, labels Labels, reason string)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(model string, duration time.Duration)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_ string, _ Labels, _, _ int, _ bool, _ string, _ time.Duration) {}

// IncRetry does nothing in the no-op recorder.
func (n *NoopRecorder) IncRetry(_ string, _ Labels, _ string) {}

// IncBlocked does nothing in the no-op recorder.
func (n *NoopRecorder) IncBlocked(_ string, _ Labels, _ string) {}

// IncThrottle does nothing in the no-op recorder.
func (n *NoopRecorder) IncThrottle(_, _ string) {}

// ObserveQueueWait does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// multi fans every observation out to several recorders.
type multi []Recorder

// Multi returns a recorder that forwards to each non-nil recorder in rs.
func Multi(rs ...Recorder) Recorder {
	var out multi
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return Nop()
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multi) ObserveRequest(model string, labels Labels, promptTokens, completionTokens int, success bool, errorType string, duration time.Duration) {
	for _, r := range m {
		r.ObserveRequest(model, labels, promptTokens, completionTokens, success, errorType, duration)
	}
}

func (m multi) IncRetry(model string, labels Labels, errorType string) {
	for _, r := range m {
		r.IncRetry(model, labels, errorType)
	}
}

func (m multi) IncBlocked(model string, labels Labels, reason string) {
	for _, r := range m {
		r.IncBlocked(model, labels, reason)
	}
}

func (m multi) IncThrottle(model, reason string) {
	for _, r := range m {
		r.IncThrottle(model, reason)
	}
}

func (m multi) ObserveQueueWait(model string, duration time.Duration) {
	for _, r := range m {
		r.ObserveQueueWait(model, duration)
	}
}
