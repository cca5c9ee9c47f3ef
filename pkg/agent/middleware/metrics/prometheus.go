package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	blockedTotal    *prometheus.CounterVec
	throttleTotal   *prometheus.CounterVec
	queueWaitTime   *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder registered with the default registry.
// It must be called at most once per process.
func NewPrometheusRecorder() *PrometheusRecorder {
	return NewPrometheusRecorderWith(prometheus.DefaultRegisterer)
}

// NewPrometheusRecorderWith creates a recorder registered with reg.
func NewPrometheusRecorderWith(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phasedoc_llm_requests_total",
				Help: "Total number of LLM requests by model, phase, operation and status",
			},
			[]string{"model", "phase", "operation", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phasedoc_llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "phase", "operation", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phasedoc_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "operation"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phasedoc_llm_retries_total",
				Help: "Total number of retried LLM requests by failure type",
			},
			[]string{"model", "operation", "error_type"},
		),
		blockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phasedoc_llm_blocked_total",
				Help: "Total number of blocked or empty LLM responses",
			},
			[]string{"model", "operation", "reason"},
		),
		throttleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phasedoc_llm_throttle_total",
				Help: "Total number of LLM throttling events",
			},
			[]string{"model", "reason"},
		),
		queueWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phasedoc_llm_queue_wait_duration_seconds",
				Help:    "Time spent waiting for rate limit availability",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
	}
}

// ObserveRequest records metrics for a completed LLM request.
// Session ids are left out of the label set; they are unbounded.
func (p *PrometheusRecorder) ObserveRequest(
	model string,
	labels Labels,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(model, labels.Phase, labels.Operation, status, errorType).Inc()

	if success {
		p.tokensTotal.WithLabelValues(model, labels.Phase, labels.Operation, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, labels.Phase, labels.Operation, "completion").Add(float64(completionTokens))
	}

	p.requestDuration.WithLabelValues(model, labels.Operation).Observe(duration.Seconds())
}

// IncRetry counts a retry.
func (p *PrometheusRecorder) IncRetry(model string, labels Labels, errorType string) {
	p.retriesTotal.WithLabelValues(model, labels.Operation, errorType).Inc()
}

// IncBlocked counts a blocked response.
func (p *PrometheusRecorder) IncBlocked(model string, labels Labels, reason string) {
	p.blockedTotal.WithLabelValues(model, labels.Operation, reason).Inc()
}

// IncThrottle increments the throttle counter for rate limiting events.
func (p *PrometheusRecorder) IncThrottle(model, reason string) {
	p.throttleTotal.WithLabelValues(model, reason).Inc()
}

// ObserveQueueWait records time spent waiting for rate limit availability.
func (p *PrometheusRecorder) ObserveQueueWait(model string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(model).Observe(duration.Seconds())
}

// WriteText gathers g and writes every metric family in the text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
