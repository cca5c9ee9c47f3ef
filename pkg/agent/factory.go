package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"phasedoc/pkg/agent/internal/llmimpl/anthropic"
	"phasedoc/pkg/agent/internal/llmimpl/google"
	"phasedoc/pkg/agent/internal/llmimpl/ollama"
	"phasedoc/pkg/agent/internal/llmimpl/openaiofficial"
	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmerrors"
	"phasedoc/pkg/agent/middleware/logging"
	"phasedoc/pkg/agent/middleware/metrics"
	"phasedoc/pkg/agent/middleware/resilience/circuit"
	"phasedoc/pkg/agent/middleware/resilience/ratelimit"
	"phasedoc/pkg/agent/middleware/resilience/retry"
	"phasedoc/pkg/agent/middleware/resilience/timeout"
	"phasedoc/pkg/agent/middleware/validation"
	"phasedoc/pkg/config"
	"phasedoc/pkg/logx"
)

// Option customizes a factory.
type Option func(*LLMClientFactory)

// WithRegisterer registers Prometheus collectors with reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(f *LLMClientFactory) { f.registerer = reg }
}

// WithBaseClient replaces the provider client; the middleware chain still applies.
func WithBaseClient(c llm.LLMClient) Option {
	return func(f *LLMClientFactory) { f.base = c }
}

// WithLogger sets the logger used by the factory and its middleware.
func WithLogger(l *logx.Logger) Option {
	return func(f *LLMClientFactory) { f.logger = l }
}

// LLMClientFactory creates LLM clients with properly configured middleware chains.
type LLMClientFactory struct {
	config     config.Config
	registerer prometheus.Registerer
	base       llm.LLMClient
	logger     *logx.Logger

	recorder metrics.Recorder
	usage    *metrics.UsageRecorder
	breaker  *circuit.Breaker
	limiter  *ratelimit.TokenBucketLimiter
}

// NewLLMClientFactory creates a new LLM client factory with the given configuration.
//
//nolint:gocritic // Config copied once at construction
func NewLLMClientFactory(cfg config.Config, opts ...Option) (*LLMClientFactory, error) {
	f := &LLMClientFactory{
		config:     cfg,
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logx.NewLogger("llm")
	}

	if cfg.Metrics.Enabled {
		f.usage = metrics.NewUsageRecorder()
		f.recorder = metrics.Multi(f.usage, metrics.NewPrometheusRecorderWith(f.registerer))
	} else {
		f.recorder = metrics.Nop()
	}

	if cfg.Circuit.FailureThreshold > 0 {
		f.breaker = circuit.New(cfg.Circuit)
	}
	if cfg.RateLimit.Enabled() {
		f.limiter = ratelimit.NewTokenBucketLimiter(cfg.LLM.Model, cfg.RateLimit, cfg.LLM.RequestTimeout)
	}

	return f, nil
}

// Start runs background work (rate limiter refill) until ctx is done.
func (f *LLMClientFactory) Start(ctx context.Context) {
	if f.limiter != nil {
		f.limiter.Start(ctx)
	}
}

// Recorder returns the metrics recorder every client built by f reports to.
func (f *LLMClientFactory) Recorder() metrics.Recorder {
	return f.recorder
}

// Usage returns per-session token usage, or nil when metrics are disabled.
func (f *LLMClientFactory) Usage() *metrics.UsageRecorder {
	return f.usage
}

// CreateClient builds the configured provider client wrapped in the full middleware chain.
// The API key is retrieved from the secrets file or environment based on the provider.
func (f *LLMClientFactory) CreateClient() (llm.LLMClient, error) {
	raw := f.base
	if raw == nil {
		var err error
		raw, err = f.createRawClient()
		if err != nil {
			return nil, err
		}
	}
	return f.Wrap(raw), nil
}

func (f *LLMClientFactory) createRawClient() (llm.LLMClient, error) {
	provider, err := f.config.LLM.ResolvedProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", f.config.LLM.Model, err)
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	model := f.config.LLM.ResolvedModel()
	switch provider {
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(apiKey, model), nil
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(apiKey, model), nil
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialClientWithModel(apiKey, model), nil
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// Wrap applies the middleware chain to raw:
//
//	metrics -> logging -> empty-response validation -> retry -> circuit -> rate limit -> timeout -> raw
//
// Metrics sees one request per caller operation; the circuit breaker and the
// rate limiter see every attempt.
func (f *LLMClientFactory) Wrap(raw llm.LLMClient) llm.LLMClient {
	policy := retry.NewPolicy(f.config.Retry, nil).WithHook(f.onRetry(raw.GetModelName()))

	var breakerMW, limiterMW llm.Middleware
	if f.breaker != nil {
		breakerMW = circuit.Middleware(f.breaker)
	}
	if f.limiter != nil {
		limiterMW = ratelimit.Middleware(f.limiter, nil, f.recorder)
	}

	return llm.Chain(raw,
		metrics.Middleware(f.recorder, nil, f.logger),
		logging.BlockedResponseLoggingMiddleware(f.logger),
		validation.NewEmptyResponseValidator(f.config.LLM.EmptyResponseRetries).Middleware(),
		retry.Middleware(policy),
		breakerMW,
		limiterMW,
		timeout.Middleware(f.config.LLM.RequestTimeout),
	)
}

func (f *LLMClientFactory) onRetry(model string) retry.Hook {
	return func(ctx context.Context, attempt int, err error, delay time.Duration) {
		f.recorder.IncRetry(model, metrics.LabelsFromContext(ctx), metrics.ErrorType(err))
		f.logger.Warn("LLM attempt %d failed (%s), retrying in %s: %v",
			attempt, llmerrors.TypeOf(err), delay.Round(time.Millisecond), err)
	}
}
