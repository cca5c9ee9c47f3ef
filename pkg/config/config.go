// Package config provides configuration loading, validation, and management for phasedoc.
//
// A single global Config is loaded once from <projectDir>/.phasedoc/config.yaml and
// kept behind a mutex. GetConfig returns it by value so callers cannot mutate
// shared state; tests swap it with SetConfigForTesting.
//
//	if err := config.LoadConfig(projectDir); err != nil { ... }
//	cfg, err := config.GetConfig()
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/middleware/resilience/circuit"
	"phasedoc/pkg/agent/middleware/resilience/ratelimit"
	"phasedoc/pkg/agent/middleware/resilience/retry"
	"phasedoc/pkg/logx"
	"phasedoc/pkg/utils"
)

// Project layout.
const (
	SchemaVersion    = "1"
	ProjectConfigDir = ".phasedoc"
	ConfigFileName   = "config.yaml"
)

// Providers.
const (
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Environment variables holding provider credentials.
const (
	EnvGoogleAPIKey    = "GEMINI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Answer store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// ErrNotLoaded is returned by GetConfig before LoadConfig succeeded.
var ErrNotLoaded = errors.New("config not initialized - call LoadConfig first")

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string
	logger     = logx.NewLogger("config")
	mu         sync.RWMutex
)

// LLMConfig selects the provider and the sampling settings sent with every request.
type LLMConfig struct {
	Provider             string               `yaml:"provider,omitempty"` // inferred from Model when empty
	Model                string               `yaml:"model"`
	OllamaHost           string               `yaml:"ollama_host,omitempty"`
	Generation           llm.GenerationConfig `yaml:",inline"`
	RequestTimeout       time.Duration        `yaml:"request_timeout"`        // per attempt; 0 disables
	EmptyResponseRetries int                  `yaml:"empty_response_retries"` // guided re-asks on blank replies
}

// StoreConfig selects where answers are kept.
type StoreConfig struct {
	Backend string `yaml:"backend"`        // memory | sqlite
	Path    string `yaml:"path,omitempty"` // sqlite file, relative to the project dir
}

// DocumentsConfig controls outline loading and document output.
type DocumentsConfig struct {
	OutlinesFile       string `yaml:"outlines_file,omitempty"` // extra outlines merged over the built-ins
	OutputDir          string `yaml:"output_dir"`
	TimestampFilenames bool   `yaml:"timestamp_filenames"`
	Concurrency        int    `yaml:"concurrency"` // sections generated at once
}

// PhasesConfig points at an optional phase table and start phase.
type PhasesConfig struct {
	File         string `yaml:"file,omitempty"`
	InitialPhase string `yaml:"initial_phase,omitempty"`
}

// MetricsConfig controls Prometheus collection.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DumpPath string `yaml:"dump_path,omitempty"` // text exposition written on exit
}

// EventsConfig controls the per-day JSONL transcript of interview events.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"`
}

// Config is the whole project configuration.
type Config struct {
	SchemaVersion string           `yaml:"schema_version"`
	LLM           LLMConfig        `yaml:"llm"`
	Retry         retry.Config     `yaml:"retry"`
	RateLimit     ratelimit.Config `yaml:"rate_limit"`
	Circuit       circuit.Config   `yaml:"circuit"`
	Store         StoreConfig      `yaml:"store"`
	Documents     DocumentsConfig  `yaml:"documents"`
	Phases        PhasesConfig     `yaml:"phases"`
	Metrics       MetricsConfig    `yaml:"metrics"`
	Events        EventsConfig     `yaml:"events"`
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from model names.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"gemini", ProviderGoogle},
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"gemma", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a given model.
func GetModelProvider(modelName string) (string, error) {
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no provider pattern matches - set llm.provider explicitly", modelName)
}

// ResolvedProvider returns the configured provider or the one inferred from the model.
func (c *LLMConfig) ResolvedProvider() (string, error) {
	if c.Provider != "" {
		return c.Provider, nil
	}
	return GetModelProvider(c.Model)
}

// ResolvedModel strips an explicit "ollama:" prefix.
func (c *LLMConfig) ResolvedModel() string {
	return strings.TrimPrefix(c.Model, "ollama:")
}

// Default returns a config with every field set to its default.
func Default() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		LLM: LLMConfig{
			Model:          llm.DefaultModel,
			Generation:     llm.DefaultGenerationConfig(),
			RequestTimeout: 60 * time.Second,
		},
		Retry:   retry.DefaultConfig,
		Circuit: circuit.DefaultConfig,
		Store: StoreConfig{
			Backend: StoreSQLite,
			Path:    filepath.Join(ProjectConfigDir, "answers.db"),
		},
		Documents: DocumentsConfig{
			OutputDir:          "generated_docs",
			TimestampFilenames: true,
			Concurrency:        1,
		},
		Metrics: MetricsConfig{Enabled: true},
		Events: EventsConfig{
			Enabled: true,
			Dir:     filepath.Join(ProjectConfigDir, "logs"),
		},
	}
}

// GetProjectDir returns the directory LoadConfig was called with.
func GetProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// ResolvePath anchors a relative configured path at the project directory.
func ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(GetProjectDir(), p)
}

// GetConfig returns the current global config by value.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, ErrNotLoaded
	}
	cfg := *config
	cfg.LLM.Generation = cfg.LLM.Generation.Clone()
	return cfg, nil
}

// SetConfigForTesting sets the global config for testing purposes.
// Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	if cfg == nil {
		projectDir = ""
	}
}

// LoadConfig loads <projectDir>/.phasedoc/config.yaml into the global singleton.
//
// A missing file is created with defaults. Fields absent from an existing file
// keep their defaults. An unparseable file is an error so the user's edits are
// never overwritten.
func LoadConfig(inputProjectDir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = inputProjectDir
	configPath := filepath.Join(projectDir, ProjectConfigDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		logger.Info("Config file not found, creating new config at %s", configPath)
		cfg := Default()
		if err := validateConfig(cfg); err != nil {
			return fmt.Errorf("default config validation failed: %w", err)
		}
		if err := SaveConfig(cfg, projectDir); err != nil {
			return fmt.Errorf("failed to save initial config: %w", err)
		}
		config = cfg
		return nil
	}

	logger.Debug("Loading config from %s", configPath)
	cfg, err := loadConfigFromFile(configPath)
	if err != nil {
		return fmt.Errorf("fatal: config file exists but cannot be parsed (to avoid overwriting your changes): %w", err)
	}
	applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	config = cfg
	return nil
}

// loadConfigFromFile decodes the file over a default config.
func loadConfigFromFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to <projectDir>/.phasedoc/config.yaml.
func SaveConfig(cfg *Config, dir string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	configPath := filepath.Join(dir, ProjectConfigDir, ConfigFileName)
	if err := utils.WriteFileAtomic(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyDefaults fills zero values an explicit file may have left behind.
func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = llm.DefaultModel
	}
	if cfg.LLM.Generation.MaxOutputTokens == 0 {
		cfg.LLM.Generation.MaxOutputTokens = llm.DefaultMaxOutputTokens
	}
	if cfg.LLM.Generation.SafetyThresholds == nil {
		cfg.LLM.Generation.SafetyThresholds = llm.DefaultSafetyThresholds()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = retry.DefaultConfig.MaxAttempts
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = retry.DefaultConfig.InitialDelay
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = retry.DefaultConfig.BackoffFactor
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreSQLite
	}
	if cfg.Store.Backend == StoreSQLite && cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(ProjectConfigDir, "answers.db")
	}
	if cfg.Documents.OutputDir == "" {
		cfg.Documents.OutputDir = "generated_docs"
	}
	if cfg.Documents.Concurrency < 1 {
		cfg.Documents.Concurrency = 1
	}
	if cfg.Events.Enabled && cfg.Events.Dir == "" {
		cfg.Events.Dir = filepath.Join(ProjectConfigDir, "logs")
	}
}

func validateConfig(cfg *Config) error {
	provider, err := cfg.LLM.ResolvedProvider()
	if err != nil {
		return err
	}
	switch provider {
	case ProviderGoogle, ProviderAnthropic, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unsupported provider %q", provider)
	}
	if err := cfg.LLM.Generation.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if cfg.LLM.RequestTimeout < 0 {
		return fmt.Errorf("llm.request_timeout must not be negative")
	}
	if cfg.LLM.EmptyResponseRetries < 0 {
		return fmt.Errorf("llm.empty_response_retries must not be negative")
	}

	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if cfg.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be at least 1")
	}
	if cfg.Retry.MaxElapsed < 0 || cfg.Retry.InitialDelay < 0 || cfg.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry durations must not be negative")
	}

	if cfg.RateLimit.TokensPerMinute < 0 || cfg.RateLimit.MaxConcurrency < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if cfg.Circuit.FailureThreshold < 0 || cfg.Circuit.SuccessThreshold < 0 {
		return fmt.Errorf("circuit thresholds must not be negative")
	}

	switch cfg.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if cfg.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (want %s or %s)", cfg.Store.Backend, StoreMemory, StoreSQLite)
	}

	if cfg.Documents.Concurrency < 1 {
		return fmt.Errorf("documents.concurrency must be at least 1")
	}
	return nil
}

// GetAPIKey returns the API key for a given provider.
// Checks secrets file first, then falls back to environment variables.
// For Ollama, returns the host URL instead of an API key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderOllama:
		mu.RLock()
		var host string
		if config != nil {
			host = config.LLM.OllamaHost
		}
		mu.RUnlock()
		if host == "" {
			host = os.Getenv(EnvOllamaHost)
		}
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s not found in secrets file or environment variables", envVar)
}
