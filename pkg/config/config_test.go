package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phasedoc/pkg/agent/llm"
)

func TestLoadConfig_CreatesDefault(t *testing.T) {
	dir := t.TempDir()
	defer SetConfigForTesting(nil)

	require.NoError(t, LoadConfig(dir))

	_, err := os.Stat(filepath.Join(dir, ProjectConfigDir, ConfigFileName))
	require.NoError(t, err, "default config should be written")

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, llm.DefaultModel, cfg.LLM.Model)
	assert.InDelta(t, 0.7, cfg.LLM.Generation.Temperature, 0.0001)
	assert.Equal(t, 40, cfg.LLM.Generation.TopK)
	assert.Len(t, cfg.LLM.Generation.SafetyThresholds, 4)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 120*time.Second, cfg.Retry.MaxElapsed)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, dir, GetProjectDir())
}

func TestLoadConfig_DefaultRoundTrips(t *testing.T) {
	dir := t.TempDir()
	defer SetConfigForTesting(nil)

	require.NoError(t, LoadConfig(dir))
	first, err := GetConfig()
	require.NoError(t, err)

	// Second load parses the file the first one wrote.
	require.NoError(t, LoadConfig(dir))
	second, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	defer SetConfigForTesting(nil)

	writeConfig(t, dir, `
llm:
  model: claude-sonnet-4-20250514
  temperature: 0.2
retry:
  max_attempts: 3
  jitter: false
store:
  backend: memory
documents:
  concurrency: 4
`)
	require.NoError(t, LoadConfig(dir))
	cfg, err := GetConfig()
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-20250514", cfg.LLM.Model)
	assert.InDelta(t, 0.2, cfg.LLM.Generation.Temperature, 0.0001)
	assert.InDelta(t, 0.95, cfg.LLM.Generation.TopP, 0.0001, "untouched field keeps default")
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.Retry.Jitter)
	assert.Equal(t, 120*time.Second, cfg.Retry.MaxElapsed)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 4, cfg.Documents.Concurrency)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, filepath.Join(ProjectConfigDir, "logs"), cfg.Events.Dir)

	provider, err := cfg.LLM.ResolvedProvider()
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, provider)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unparseable", body: "llm: [unclosed"},
		{name: "unknown model", body: "llm:\n  model: mystery-model\n"},
		{name: "bad temperature", body: "llm:\n  temperature: 3.5\n"},
		{name: "bad threshold", body: "llm:\n  safety_thresholds:\n    HARM_CATEGORY_HARASSMENT: SOMETIMES\n"},
		{name: "bad backend", body: "store:\n  backend: redis\n"},
		{name: "bad provider", body: "llm:\n  provider: carrier-pigeon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			defer SetConfigForTesting(nil)
			writeConfig(t, dir, tt.body)
			assert.Error(t, LoadConfig(dir))
		})
	}
}

func TestGetConfig_NotLoaded(t *testing.T) {
	SetConfigForTesting(nil)
	_, err := GetConfig()
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestGetConfig_ReturnsCopy(t *testing.T) {
	SetConfigForTesting(Default())
	defer SetConfigForTesting(nil)

	cfg, err := GetConfig()
	require.NoError(t, err)
	cfg.LLM.Generation.SafetyThresholds[llm.HarmCategoryHarassment] = llm.BlockNone

	again, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, llm.BlockMediumAndAbove, again.LLM.Generation.SafetyThresholds[llm.HarmCategoryHarassment])
}

func TestGetModelProvider(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gemini-1.5-flash-latest", ProviderGoogle},
		{"claude-3-5-haiku-latest", ProviderAnthropic},
		{"gpt-4o", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"llama3.1:8b", ProviderOllama},
		{"ollama:custom", ProviderOllama},
	}
	for _, tt := range tests {
		got, err := GetModelProvider(tt.model)
		require.NoError(t, err, tt.model)
		assert.Equal(t, tt.want, got, tt.model)
	}

	_, err := GetModelProvider("unheard-of")
	assert.Error(t, err)

	lc := LLMConfig{Model: "ollama:custom"}
	assert.Equal(t, "custom", lc.ResolvedModel())
}

func TestGetAPIKey(t *testing.T) {
	SetDecryptedSecrets(nil)
	SetConfigForTesting(nil)

	t.Setenv(EnvGoogleAPIKey, "gem-key")
	key, err := GetAPIKey(ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "gem-key", key)

	t.Setenv(EnvAnthropicAPIKey, "")
	_, err = GetAPIKey(ProviderAnthropic)
	assert.Error(t, err)

	t.Setenv(EnvOllamaHost, "")
	host, err := GetAPIKey(ProviderOllama)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", host)

	_, err = GetAPIKey("nope")
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	defer SetConfigForTesting(nil)
	require.NoError(t, LoadConfig(dir))

	assert.Equal(t, filepath.Join(dir, "out"), ResolvePath("out"))
	assert.Equal(t, "/abs/out", ResolvePath("/abs/out"))
	assert.Equal(t, "", ResolvePath(""))
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	path := filepath.Join(dir, ProjectConfigDir, ConfigFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}
