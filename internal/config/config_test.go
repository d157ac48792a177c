package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/storyquest/internal/prompts"
	"github.com/ent0n29/storyquest/internal/ratelimit"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.BindAddr)
	assert.Equal(t, "auto", cfg.LLMProvider)
	assert.Equal(t, 15, cfg.MaxTurns)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500, cfg.MaxTokens)
	assert.InDelta(t, 0.8, cfg.Temperature, 1e-9)
	assert.Equal(t, "enhanced", cfg.SafetyMode)
	assert.True(t, cfg.RateLimitEnabled)
	assert.False(t, cfg.ModerationEnabled)
	assert.Equal(t, prompts.DefaultThemeIDs(), cfg.Themes)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MAX_STORY_TURNS", "8")
	t.Setenv("GENERATION_TIMEOUT", "5s")
	t.Setenv("RATE_LIMIT_ENABLED", "off")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("STORY_THEMES", "space_adventure, robot_city")
	t.Setenv("LLM_TEMPERATURE", "0.5")
	t.Setenv("SAFETY_VIOLATION_RETENTION", "500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxTurns)
	assert.Equal(t, 5*time.Second, cfg.GenerationTimeout)
	assert.False(t, cfg.RateLimitEnabled)
	assert.True(t, cfg.ModerationEnabled)
	assert.Equal(t, []string{"space_adventure", "robot_city"}, cfg.Themes)
	assert.InDelta(t, 0.5, cfg.Temperature, 1e-9)
	assert.Equal(t, 500, cfg.ViolationRetention)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"MAX_STORY_TURNS":            "0",
		"MAX_RETRIES":                "many",
		"SAFETY_MODE":                "paranoid",
		"LLM_TEMPERATURE":            "3",
		"RATE_LIMIT_ENABLED":         "maybe",
		"SAFETY_VIOLATION_RETENTION": "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadYAMLFileWithEnvPrecedence(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "storyquest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
story:
  max_turns: 10
  themes: [magical_forest, castle_quest]
llm:
  provider: ollama
  model: llama3.2:3b
database:
  url: sqlite://story.db
safety:
  banned_words: [spider]
  age_words:
    6-8: [quantum]
rate_limits:
  - name: ip_per_hour
    max_requests: 5
    window: 30m
`), 0o600))
	t.Setenv("STORYQUEST_CONFIG_FILE", path)
	t.Setenv("LLM_PROVIDER", "mock")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, 10, cfg.MaxTurns)
	assert.Equal(t, []string{"magical_forest", "castle_quest"}, cfg.Themes)
	assert.Equal(t, "mock", cfg.LLMProvider)
	assert.Equal(t, "llama3.2:3b", cfg.LLMModel)
	assert.Equal(t, "sqlite://story.db", cfg.DatabaseURL)
	assert.Equal(t, []string{"spider"}, cfg.ExtraBannedWords)
	assert.Equal(t, []string{"quantum"}, cfg.ExtraAgeWords["6-8"])
	assert.Equal(t, []ratelimit.Policy{{Name: ratelimit.PolicyIPPerHour, MaxRequests: 5, Window: 30 * time.Minute}}, cfg.RateLimitPolicies)
}

func TestLoadMissingFile(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("STORYQUEST_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"STORYQUEST_CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_PERF_WINDOW_SIZE",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"DATABASE_URL",
		"LLM_PROVIDER",
		"LLM_MODEL",
		"LLM_API_KEY",
		"LLM_BASE_URL",
		"LLM_TIMEOUT",
		"LLM_STREAM",
		"LLM_STRICT_STREAM",
		"LLM_FALLBACK_PROVIDER",
		"LLM_FALLBACK_MODEL",
		"LLM_MAX_TOKENS",
		"LLM_TEMPERATURE",
		"OPENAI_API_KEY",
		"OPENROUTER_API_KEY",
		"OPENROUTER_SITE_URL",
		"OPENROUTER_APP_NAME",
		"GEMINI_API_KEY",
		"OLLAMA_URL",
		"MAX_STORY_TURNS",
		"SAFETY_VIOLATION_RETENTION",
		"MAX_RETRIES",
		"GENERATION_TIMEOUT",
		"RETRY_BASE_DELAY",
		"STORY_THEMES",
		"SAFETY_MODE",
		"SAFETY_EXTRA_BANNED_WORDS",
		"MAX_INPUT_LENGTH",
		"LOG_SAFETY_VIOLATIONS",
		"MODERATION_ENABLED",
		"MODERATION_MODEL",
		"MODERATION_TIMEOUT",
		"RATE_LIMIT_ENABLED",
		"OTEL_TRACES_EXPORTER",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_TRACES_SAMPLER_ARG",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
