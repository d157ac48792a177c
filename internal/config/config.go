package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ent0n29/storyquest/internal/prompts"
	"github.com/ent0n29/storyquest/internal/ratelimit"
)

// Config contains all runtime settings for the story service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	ConfigFile       string
	PerfWindowSize   int

	DatabaseURL string

	LLMProvider         string
	LLMModel            string
	LLMAPIKey           string
	LLMBaseURL          string
	LLMTimeout          time.Duration
	LLMStream           bool
	LLMStrictStream     bool
	LLMFallbackProvider string
	LLMFallbackModel    string
	OpenAIAPIKey        string
	OpenRouterAPIKey    string
	OpenRouterSiteURL   string
	OpenRouterAppName   string
	GeminiAPIKey        string
	OllamaURL           string

	MaxTurns          int
	MaxRetries        int
	GenerationTimeout time.Duration
	RetryBaseDelay    time.Duration
	MaxTokens         int
	Temperature       float64
	Themes            []string

	SafetyMode          string
	MaxInputLength      int
	LogViolations       bool
	ModerationEnabled   bool
	ModerationModel     string
	ModerationTimeout   time.Duration
	ExtraBannedWords    []string
	ExtraAgeWords       map[string][]string
	RecentViolationsCap int
	ViolationRetention  int

	RateLimitEnabled  bool
	RateLimitPolicies []ratelimit.Policy

	TracesExporter     string
	TracesEndpoint     string
	TracesSamplingRate float64
}

// File is the optional YAML overlay. Environment variables win over it.
type File struct {
	Story struct {
		MaxTurns int      `yaml:"max_turns"`
		Themes   []string `yaml:"themes"`
	} `yaml:"story"`
	LLM struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"llm"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Safety struct {
		Mode        string              `yaml:"mode"`
		BannedWords []string            `yaml:"banned_words"`
		AgeWords    map[string][]string `yaml:"age_words"`
	} `yaml:"safety"`
	RateLimits []struct {
		Name        string `yaml:"name"`
		MaxRequests int    `yaml:"max_requests"`
		Window      string `yaml:"window"`
	} `yaml:"rate_limits"`
}

// LoadEnvFiles loads .env.local then .env into the process environment.
// Variables that are already set are not overwritten.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Load reads environment variables, overlays the optional YAML file named by
// STORYQUEST_CONFIG_FILE and applies safe defaults.
func Load() (Config, error) {
	path := stringsTrimSpace("STORYQUEST_CONFIG_FILE")
	if path == "" {
		if _, err := os.Stat("storyquest.yaml"); err == nil {
			path = "storyquest.yaml"
		}
	}
	var file File
	if path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		file = f
	}
	return load(file, path)
}

// LoadFile parses a YAML config file.
func LoadFile(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return f, nil
}

func load(file File, path string) (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "storyquest"),
		ConfigFile:          path,
		PerfWindowSize:      256,
		DatabaseURL:         envOrDefault("DATABASE_URL", file.Database.URL),
		LLMProvider:         envOrDefault("LLM_PROVIDER", orDefault(file.LLM.Provider, "auto")),
		LLMModel:            envOrDefault("LLM_MODEL", file.LLM.Model),
		LLMAPIKey:           stringsTrimSpace("LLM_API_KEY"),
		LLMBaseURL:          envOrDefault("LLM_BASE_URL", file.LLM.BaseURL),
		LLMFallbackProvider: stringsTrimSpace("LLM_FALLBACK_PROVIDER"),
		LLMFallbackModel:    stringsTrimSpace("LLM_FALLBACK_MODEL"),
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenRouterAPIKey:    stringsTrimSpace("OPENROUTER_API_KEY"),
		OpenRouterSiteURL:   envOrDefault("OPENROUTER_SITE_URL", "http://localhost:8080"),
		OpenRouterAppName:   envOrDefault("OPENROUTER_APP_NAME", "StoryQuest"),
		GeminiAPIKey:        stringsTrimSpace("GEMINI_API_KEY"),
		OllamaURL:           stringsTrimSpace("OLLAMA_URL"),
		LLMTimeout:          60 * time.Second,
		MaxTurns:            orDefaultInt(file.Story.MaxTurns, 15),
		MaxRetries:          3,
		GenerationTimeout:   30 * time.Second,
		RetryBaseDelay:      time.Second,
		MaxTokens:           500,
		Temperature:         0.8,
		Themes:              prompts.DefaultThemeIDs(),
		SafetyMode:          envOrDefault("SAFETY_MODE", orDefault(file.Safety.Mode, "enhanced")),
		MaxInputLength:      200,
		LogViolations:       true,
		ModerationModel:     envOrDefault("MODERATION_MODEL", "omni-moderation-latest"),
		ModerationTimeout:   10 * time.Second,
		ExtraBannedWords:    file.Safety.BannedWords,
		ExtraAgeWords:       file.Safety.AgeWords,
		RecentViolationsCap: 10,
		RateLimitEnabled:    true,
		TracesExporter:      envOrDefault("OTEL_TRACES_EXPORTER", "none"),
		TracesEndpoint:      stringsTrimSpace("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracesSamplingRate:  1,
		ShutdownTimeout:     15 * time.Second,
	}
	if len(file.Story.Themes) > 0 {
		cfg.Themes = file.Story.Themes
	}
	if themes := listFromEnv("STORY_THEMES"); len(themes) > 0 {
		cfg.Themes = themes
	}
	cfg.ExtraBannedWords = append(cfg.ExtraBannedWords, listFromEnv("SAFETY_EXTRA_BANNED_WORDS")...)

	for _, rl := range file.RateLimits {
		window, err := time.ParseDuration(rl.Window)
		if err != nil {
			return Config{}, fmt.Errorf("rate_limits.%s window parse error: %w", rl.Name, err)
		}
		cfg.RateLimitPolicies = append(cfg.RateLimitPolicies, ratelimit.Policy{
			Name:        rl.Name,
			MaxRequests: rl.MaxRequests,
			Window:      window,
		})
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.PerfWindowSize, err = intFromEnv("APP_PERF_WINDOW_SIZE", cfg.PerfWindowSize); err != nil {
		return Config{}, err
	}
	if cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LLMStream, err = boolFromEnv("LLM_STREAM", cfg.LLMStream); err != nil {
		return Config{}, err
	}
	if cfg.LLMStrictStream, err = boolFromEnv("LLM_STRICT_STREAM", cfg.LLMStrictStream); err != nil {
		return Config{}, err
	}
	if cfg.MaxTurns, err = intFromEnv("MAX_STORY_TURNS", cfg.MaxTurns); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = intFromEnv("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.GenerationTimeout, err = durationFromEnv("GENERATION_TIMEOUT", cfg.GenerationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RetryBaseDelay, err = durationFromEnv("RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return Config{}, err
	}
	if cfg.MaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.MaxTokens); err != nil {
		return Config{}, err
	}
	if cfg.Temperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.Temperature); err != nil {
		return Config{}, err
	}
	if cfg.MaxInputLength, err = intFromEnv("MAX_INPUT_LENGTH", cfg.MaxInputLength); err != nil {
		return Config{}, err
	}
	if cfg.LogViolations, err = boolFromEnv("LOG_SAFETY_VIOLATIONS", cfg.LogViolations); err != nil {
		return Config{}, err
	}
	if cfg.ViolationRetention, err = intFromEnv("SAFETY_VIOLATION_RETENTION", cfg.ViolationRetention); err != nil {
		return Config{}, err
	}
	cfg.ModerationEnabled = cfg.OpenAIAPIKey != ""
	if cfg.ModerationEnabled, err = boolFromEnv("MODERATION_ENABLED", cfg.ModerationEnabled); err != nil {
		return Config{}, err
	}
	if cfg.ModerationTimeout, err = durationFromEnv("MODERATION_TIMEOUT", cfg.ModerationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitEnabled, err = boolFromEnv("RATE_LIMIT_ENABLED", cfg.RateLimitEnabled); err != nil {
		return Config{}, err
	}
	if cfg.TracesSamplingRate, err = floatFromEnv("OTEL_TRACES_SAMPLER_ARG", cfg.TracesSamplingRate); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.MaxTurns < 1:
		return fmt.Errorf("MAX_STORY_TURNS must be at least 1")
	case c.MaxRetries < 1:
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	case c.GenerationTimeout <= 0:
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	case c.RetryBaseDelay < 0:
		return fmt.Errorf("RETRY_BASE_DELAY must be >= 0")
	case c.MaxTokens <= 0:
		return fmt.Errorf("LLM_MAX_TOKENS must be positive")
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	case c.MaxInputLength <= 0:
		return fmt.Errorf("MAX_INPUT_LENGTH must be positive")
	case c.ViolationRetention < 0:
		return fmt.Errorf("SAFETY_VIOLATION_RETENTION must be >= 0")
	case c.PerfWindowSize <= 0:
		return fmt.Errorf("APP_PERF_WINDOW_SIZE must be positive")
	case c.TracesSamplingRate < 0 || c.TracesSamplingRate > 1:
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within [0, 1]")
	case len(c.Themes) == 0:
		return fmt.Errorf("at least one story theme is required")
	}
	switch c.SafetyMode {
	case "basic", "enhanced":
	default:
		return fmt.Errorf("SAFETY_MODE must be basic or enhanced, got %q", c.SafetyMode)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}

func orDefaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func listFromEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(stringsTrimSpace(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
