package generation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config controls backend construction.
type Config struct {
	// Provider is one of auto, openai, openrouter, lmstudio, ollama, gemini or mock.
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	// Stream makes Generate consume the provider's streaming endpoint.
	Stream bool
	// StrictStream rejects non-JSON stream lines from HTTP backends.
	StrictStream bool
	// SiteURL and AppName are sent to OpenRouter for attribution.
	SiteURL string
	AppName string

	// FallbackProvider, when set, builds a second backend tried after the first fails.
	FallbackProvider string
	FallbackModel    string

	// Credentials looked up by provider when APIKey is empty or belongs to another provider.
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	GeminiAPIKey     string
	OllamaURL        string
}

const (
	ProviderAuto       = "auto"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderLMStudio   = "lmstudio"
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
	ProviderMock       = "mock"
)

// NewBackend builds the configured backend, wrapped in a failover when a
// fallback provider is configured.
func NewBackend(ctx context.Context, cfg Config) (Backend, error) {
	primary, err := newSingleBackend(ctx, cfg, cfg.Provider, cfg.Model)
	if err != nil {
		return nil, err
	}
	fallbackProvider := strings.ToLower(strings.TrimSpace(cfg.FallbackProvider))
	if fallbackProvider == "" || fallbackProvider == normalizeProvider(cfg.Provider) {
		return primary, nil
	}
	secondary, err := newSingleBackend(ctx, cfg, fallbackProvider, cfg.FallbackModel)
	if err != nil {
		return nil, fmt.Errorf("fallback backend: %w", err)
	}
	return NewFailoverBackend(primary, secondary), nil
}

func normalizeProvider(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return ProviderAuto
	}
	return p
}

func newSingleBackend(ctx context.Context, cfg Config, provider, model string) (Backend, error) {
	provider = normalizeProvider(provider)
	if provider == ProviderAuto {
		provider = autoProvider(cfg)
	}

	var (
		b   StreamingBackend
		err error
	)
	switch provider {
	case ProviderOpenAI:
		b, err = NewOpenAIBackend(OpenAIConfig{
			Name:     ProviderOpenAI,
			APIKey:   firstNonEmpty(cfg.OpenAIAPIKey, cfg.APIKey),
			BaseURL:  cfg.BaseURL,
			Model:    firstNonEmpty(model, "gpt-4o-mini"),
			Timeout:  cfg.Timeout,
			JSONMode: true,
		})
	case ProviderOpenRouter:
		b, err = NewOpenAIBackend(OpenAIConfig{
			Name:    ProviderOpenRouter,
			APIKey:  firstNonEmpty(cfg.OpenRouterAPIKey, cfg.APIKey),
			BaseURL: firstNonEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
			Model:   firstNonEmpty(model, "meta-llama/llama-3.1-8b-instruct"),
			Headers: map[string]string{
				"HTTP-Referer": firstNonEmpty(cfg.SiteURL, "https://storyquest.local"),
				"X-Title":      firstNonEmpty(cfg.AppName, "StoryQuest"),
			},
			Timeout:  cfg.Timeout,
			JSONMode: true,
		})
	case ProviderLMStudio:
		b, err = NewOpenAIBackend(OpenAIConfig{
			Name:    ProviderLMStudio,
			APIKey:  firstNonEmpty(cfg.APIKey, "lm-studio"),
			BaseURL: firstNonEmpty(cfg.BaseURL, "http://localhost:1234/v1"),
			Model:   firstNonEmpty(model, "local-model"),
			Timeout: cfg.Timeout,
		})
	case ProviderOllama:
		b = NewHTTPBackendWithOptions(
			firstNonEmpty(cfg.OllamaURL, cfg.BaseURL, "http://localhost:11434"),
			firstNonEmpty(model, "llama3.2:3b"),
			cfg.Timeout,
			cfg.StrictStream,
		)
	case ProviderGemini:
		b, err = NewGeminiBackend(ctx, GeminiConfig{
			APIKey: firstNonEmpty(cfg.GeminiAPIKey, cfg.APIKey),
			Model:  model,
		})
	case ProviderMock:
		b = NewMockBackend()
	default:
		return nil, fmt.Errorf("unsupported generation provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Stream {
		return Collect(b), nil
	}
	return b, nil
}

// autoProvider prefers hosted providers with credentials, then a local Ollama,
// then the mock backend.
func autoProvider(cfg Config) string {
	switch {
	case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
		return ProviderOpenAI
	case strings.TrimSpace(cfg.OpenRouterAPIKey) != "":
		return ProviderOpenRouter
	case strings.TrimSpace(cfg.GeminiAPIKey) != "":
		return ProviderGemini
	case strings.TrimSpace(cfg.OllamaURL) != "":
		return ProviderOllama
	default:
		return ProviderMock
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
