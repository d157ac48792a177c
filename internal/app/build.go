package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/ent0n29/storyquest/internal/config"
	"github.com/ent0n29/storyquest/internal/generation"
	"github.com/ent0n29/storyquest/internal/httpapi"
	"github.com/ent0n29/storyquest/internal/observability"
	"github.com/ent0n29/storyquest/internal/prompts"
	"github.com/ent0n29/storyquest/internal/ratelimit"
	"github.com/ent0n29/storyquest/internal/reliability"
	"github.com/ent0n29/storyquest/internal/safety"
	"github.com/ent0n29/storyquest/internal/store"
	"github.com/ent0n29/storyquest/internal/story"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Engine  *story.Engine
	Filter  *safety.Filter
	Limiter *ratelimit.Limiter
	Store   store.Store
	Backend generation.Backend
	Metrics *observability.Metrics
	Stages  *observability.StageWindow

	// Cleanup should be called on shutdown to release external resources (DB, tracer, etc).
	Cleanup func(context.Context) error
}

// NewFilter builds the safety filter from configuration. It is shared by the
// server and the check-input command.
func NewFilter(cfg config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*safety.Filter, error) {
	lexicon := safety.DefaultLexicon().Extend(cfg.ExtraBannedWords, cfg.ExtraAgeWords)
	opts := []safety.Option{
		safety.WithLexicon(lexicon),
		safety.WithLogger(logger.With().Str("component", "safety").Logger()),
		safety.WithViolationHook(func(v safety.Violation) {
			metrics.ObserveViolation(string(v.Kind), string(v.Severity), string(v.Direction))
		}),
	}
	if cfg.ModerationEnabled && cfg.OpenAIAPIKey != "" {
		moderator, err := safety.NewOpenAIModerator(cfg.OpenAIAPIKey, "", cfg.ModerationModel)
		if err != nil {
			return nil, fmt.Errorf("moderation init failed: %w", err)
		}
		opts = append(opts, safety.WithModerator(moderator))
	}
	return safety.NewFilter(safety.Config{
		Mode:              safety.Mode(cfg.SafetyMode),
		MaxInputLength:    cfg.MaxInputLength,
		LogViolations:     cfg.LogViolations,
		ModerationTimeout: cfg.ModerationTimeout,
		RecentViolations:  cfg.RecentViolationsCap,
		LogRetention:      cfg.ViolationRetention,
	}, opts...)
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, version string) (*BuildResult, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)
	stages := observability.NewStageWindow(cfg.PerfWindowSize)

	_, shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Exporter:     cfg.TracesExporter,
		Endpoint:     cfg.TracesEndpoint,
		SamplingRate: cfg.TracesSamplingRate,
		ServiceName:  "storyquest",
	})
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	filter, err := NewFilter(cfg, logger, metrics)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	backend, err := generation.NewBackend(ctx, generation.Config{
		Provider:         cfg.LLMProvider,
		Model:            cfg.LLMModel,
		APIKey:           cfg.LLMAPIKey,
		BaseURL:          cfg.LLMBaseURL,
		Timeout:          cfg.LLMTimeout,
		Stream:           cfg.LLMStream,
		StrictStream:     cfg.LLMStrictStream,
		SiteURL:          cfg.OpenRouterSiteURL,
		AppName:          cfg.OpenRouterAppName,
		FallbackProvider: cfg.LLMFallbackProvider,
		FallbackModel:    cfg.LLMFallbackModel,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		OllamaURL:        cfg.OllamaURL,
	})
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("generation backend init failed: %w", err)
	}

	builder, err := prompts.NewBuilder(prompts.NewCatalogue(cfg.Themes))
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("prompt builder init failed: %w", err)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter, err = ratelimit.New(ratelimit.MergePolicies(ratelimit.DefaultPolicies(), cfg.RateLimitPolicies))
		if err != nil {
			_ = shutdownTracing(ctx)
			return nil, fmt.Errorf("rate limiter init failed: %w", err)
		}
	}

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("story store init failed: %w", err)
	}

	backoff := reliability.DefaultBackoff()
	backoff.Initial = cfg.RetryBaseDelay
	engine, err := story.NewEngine(story.Config{
		MaxTurns:          cfg.MaxTurns,
		MaxRetries:        cfg.MaxRetries,
		GenerationTimeout: cfg.GenerationTimeout,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		Backoff:           backoff,
	}, backend, filter, builder, st,
		story.WithLogger(logger),
		story.WithMetrics(metrics),
		story.WithStageWindow(stages),
		story.WithTracer(observability.Tracer()),
	)
	if err != nil {
		_ = st.Close()
		_ = shutdownTracing(ctx)
		return nil, err
	}

	api := httpapi.New(cfg, httpapi.Dependencies{
		Story:    engine,
		Safety:   filter,
		Limiter:  limiter,
		Store:    st,
		Backend:  backend,
		Metrics:  metrics,
		Gatherer: reg,
		Stages:   stages,
		Logger:   logger,
		Version:  version,
	})

	logger.Info().
		Str("llm_backend", backend.Name()).
		Str("store", store.Kind(cfg.DatabaseURL)).
		Str("safety_mode", cfg.SafetyMode).
		Bool("moderation", filter.ModerationEnabled()).
		Bool("rate_limiting", limiter != nil).
		Int("max_turns", cfg.MaxTurns).
		Msg("storyquest components ready")

	cleanup := func(ctx context.Context) error {
		return errors.Join(st.Close(), shutdownTracing(ctx))
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Engine:  engine,
		Filter:  filter,
		Limiter: limiter,
		Store:   st,
		Backend: backend,
		Metrics: metrics,
		Stages:  stages,
		Cleanup: cleanup,
	}, nil
}
