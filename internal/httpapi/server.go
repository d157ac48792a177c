package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ent0n29/storyquest/internal/config"
	"github.com/ent0n29/storyquest/internal/generation"
	"github.com/ent0n29/storyquest/internal/observability"
	"github.com/ent0n29/storyquest/internal/prompts"
	"github.com/ent0n29/storyquest/internal/ratelimit"
	"github.com/ent0n29/storyquest/internal/safety"
	"github.com/ent0n29/storyquest/internal/story"
)

const maxBodyBytes = 64 << 10

// StoryService is the turn engine as seen by the HTTP layer.
type StoryService interface {
	Start(ctx context.Context, req story.StartRequest) (*story.Response, error)
	Continue(ctx context.Context, req story.ContinueRequest) (*story.Response, error)
	History(ctx context.Context, sessionID string) (*story.History, error)
	Reset(ctx context.Context, sessionID string) error
	Themes() []prompts.Theme
	BackendName() string
}

// SafetyReporter exposes the safety filter's admin views.
type SafetyReporter interface {
	Summary() safety.Summary
	Config() safety.Config
	ModerationEnabled() bool
	Lexicon() *safety.Lexicon
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the server. Limiter may be nil when rate limiting is disabled.
type Dependencies struct {
	Story    StoryService
	Safety   SafetyReporter
	Limiter  *ratelimit.Limiter
	Store    pinger
	Backend  generation.Backend
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Stages   *observability.StageWindow
	Logger   zerolog.Logger
	Version  string
}

type Server struct {
	cfg       config.Config
	deps      Dependencies
	logger    zerolog.Logger
	startedAt time.Time
}

func New(cfg config.Config, deps Dependencies) *Server {
	return &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger.With().Str("component", "httpapi").Logger(),
		startedAt: time.Now(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	if s.cfg.AllowAnyOrigin {
		r.Use(allowAnyOrigin)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler(s.deps.Gatherer).ServeHTTP(w, r)
	})

	r.Route("/api/v1/story", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/continue", s.handleContinue)
		r.Get("/session/{id}", s.handleHistory)
		r.Post("/session/{id}/reset", s.handleReset)
		r.Post("/reset", s.handleReset)
		r.Get("/themes", s.handleThemes)
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Get("/safety/violations", s.handleSafetyViolations)
		r.Get("/rate-limiter/stats", s.handleRateLimiterStats)
		r.Post("/rate-limiter/reset", s.handleRateLimiterReset)
		r.Get("/config/safety", s.handleSafetyConfig)
		r.Get("/health/detailed", s.handleDetailedHealth)
		r.Get("/perf/latency", s.handlePerfLatency)
		r.Post("/perf/latency/reset", s.handlePerfLatencyReset)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.deps.Version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Field  string `json:"field,omitempty"`
	Policy string `json:"policy,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func trimmed(v string) string { return strings.TrimSpace(v) }
