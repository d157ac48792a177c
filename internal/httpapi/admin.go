package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/ent0n29/storyquest/internal/generation"
	"github.com/ent0n29/storyquest/internal/ratelimit"
	"github.com/ent0n29/storyquest/internal/safety"
	"github.com/ent0n29/storyquest/internal/store"
)

func (s *Server) handleSafetyViolations(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Safety == nil || !s.cfg.LogViolations {
		respondJSON(w, http.StatusOK, map[string]any{
			"message": "Violation logging is disabled. Set LOG_SAFETY_VIOLATIONS=true to track violations.",
		})
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Safety.Summary())
}

func (s *Server) handleRateLimiterStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Limiter == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"message": "Rate limiting is disabled. Set RATE_LIMIT_ENABLED=true to track statistics.",
		})
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Limiter.Stats())
}

func (s *Server) handleRateLimiterReset(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Limiter != nil {
		s.deps.Limiter.Reset()
	}
	s.logger.Info().Msg("rate limiter reset by admin")
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Rate limiter has been reset successfully",
		"warning": "All rate limit tracking has been cleared",
	})
}

func (s *Server) handleSafetyConfig(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"rate_limiting_enabled": s.deps.Limiter != nil,
		"max_turns_per_session": s.cfg.MaxTurns,
	}
	if s.deps.Limiter != nil {
		out["rate_limit_policies"] = s.deps.Limiter.Policies()
		for _, p := range s.deps.Limiter.Policies() {
			if p.Name == ratelimit.PolicyCustomInputPer10Min {
				out["max_custom_inputs_per_10min"] = p.MaxRequests
			}
		}
	}
	if s.deps.Safety != nil {
		cfg := s.deps.Safety.Config()
		out["safety_mode"] = cfg.Mode
		out["enhanced_filter_enabled"] = cfg.Mode == safety.ModeEnhanced
		out["moderation_enabled"] = s.deps.Safety.ModerationEnabled()
		out["log_violations"] = cfg.LogViolations
		out["max_input_length"] = cfg.MaxInputLength
		out["banned_word_count"] = s.deps.Safety.Lexicon().BannedWordCount()
		out["age_brackets"] = s.deps.Safety.Lexicon().AgeBrackets()
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	database := map[string]any{
		"type": store.Kind(s.cfg.DatabaseURL),
		"url":  store.Describe(s.cfg.DatabaseURL),
		"ok":   true,
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(ctx); err != nil {
			status = "degraded"
			database["ok"] = false
			database["error"] = err.Error()
		}
	}

	llm := map[string]any{"provider": s.cfg.LLMProvider}
	if s.deps.Story != nil {
		llm["backend"] = s.deps.Story.BackendName()
	}
	if hc, ok := s.deps.Backend.(generation.HealthChecker); ok {
		if err := hc.Ping(ctx); err != nil {
			status = "degraded"
			llm["ok"] = false
			llm["error"] = err.Error()
		} else {
			llm["ok"] = true
		}
	}

	safetyInfo := map[string]any{
		"rate_limiting_enabled":     s.deps.Limiter != nil,
		"violation_logging_enabled": s.cfg.LogViolations,
	}
	if s.deps.Safety != nil {
		safetyInfo["enhanced_filter_enabled"] = s.deps.Safety.Config().Mode == safety.ModeEnhanced
		safetyInfo["moderation_enabled"] = s.deps.Safety.ModerationEnabled()
	}

	themes := []string{}
	if s.deps.Story != nil {
		for _, t := range s.deps.Story.Themes() {
			themes = append(themes, t.ID)
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.deps.Version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"llm":            llm,
		"safety":         safetyInfo,
		"database":       database,
		"story": map[string]any{
			"available_themes": themes,
			"max_turns":        s.cfg.MaxTurns,
		},
	})
}
