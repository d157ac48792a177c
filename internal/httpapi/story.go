package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/storyquest/internal/ratelimit"
	"github.com/ent0n29/storyquest/internal/story"
)

// endpointKey scopes session and client windows per endpoint. Free-text
// windows stay keyed by the bare session id.
func endpointKey(id, endpoint string) string { return id + ":" + endpoint }

type rateCheck struct {
	ns       ratelimit.Namespace
	key      string
	policies []string
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req story.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ip := ratelimit.ClientAddress(r)
	if !s.allow(w, "start", rateCheck{
		ns:  ratelimit.NamespaceClient,
		key: endpointKey(ip, "start"),
		policies: []string{
			ratelimit.PolicyStartPerIPPerHour,
			ratelimit.PolicyIPPerHour,
			ratelimit.PolicyIPPerDay,
		},
	}) {
		return
	}

	resp, err := s.deps.Story.Start(r.Context(), req)
	if err != nil {
		s.writeStoryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	var req story.ContinueRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.SessionID = trimmed(req.SessionID)
	if req.SessionID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Error: "session_id is required", Code: "validation_error", Field: "session_id",
		})
		return
	}

	checks := []rateCheck{
		{
			ns:       ratelimit.NamespaceSession,
			key:      endpointKey(req.SessionID, "continue"),
			policies: []string{ratelimit.PolicySessionTurnsPerHour, ratelimit.PolicySessionTurnsPerDay},
		},
		{
			ns:       ratelimit.NamespaceClient,
			key:      endpointKey(ratelimit.ClientAddress(r), "continue"),
			policies: []string{ratelimit.PolicyIPPerHour, ratelimit.PolicyIPPerDay},
		},
	}
	if trimmed(req.CustomInput) != "" {
		checks = append(checks, rateCheck{
			ns:       ratelimit.NamespaceFreeText,
			key:      req.SessionID,
			policies: []string{ratelimit.PolicyCustomInputPer10Min},
		})
	}
	if !s.allow(w, "continue", checks...) {
		return
	}

	resp, err := s.deps.Story.Continue(r.Context(), req)
	if err != nil {
		s.writeStoryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := trimmed(chi.URLParam(r, "id"))
	history, err := s.deps.Story.History(r.Context(), id)
	if err != nil {
		s.writeStoryError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := trimmed(chi.URLParam(r, "id"))
	if id == "" {
		id = trimmed(r.URL.Query().Get("session_id"))
	}
	if id == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Error: "session_id is required", Code: "validation_error", Field: "session_id",
		})
		return
	}
	if err := s.deps.Story.Reset(r.Context(), id); err != nil {
		s.writeStoryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleThemes(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"themes": s.deps.Story.Themes()})
}

// allow runs every check in order and writes a 429 for the first denial.
func (s *Server) allow(w http.ResponseWriter, endpoint string, checks ...rateCheck) bool {
	limiter := s.deps.Limiter
	if limiter == nil {
		return true
	}
	for _, c := range checks {
		decision, err := limiter.Check(c.ns, c.key, c.policies...)
		if err != nil {
			s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("rate limit check failed")
			respondError(w, http.StatusInternalServerError, "internal_error", "rate limit check failed")
			return false
		}
		if !decision.Allowed {
			s.deps.Metrics.ObserveRateLimit(endpoint, false)
			s.logger.Warn().
				Str("endpoint", endpoint).
				Str("namespace", string(c.ns)).
				Str("policy", decision.Policy).
				Msg("rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
			respondJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:  "Too many requests. Let's take a little break and try again soon!",
				Code:   "rate_limited",
				Policy: decision.Policy,
			})
			return false
		}
	}
	s.deps.Metrics.ObserveRateLimit(endpoint, true)
	return true
}

func (s *Server) writeStoryError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *story.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Error: verr.Reason, Code: "validation_error", Field: verr.Field,
		})
	case errors.Is(err, story.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", "Story session not found")
	case errors.Is(err, story.ErrInvalidState):
		respondError(w, http.StatusConflict, "invalid_session_state", "This story session cannot continue")
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("story request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "Something went wrong. Please try again.")
	}
}
