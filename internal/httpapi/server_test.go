package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/storyquest/internal/config"
	"github.com/ent0n29/storyquest/internal/generation"
	"github.com/ent0n29/storyquest/internal/observability"
	"github.com/ent0n29/storyquest/internal/prompts"
	"github.com/ent0n29/storyquest/internal/ratelimit"
	"github.com/ent0n29/storyquest/internal/safety"
	"github.com/ent0n29/storyquest/internal/store"
	"github.com/ent0n29/storyquest/internal/story"
)

type harness struct {
	ts      *httptest.Server
	limiter *ratelimit.Limiter
}

func newHarness(t *testing.T, maxTurns int, policies []ratelimit.Policy) harness {
	t.Helper()
	filter, err := safety.NewFilter(safety.Config{Mode: safety.ModeEnhanced, LogViolations: true})
	require.NoError(t, err)
	builder, err := prompts.NewBuilder(prompts.NewCatalogue(prompts.DefaultThemeIDs()))
	require.NoError(t, err)
	st := store.NewInMemoryStore()
	backend := generation.NewMockBackend()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("storyquest", reg)
	stages := observability.NewStageWindow(32)

	engine, err := story.NewEngine(story.Config{MaxTurns: maxTurns}, backend, filter, builder, st,
		story.WithMetrics(metrics),
		story.WithStageWindow(stages),
		story.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	require.NoError(t, err)

	var limiter *ratelimit.Limiter
	if policies != nil {
		limiter, err = ratelimit.New(policies)
		require.NoError(t, err)
	}

	srv := New(config.Config{MaxTurns: maxTurns, LLMProvider: "mock", LogViolations: true}, Dependencies{
		Story:    engine,
		Safety:   filter,
		Limiter:  limiter,
		Store:    st,
		Backend:  backend,
		Metrics:  metrics,
		Gatherer: reg,
		Stages:   stages,
		Logger:   zerolog.Nop(),
		Version:  "test",
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return harness{ts: ts, limiter: limiter}
}

func (h harness) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	res, err := http.Post(h.ts.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return res, decodeBody(t, res)
}

func (h harness) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Get(h.ts.URL + path)
	require.NoError(t, err)
	return res, decodeBody(t, res)
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	if res.StatusCode == http.StatusNoContent {
		return nil
	}
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func startBody() map[string]string {
	return map[string]string{"player_name": "Mia", "age_range": "6-8", "theme": "magical_forest"}
}

func TestStoryLifecycle(t *testing.T) {
	h := newHarness(t, 2, ratelimit.DefaultPolicies())

	res, started := h.post(t, "/api/v1/story/start", startBody())
	require.Equal(t, http.StatusCreated, res.StatusCode)
	sessionID, _ := started["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Len(t, started["choices"], 3)

	res, next := h.post(t, "/api/v1/story/continue", map[string]string{
		"session_id":    sessionID,
		"choice_id":     "c1",
		"story_summary": started["story_summary"].(string),
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(1), next["metadata"].(map[string]any)["turn"])

	res, final := h.post(t, "/api/v1/story/continue", map[string]string{
		"session_id":   sessionID,
		"custom_input": "plant a rainbow seed",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, final["choices"])
	assert.Equal(t, true, final["metadata"].(map[string]any)["is_finished"])

	res, body := h.post(t, "/api/v1/story/continue", map[string]string{"session_id": sessionID, "choice_id": "c1"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "invalid_session_state", body["code"])

	res, history := h.get(t, "/api/v1/story/session/"+sessionID)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(2), history["total_turns"])
	assert.Equal(t, false, history["is_active"])
	turns := history["turns"].([]any)
	require.Len(t, turns, 3)
	assert.Equal(t, "plant a rainbow seed", turns[2].(map[string]any)["custom_input"])
}

func TestStartValidationAndMalformedJSON(t *testing.T) {
	h := newHarness(t, 5, nil)

	res, body := h.post(t, "/api/v1/story/start", map[string]string{"player_name": "", "age_range": "6-8", "theme": "magical_forest"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "validation_error", body["code"])
	assert.Equal(t, "player_name", body["field"])

	raw, err := http.Post(h.ts.URL+"/api/v1/story/start", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	body = decodeBody(t, raw)
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
	assert.Equal(t, "invalid_request", body["code"])
}

func TestUnsafeCustomInputIsRejected(t *testing.T) {
	h := newHarness(t, 5, nil)
	_, started := h.post(t, "/api/v1/story/start", startBody())

	res, body := h.post(t, "/api/v1/story/continue", map[string]string{
		"session_id":   started["session_id"].(string),
		"custom_input": "visit www.example.com",
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "custom_input", body["field"])
	assert.Equal(t, safety.MessagePersonalInfo, body["error"])

	res, summary := h.get(t, "/api/v1/admin/safety/violations")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(1), summary["total"])
}

func TestUnknownSessionMapsTo404And409(t *testing.T) {
	h := newHarness(t, 5, nil)

	res, _ := h.get(t, "/api/v1/story/session/missing")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = h.post(t, "/api/v1/story/session/missing/reset", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = h.post(t, "/api/v1/story/continue", map[string]string{"session_id": "missing", "choice_id": "c1"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestResetRoutes(t *testing.T) {
	h := newHarness(t, 5, nil)
	_, started := h.post(t, "/api/v1/story/start", startBody())
	id := started["session_id"].(string)

	res, _ := h.post(t, "/api/v1/story/reset?session_id="+id, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = h.post(t, "/api/v1/story/session/"+id+"/reset", nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, _ = h.post(t, "/api/v1/story/reset", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestStartRateLimitReturnsRetryAfter(t *testing.T) {
	policies := ratelimit.MergePolicies(ratelimit.DefaultPolicies(), []ratelimit.Policy{
		{Name: ratelimit.PolicyStartPerIPPerHour, MaxRequests: 2, Window: time.Hour},
	})
	h := newHarness(t, 5, policies)

	for i := 0; i < 2; i++ {
		res, _ := h.post(t, "/api/v1/story/start", startBody())
		require.Equal(t, http.StatusCreated, res.StatusCode)
	}
	res, body := h.post(t, "/api/v1/story/start", startBody())
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "rate_limited", body["code"])
	assert.Equal(t, ratelimit.PolicyStartPerIPPerHour, body["policy"])
	assert.NotEmpty(t, res.Header.Get("Retry-After"))

	res, _ = h.post(t, "/api/v1/admin/rate-limiter/reset", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = h.post(t, "/api/v1/story/start", startBody())
	assert.Equal(t, http.StatusCreated, res.StatusCode)
}

func TestClientWindowsAreSeparatePerEndpoint(t *testing.T) {
	policies := ratelimit.MergePolicies(ratelimit.DefaultPolicies(), []ratelimit.Policy{
		{Name: ratelimit.PolicyIPPerHour, MaxRequests: 1, Window: time.Hour},
	})
	h := newHarness(t, 10, policies)

	res, started := h.post(t, "/api/v1/story/start", startBody())
	require.Equal(t, http.StatusCreated, res.StatusCode)
	id := started["session_id"].(string)

	res, _ = h.post(t, "/api/v1/story/continue", map[string]string{"session_id": id, "choice_id": "c1"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, body := h.post(t, "/api/v1/story/continue", map[string]string{"session_id": id, "choice_id": "c2"})
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, ratelimit.PolicyIPPerHour, body["policy"])

	res, _ = h.post(t, "/api/v1/story/start", startBody())
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
}

func TestFreeTextRateLimitOnlyCountsCustomInput(t *testing.T) {
	policies := ratelimit.MergePolicies(ratelimit.DefaultPolicies(), []ratelimit.Policy{
		{Name: ratelimit.PolicyCustomInputPer10Min, MaxRequests: 1, Window: 10 * time.Minute},
	})
	h := newHarness(t, 10, policies)
	_, started := h.post(t, "/api/v1/story/start", startBody())
	id := started["session_id"].(string)

	res, _ := h.post(t, "/api/v1/story/continue", map[string]string{"session_id": id, "custom_input": "sing a song"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = h.post(t, "/api/v1/story/continue", map[string]string{"session_id": id, "custom_input": "dance around"})
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	res, _ = h.post(t, "/api/v1/story/continue", map[string]string{"session_id": id, "choice_id": "c2"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestAdminAndHealthEndpoints(t *testing.T) {
	h := newHarness(t, 5, ratelimit.DefaultPolicies())
	h.post(t, "/api/v1/story/start", startBody())

	res, themes := h.get(t, "/api/v1/story/themes")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, themes["themes"], len(prompts.DefaultThemeIDs()))

	res, stats := h.get(t, "/api/v1/admin/rate-limiter/stats")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotZero(t, stats["tracked_windows"])

	res, cfg := h.get(t, "/api/v1/admin/config/safety")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "enhanced", cfg["safety_mode"])
	assert.Equal(t, float64(5), cfg["max_custom_inputs_per_10min"])

	res, health := h.get(t, "/api/v1/admin/health/detailed")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "memory", health["database"].(map[string]any)["type"])

	res, perf := h.get(t, "/api/v1/admin/perf/latency")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, perf["stages"])

	res, _ = h.post(t, "/api/v1/admin/perf/latency/reset", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	_, perf = h.get(t, "/api/v1/admin/perf/latency")
	assert.Empty(t, perf["stages"])

	res, _ = h.get(t, "/readyz")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	metricsRes, err := http.Get(h.ts.URL + "/metrics")
	require.NoError(t, err)
	defer metricsRes.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(metricsRes.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "storyquest_sessions_started_total 1")
}
