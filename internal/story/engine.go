package story

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/storyquest/internal/generation"
	"github.com/ent0n29/storyquest/internal/observability"
	"github.com/ent0n29/storyquest/internal/prompts"
	"github.com/ent0n29/storyquest/internal/reliability"
	"github.com/ent0n29/storyquest/internal/safety"
	"github.com/ent0n29/storyquest/internal/session"
	"github.com/ent0n29/storyquest/internal/store"
)

const (
	MaxPlayerNameLength = 100
	MaxActionLength     = 200
)

type Config struct {
	MaxTurns          int
	MaxRetries        int
	GenerationTimeout time.Duration
	MaxTokens         int
	Temperature       float64
	Backoff           reliability.BackoffPolicy
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 15
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 30 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = generation.DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = generation.DefaultTemperature
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff = reliability.DefaultBackoff()
	}
	return c
}

type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger.With().Str("component", "story").Logger() }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithStageWindow(w *observability.StageWindow) Option {
	return func(e *Engine) { e.window = w }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithSleep replaces the wait between retries.
func WithSleep(sleep reliability.SleepFunc) Option {
	return func(e *Engine) { e.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs story sessions: it builds prompts, generates scenes until one
// passes safety validation, and persists each turn.
type Engine struct {
	cfg       Config
	backend   generation.Backend
	validator safety.Validator
	builder   *prompts.Builder
	store     store.Store
	locks     *session.Locker

	logger  zerolog.Logger
	metrics *observability.Metrics
	window  *observability.StageWindow
	tracer  trace.Tracer
	sleep   reliability.SleepFunc
	now     func() time.Time
}

func NewEngine(
	cfg Config,
	backend generation.Backend,
	validator safety.Validator,
	builder *prompts.Builder,
	st store.Store,
	opts ...Option,
) (*Engine, error) {
	switch {
	case backend == nil:
		return nil, errors.New("story engine requires a generation backend")
	case validator == nil:
		return nil, errors.New("story engine requires a safety validator")
	case builder == nil:
		return nil, errors.New("story engine requires a prompt builder")
	case st == nil:
		return nil, errors.New("story engine requires a store")
	}
	e := &Engine{
		cfg:       cfg.withDefaults(),
		backend:   backend,
		validator: validator,
		builder:   builder,
		store:     st,
		locks:     session.NewLocker(),
		logger:    zerolog.Nop(),
		tracer:    observability.Tracer(),
		sleep:     reliability.Sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) BackendName() string { return e.backend.Name() }

func (e *Engine) Themes() []prompts.Theme { return e.builder.Catalogue().Themes() }

// Start opens a session and persists its opening scene as turn 0.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*Response, error) {
	ctx, span := e.tracer.Start(ctx, "story.start", trace.WithAttributes(
		attribute.String("story.theme", req.Theme),
		attribute.String("story.age_range", req.AgeRange),
	))
	defer span.End()
	started := e.now()

	name, err := e.validateStart(ctx, &req)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	sess := session.New(name, req.AgeRange, req.Theme, e.now().UTC())
	span.SetAttributes(attribute.String("story.session_id", sess.ID))

	prompt, err := e.builder.Opening(prompts.OpeningInput{
		PlayerName: sess.PlayerName,
		AgeRange:   sess.AgeRange,
		Theme:      sess.Theme,
		MaxTurns:   e.cfg.MaxTurns,
	})
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("build opening prompt: %w", err)
	}

	scene := e.generateWithRetry(ctx, prompt, sess.Theme, sess.AgeRange, false)
	first := session.Turn{
		SessionID: sess.ID,
		Number:    0,
		SceneID:   session.SceneID(sess.ID, 0),
		SceneText: scene.text,
		Summary:   scene.summary,
		CreatedAt: e.now().UTC(),
	}

	persistStart := e.now()
	err = e.store.CreateSession(ctx, sess, first)
	e.window.ObserveDuration(observability.StagePersist, e.now().Sub(persistStart))
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("persist new session: %w", err)
	}

	e.metrics.ObserveSessionStarted()
	e.metrics.ObserveTurn(string(PhaseOpening))
	e.window.ObserveDuration(observability.StageTurnTotal, e.now().Sub(started))
	e.logger.Info().
		Str("session_id", sess.ID).
		Str("theme", sess.Theme).
		Str("age_range", sess.AgeRange).
		Bool("fallback", scene.fallback).
		Msg("story session started")

	return &Response{
		SessionID: sess.ID,
		SceneID:   first.SceneID,
		SceneText: first.SceneText,
		Choices:   choiceList(scene.choices),
		Summary:   first.Summary,
		Metadata: Metadata{
			Turn:       0,
			MaxTurns:   e.cfg.MaxTurns,
			Theme:      sess.Theme,
			AgeRange:   sess.AgeRange,
			Phase:      PhaseOpening,
			Tone:       ToneFor(0, e.cfg.MaxTurns),
			IsFinished: false,
			Fallback:   scene.fallback,
		},
	}, nil
}

func (e *Engine) validateStart(ctx context.Context, req *StartRequest) (string, error) {
	name := strings.TrimSpace(req.PlayerName)
	req.AgeRange = strings.TrimSpace(req.AgeRange)
	req.Theme = strings.ToLower(strings.TrimSpace(req.Theme))

	if n := utf8.RuneCountInString(name); n == 0 || n > MaxPlayerNameLength {
		return "", invalid("player_name", fmt.Sprintf("must be 1 to %d characters", MaxPlayerNameLength))
	}
	if req.AgeRange == "" {
		return "", invalid("age_range", "is required")
	}
	if !e.builder.Catalogue().Has(req.Theme) {
		return "", invalid("theme", fmt.Sprintf("unknown theme %q", req.Theme))
	}
	res := e.validator.FilterInput(ctx, name, req.AgeRange)
	if !res.OK() {
		return "", &ValidationError{Field: "player_name", Reason: res.Reason, Violation: res.Violation}
	}
	return res.Text, nil
}

// Continue advances an active session by one turn.
func (e *Engine) Continue(ctx context.Context, req ContinueRequest) (*Response, error) {
	ctx, span := e.tracer.Start(ctx, "story.continue", trace.WithAttributes(
		attribute.String("story.session_id", req.SessionID),
	))
	defer span.End()
	started := e.now()

	if strings.TrimSpace(req.SessionID) == "" {
		err := invalid("session_id", "is required")
		recordError(span, err)
		return nil, err
	}

	unlock, err := e.locks.Lock(ctx, req.SessionID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	defer unlock()

	sess, err := e.store.LoadSession(ctx, req.SessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		recordError(span, ErrInvalidState)
		return nil, fmt.Errorf("%w: session %s does not exist", ErrInvalidState, req.SessionID)
	case err != nil:
		recordError(span, err)
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !sess.Active || sess.Turn >= e.cfg.MaxTurns {
		recordError(span, ErrInvalidState)
		return nil, fmt.Errorf("%w: session %s is finished", ErrInvalidState, sess.ID)
	}

	act, err := e.resolveAction(ctx, req, sess.AgeRange)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	n := sess.Turn + 1
	phase := PhaseFor(n, e.cfg.MaxTurns)
	tone := ToneFor(n, e.cfg.MaxTurns)
	final := n >= e.cfg.MaxTurns
	span.SetAttributes(
		attribute.Int("story.turn", n),
		attribute.String("story.phase", string(phase)),
	)

	prompt, err := e.builder.Continuation(prompts.ContinuationInput{
		PlayerName: sess.PlayerName,
		AgeRange:   sess.AgeRange,
		Theme:      sess.Theme,
		Summary:    strings.TrimSpace(req.Summary),
		Action:     act.text,
		Turn:       n,
		MaxTurns:   e.cfg.MaxTurns,
		Phase:      string(phase),
		Tone:       string(tone),
	})
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("build continuation prompt: %w", err)
	}

	scene := e.generateWithRetry(ctx, prompt, sess.Theme, sess.AgeRange, final)
	summary := scene.summary
	if summary == "" {
		summary = strings.TrimSpace(req.Summary)
	}

	now := e.now().UTC()
	sess.Turn = n
	sess.LastActivityAt = now
	if final {
		sess.Active = false
	}
	turn := session.Turn{
		SessionID:   sess.ID,
		Number:      n,
		SceneID:     session.SceneID(sess.ID, n),
		SceneText:   scene.text,
		ChoiceID:    act.choiceID,
		CustomInput: act.customInput,
		Summary:     summary,
		CreatedAt:   now,
	}

	persistStart := e.now()
	err = e.store.AppendTurn(ctx, sess, turn)
	e.window.ObserveDuration(observability.StagePersist, e.now().Sub(persistStart))
	switch {
	case errors.Is(err, store.ErrTurnConflict), errors.Is(err, store.ErrNotFound):
		recordError(span, ErrInvalidState)
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	case err != nil:
		recordError(span, err)
		return nil, fmt.Errorf("persist turn %d: %w", n, err)
	}

	e.metrics.ObserveTurn(string(phase))
	if final {
		e.metrics.ObserveSessionEvent("finished")
	}
	e.window.ObserveDuration(observability.StageTurnTotal, e.now().Sub(started))
	e.logger.Info().
		Str("session_id", sess.ID).
		Int("turn", n).
		Str("phase", string(phase)).
		Bool("custom_input", act.customInput != "").
		Bool("fallback", scene.fallback).
		Bool("finished", final).
		Msg("story turn persisted")

	return &Response{
		SessionID: sess.ID,
		SceneID:   turn.SceneID,
		SceneText: turn.SceneText,
		Choices:   choiceList(scene.choices),
		Summary:   summary,
		Metadata: Metadata{
			Turn:       n,
			MaxTurns:   e.cfg.MaxTurns,
			Theme:      sess.Theme,
			AgeRange:   sess.AgeRange,
			Phase:      phase,
			Tone:       tone,
			IsFinished: final,
			Fallback:   scene.fallback,
		},
	}, nil
}

type action struct {
	text        string
	choiceID    string
	customInput string
}

func (e *Engine) resolveAction(ctx context.Context, req ContinueRequest, ageRange string) (action, error) {
	if custom := strings.TrimSpace(req.CustomInput); custom != "" {
		res := e.validator.FilterInput(ctx, custom, ageRange)
		if !res.OK() {
			return action{}, &ValidationError{Field: "custom_input", Reason: res.Reason, Violation: res.Violation}
		}
		return action{text: res.Text, customInput: res.Text}, nil
	}

	id := strings.TrimSpace(req.ChoiceID)
	if id == "" {
		return action{}, invalid("choice_id", "a choice or custom input is required")
	}
	text := strings.TrimSpace(req.ChoiceText)
	if utf8.RuneCountInString(text) > MaxActionLength {
		return action{}, invalid("choice_text", fmt.Sprintf("must be at most %d characters", MaxActionLength))
	}
	if text == "" {
		text = "Choice " + id
	}
	return action{text: text, choiceID: id}, nil
}

// History returns the session and its turns in ascending order.
func (e *Engine) History(ctx context.Context, sessionID string) (*History, error) {
	ctx, span := e.tracer.Start(ctx, "story.history", trace.WithAttributes(
		attribute.String("story.session_id", sessionID),
	))
	defer span.End()

	sess, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		err = notFound(err)
		recordError(span, err)
		return nil, err
	}
	turns, err := e.store.ListTurns(ctx, sessionID)
	if err != nil {
		err = notFound(err)
		recordError(span, err)
		return nil, err
	}
	return newHistory(sess, turns), nil
}

// Reset abandons a session. Resetting an inactive session only touches its activity time.
func (e *Engine) Reset(ctx context.Context, sessionID string) error {
	ctx, span := e.tracer.Start(ctx, "story.reset", trace.WithAttributes(
		attribute.String("story.session_id", sessionID),
	))
	defer span.End()

	unlock, err := e.locks.Lock(ctx, sessionID)
	if err != nil {
		recordError(span, err)
		return err
	}
	defer unlock()

	sess, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		err = notFound(err)
		recordError(span, err)
		return err
	}
	wasActive := sess.Active
	sess.Active = false
	sess.LastActivityAt = e.now().UTC()
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		err = notFound(err)
		recordError(span, err)
		return err
	}

	if wasActive {
		e.metrics.ObserveSessionEvent("reset")
	}
	e.logger.Info().Str("session_id", sessionID).Bool("was_active", wasActive).Msg("story session reset")
	return nil
}

type scene struct {
	text     string
	choices  []string
	summary  string
	fallback bool
}

// generateWithRetry never fails: once attempts run out, or the caller gives
// up while waiting, it returns the safe fallback scene for theme.
func (e *Engine) generateWithRetry(ctx context.Context, prompt prompts.Prompt, theme, ageRange string, final bool) scene {
	ctx, span := e.tracer.Start(ctx, "story.generate", trace.WithAttributes(
		attribute.String("generation.backend", e.backend.Name()),
	))
	defer span.End()

	req := generation.Request{
		Prompt:        prompt.Text,
		SystemMessage: prompt.System,
		MaxTokens:     e.cfg.MaxTokens,
		Temperature:   e.cfg.Temperature,
	}

	var out generation.Result
	runner := reliability.Runner{
		MaxAttempts: e.cfg.MaxRetries,
		Policies: map[reliability.Class]reliability.Policy{
			reliability.ClassTransport: e.cfg.Backoff,
			reliability.ClassContent:   reliability.ImmediatePolicy{},
		},
		Sleep: e.sleep,
		OnRetry: func(ev reliability.RetryEvent) {
			indicator := observability.IndicatorTransportRetry
			if ev.Class == reliability.ClassContent {
				indicator = observability.IndicatorContentRetry
			}
			e.window.ObserveIndicator(indicator)
			e.logger.Warn().
				Err(ev.Err).
				Int("attempt", ev.Attempt+1).
				Str("class", ev.Class.String()).
				Dur("delay", ev.Delay).
				Msg("generation attempt failed, retrying")
		},
	}

	attempts := 0
	err := runner.Run(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt + 1
		res, err := e.generateOnce(ctx, req)
		if err != nil {
			return err
		}

		validateStart := e.now()
		verdict := e.validator.ValidateOutput(ctx, res.SceneText, res.Choices, ageRange)
		e.window.ObserveDuration(observability.StageValidate, e.now().Sub(validateStart))
		if !verdict.OK() {
			return reliability.Content(fmt.Errorf("generated scene rejected: %s", verdict.Reason))
		}
		out = res
		return nil
	})
	span.SetAttributes(attribute.Int("generation.attempts", attempts))

	if err != nil {
		reason := "exhausted"
		if ctx.Err() != nil {
			reason = "canceled"
		}
		e.metrics.ObserveFallback(reason)
		e.window.ObserveIndicator(observability.IndicatorFallback)
		span.SetAttributes(attribute.Bool("generation.fallback", true))
		e.logger.Error().
			Err(err).
			Int("attempts", attempts).
			Str("reason", reason).
			Msg("generation failed, serving safe fallback scene")

		fb := e.validator.Fallback(theme)
		sc := scene{text: fb.SceneText, choices: fb.Choices, summary: fb.Summary, fallback: true}
		if final {
			sc.choices = nil
		}
		return sc
	}

	sc := scene{text: out.SceneText, choices: out.Choices, summary: strings.TrimSpace(out.SummaryUpdate)}
	switch {
	case final:
		sc.choices = nil
	case len(sc.choices) == 0:
		sc.choices = e.validator.Fallback(theme).Choices
	}
	return sc
}

func (e *Engine) generateOnce(ctx context.Context, req generation.Request) (generation.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	start := e.now()
	res, err := e.backend.Generate(ctx, req)
	elapsed := e.now().Sub(start)
	e.window.ObserveDuration(observability.StageGenerate, elapsed)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, generation.ErrMalformedResponse):
		outcome = "malformed"
	case reliability.ClassOf(err) == reliability.ClassPermanent:
		outcome = "permanent"
	default:
		outcome = "error"
	}
	e.metrics.ObserveGeneration(e.backend.Name(), outcome, elapsed)
	if err != nil {
		// Every backend failure spends the full attempt budget with backoff.
		return generation.Result{}, reliability.Transport(fmt.Errorf("generate scene: %w", err))
	}
	return res, nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
