package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Mode selects how much of the filter pipeline runs and how rejections are reported.
type Mode string

const (
	// ModeBasic runs the local length, pattern and banned-word checks and reports reasons only.
	ModeBasic Mode = "basic"
	// ModeEnhanced runs every check and reports structured violations.
	ModeEnhanced Mode = "enhanced"
)

// Verdict is the normalized outcome of a check.
type Verdict int

const (
	Allowed Verdict = iota
	Rejected
	RejectedWithViolation
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Rejected:
		return "rejected"
	case RejectedWithViolation:
		return "rejected_with_violation"
	default:
		return "unknown"
	}
}

// InputResult is returned by FilterInput. Text holds the sanitized input when allowed.
type InputResult struct {
	Verdict   Verdict
	Text      string
	Reason    string
	Violation *Violation
}

// OK reports whether the input was accepted.
func (r InputResult) OK() bool { return r.Verdict == Allowed }

// OutputResult is returned by ValidateOutput.
type OutputResult struct {
	Verdict   Verdict
	Reason    string
	Violation *Violation
}

// OK reports whether the output was accepted.
func (r OutputResult) OK() bool { return r.Verdict == Allowed }

// Validator screens player input and generated output.
type Validator interface {
	FilterInput(ctx context.Context, text, ageRange string) InputResult
	ValidateOutput(ctx context.Context, scene string, choices []string, ageRange string) OutputResult
	Fallback(theme string) FallbackStory
}

// Player-facing rejection messages.
const (
	MessageEmpty         = "Input cannot be empty"
	MessagePersonalInfo  = "Please don't include personal information, links, or contact details"
	MessageKinderWords   = "Let's use kinder words in our story"
	MessageSimplerIdeas  = "Let's use simpler, more fun ideas for our story!"
	MessageDifferentIdea = "Let's try a different idea for our adventure!"
)

// Config tunes a Filter.
type Config struct {
	Mode              Mode
	MaxInputLength    int
	LogViolations     bool
	ModerationTimeout time.Duration
	RecentViolations  int
	// LogRetention caps the records kept by the violation log. Zero keeps all.
	LogRetention      int
}

// Option customizes a Filter.
type Option func(*Filter)

// WithModerator enables the external oracle.
func WithModerator(m Moderator) Option {
	return func(f *Filter) { f.moderator = m }
}

// WithLogger sets the filter logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Filter) { f.logger = logger.With().Str("component", "safety").Logger() }
}

// WithLexicon replaces the default word lists.
func WithLexicon(l *Lexicon) Option {
	return func(f *Filter) {
		if l != nil {
			f.lexicon = l
		}
	}
}

// WithViolationHook is called for every violation, whether or not it is logged.
func WithViolationHook(fn func(Violation)) Option {
	return func(f *Filter) { f.onViolation = fn }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) {
		if now != nil {
			f.now = now
		}
	}
}

// Filter is the Validator implementation for both modes.
type Filter struct {
	cfg         Config
	lexicon     *Lexicon
	moderator   Moderator
	log         *Log
	logger      zerolog.Logger
	onViolation func(Violation)
	now         func() time.Time
}

var _ Validator = (*Filter)(nil)

// NewFilter builds a Filter. Zero config fields take defaults.
func NewFilter(cfg Config, opts ...Option) (*Filter, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeEnhanced
	case ModeBasic, ModeEnhanced:
	default:
		return nil, fmt.Errorf("unknown safety mode %q", cfg.Mode)
	}
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = 200
	}
	if cfg.ModerationTimeout <= 0 {
		cfg.ModerationTimeout = 10 * time.Second
	}
	if cfg.RecentViolations <= 0 {
		cfg.RecentViolations = 10
	}
	f := &Filter{
		cfg:     cfg,
		lexicon: DefaultLexicon(),
		log:     NewLog(cfg.LogRetention),
		logger:  zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Config returns the effective configuration.
func (f *Filter) Config() Config { return f.cfg }

// ModerationEnabled reports whether an oracle is wired in and the mode uses it.
func (f *Filter) ModerationEnabled() bool {
	return f.moderator != nil && f.cfg.Mode == ModeEnhanced
}

// Lexicon exposes the active word lists.
func (f *Filter) Lexicon() *Lexicon { return f.lexicon }

// Summary returns the violation log summary with the configured recent window.
func (f *Filter) Summary() Summary { return f.log.Summary(f.cfg.RecentViolations) }

// Fallback returns the deterministic safe scene for theme.
func (f *Filter) Fallback(theme string) FallbackStory { return f.lexicon.fallback(theme) }

func (f *Filter) FilterInput(ctx context.Context, text, ageRange string) InputResult {
	sanitized := strings.TrimSpace(text)
	if sanitized == "" {
		return f.rejectInput(MessageEmpty, Violation{
			Kind: KindInappropriatePattern, Severity: SeverityLow, Reason: MessageEmpty,
		})
	}
	if n := len([]rune(text)); n > f.cfg.MaxInputLength {
		msg := fmt.Sprintf("Input too long (max %d characters)", f.cfg.MaxInputLength)
		return f.rejectInput(msg, Violation{
			Kind: KindInappropriatePattern, Severity: SeverityLow, Reason: msg,
			Details: map[string]string{"length": fmt.Sprint(n), "max": fmt.Sprint(f.cfg.MaxInputLength)},
		})
	}
	if name, hit := matchInputPattern(sanitized); hit {
		return f.rejectInput(MessagePersonalInfo, Violation{
			Kind: KindInappropriatePattern, Severity: SeverityHigh,
			Reason:  "Input contains inappropriate content (URLs, emails, or personal information)",
			Details: map[string]string{"pattern": name, "text": redacted(sanitized)},
		})
	}
	if word, hit := f.lexicon.firstBannedToken(sanitized); hit {
		return f.rejectInput(MessageKinderWords, Violation{
			Kind: KindBannedWord, Severity: SeverityHigh,
			Reason:  fmt.Sprintf("Input contains inappropriate word: '%s'", word),
			Details: map[string]string{"word": word},
		})
	}
	if f.cfg.Mode == ModeBasic {
		return InputResult{Verdict: Allowed, Text: sanitized}
	}
	if word, hit := f.lexicon.firstAgeToken(sanitized, ageRange); hit {
		return f.rejectInput(MessageSimplerIdeas, Violation{
			Kind: KindAgeInappropriate, Severity: SeverityMedium,
			Reason:  fmt.Sprintf("Word too complex or inappropriate for age %s", ageRange),
			Details: map[string]string{"word": word, "age_range": ageRange},
		})
	}
	if verdict, ok := f.moderate(ctx, sanitized); ok && verdict.Flagged {
		return f.rejectInput(MessageDifferentIdea, Violation{
			Kind: KindModeration, Severity: SeverityHigh,
			Reason:  moderationReason(verdict),
			Details: map[string]string{"text": redacted(sanitized)},
		})
	}
	return InputResult{Verdict: Allowed, Text: sanitized}
}

func (f *Filter) ValidateOutput(ctx context.Context, scene string, choices []string, ageRange string) OutputResult {
	if word, hit := f.lexicon.findBanned(scene); hit {
		return f.rejectOutput(Violation{
			Kind: KindBannedWord, Severity: SeverityHigh,
			Reason:  fmt.Sprintf("Generated scene contains banned word: %s", word),
			Details: map[string]string{"word": word, "context": "scene"},
		})
	}
	for i, choice := range choices {
		if word, hit := f.lexicon.findBanned(choice); hit {
			return f.rejectOutput(Violation{
				Kind: KindBannedWord, Severity: SeverityHigh,
				Reason:  fmt.Sprintf("Generated choice contains banned word: %s", word),
				Details: map[string]string{"word": word, "context": fmt.Sprintf("choice_%d", i)},
			})
		}
	}
	if f.cfg.Mode == ModeBasic {
		return OutputResult{Verdict: Allowed}
	}
	if score := f.lexicon.Sentiment(scene); score < NegativeSentimentThreshold {
		return f.rejectOutput(Violation{
			Kind: KindNegativeSentiment, Severity: SeverityMedium,
			Reason:  "Generated scene is too negative",
			Details: map[string]string{"sentiment_score": fmt.Sprintf("%.3f", score)},
		})
	}
	if word, hit := f.lexicon.firstAgeToken(scene, ageRange); hit {
		return f.rejectOutput(Violation{
			Kind: KindAgeInappropriate, Severity: SeverityMedium,
			Reason:  fmt.Sprintf("Generated scene contains age-inappropriate word for %s", ageRange),
			Details: map[string]string{"word": word, "age_range": ageRange},
		})
	}
	if verdict, ok := f.moderate(ctx, scene); ok && verdict.Flagged {
		return f.rejectOutput(Violation{
			Kind: KindModeration, Severity: SeverityHigh,
			Reason: moderationReason(verdict),
		})
	}
	return OutputResult{Verdict: Allowed}
}

// moderate consults the oracle. Errors and timeouts fail open.
func (f *Filter) moderate(ctx context.Context, text string) (ModerationVerdict, bool) {
	if !f.ModerationEnabled() {
		return ModerationVerdict{}, false
	}
	mctx, cancel := context.WithTimeout(ctx, f.cfg.ModerationTimeout)
	defer cancel()
	verdict, err := f.moderator.Moderate(mctx, text)
	if err != nil {
		f.logger.Warn().Err(err).Msg("moderation check failed, allowing content")
		return ModerationVerdict{}, false
	}
	return verdict, true
}

func (f *Filter) rejectInput(message string, v Violation) InputResult {
	v.Direction = DirectionInput
	if f.cfg.Mode == ModeBasic {
		return InputResult{Verdict: Rejected, Reason: message}
	}
	f.record(&v)
	return InputResult{Verdict: RejectedWithViolation, Reason: message, Violation: &v}
}

func (f *Filter) rejectOutput(v Violation) OutputResult {
	v.Direction = DirectionOutput
	if f.cfg.Mode == ModeBasic {
		return OutputResult{Verdict: Rejected, Reason: v.Reason}
	}
	f.record(&v)
	return OutputResult{Verdict: RejectedWithViolation, Reason: v.Reason, Violation: &v}
}

func (f *Filter) record(v *Violation) {
	v.Timestamp = f.now()
	f.logger.Warn().
		Str("kind", string(v.Kind)).
		Str("severity", string(v.Severity)).
		Str("direction", string(v.Direction)).
		Str("reason", v.Reason).
		Msg("content rejected")
	if f.onViolation != nil {
		f.onViolation(*v)
	}
	if f.cfg.LogViolations {
		f.log.Append(*v)
	}
}

func moderationReason(v ModerationVerdict) string {
	if len(v.Categories) == 0 {
		return "Content flagged by moderation"
	}
	return "Flagged categories: " + strings.Join(v.Categories, ", ")
}

func redacted(text string) string {
	out, _ := RedactPII(text)
	return out
}
