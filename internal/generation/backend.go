package generation

import (
	"context"
	"strings"
)

// Request is the normalized request sent to a text-generation backend.
type Request struct {
	Prompt        string  `json:"prompt"`
	SystemMessage string  `json:"system,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
}

// Result is a parsed story fragment. Raw keeps the text the backend returned.
type Result struct {
	SceneText     string   `json:"scene_text"`
	Choices       []string `json:"choices"`
	SummaryUpdate string   `json:"story_summary_update"`
	Raw           string   `json:"-"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Backend produces one story fragment per call.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (Result, error)
}

// StreamingBackend emits raw deltas while generating. The returned Result is
// parsed from the accumulated stream once it ends.
type StreamingBackend interface {
	Backend
	GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (Result, error)
}

// HealthChecker is implemented by backends that can check their upstream.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

const (
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.8
)

func (r Request) withDefaults() Request {
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.Temperature <= 0 {
		r.Temperature = DefaultTemperature
	}
	return r
}

type collected struct {
	StreamingBackend
}

// Collect makes Generate run through GenerateStream, so the upstream connection
// is kept busy with deltas instead of idling until the full response is ready.
func Collect(b StreamingBackend) Backend {
	return collected{StreamingBackend: b}
}

func (c collected) Generate(ctx context.Context, req Request) (Result, error) {
	return c.GenerateStream(ctx, req, nil)
}

// streamAccumulator concatenates deltas and forwards non-empty ones.
type streamAccumulator struct {
	onDelta DeltaHandler
	text    strings.Builder
}

func (a *streamAccumulator) add(delta string) error {
	if delta == "" {
		return nil
	}
	a.text.WriteString(delta)
	if a.onDelta == nil {
		return nil
	}
	return a.onDelta(delta)
}

func (a *streamAccumulator) result() (Result, error) {
	return ParseResult(a.text.String())
}

func (c collected) Ping(ctx context.Context) error {
	if hc, ok := c.StreamingBackend.(HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}
