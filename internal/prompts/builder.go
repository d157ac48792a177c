package prompts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Prompt is the rendered user prompt plus its system message.
type Prompt struct {
	Text   string
	System string
}

// OpeningInput feeds the first scene of a session.
type OpeningInput struct {
	PlayerName string
	AgeRange   string
	Theme      string
	MaxTurns   int
}

// ContinuationInput feeds every scene after the first.
type ContinuationInput struct {
	PlayerName string
	AgeRange   string
	Theme      string
	Summary    string
	Action     string
	Turn       int
	MaxTurns   int
	Phase      string
	Tone       string
}

const systemTemplate = `You are a professional children's storyteller specializing in interactive stories for ages {{.AgeRange}}.
Your stories are always:
- Safe and age-appropriate (G-rated)
- Encouraging and positive
- Educational while being fun
- Free from violence, scary content, or adult themes
- Focused on kindness, curiosity, and problem-solving

Always respond with valid JSON in the exact format requested.`

const openingTemplate = `You are a creative, kid-friendly storyteller for children aged {{.AgeRange}}.

Create the opening scene for a brand new story about {{.PlayerName}}, who is about to begin {{.ThemeDescription}}.
The whole story lasts {{.MaxTurns}} turns.

RULES:
1. Keep content G-rated: no violence, scary themes, or adult content
2. Write an exciting opening (2-4 sentences) that introduces the setting and situation
3. Generate exactly 3 fun, age-appropriate choices for what to do first
4. Use playful, encouraging language
5. Make {{.PlayerName}} the hero of the story
6. Create a sense of wonder and excitement
7. Theme: {{.Theme}}

Respond in this JSON format:
{
  "scene_text": "The opening scene description...",
  "choices": [
    "Choice 1",
    "Choice 2",
    "Choice 3"
  ],
  "story_summary_update": "{{.PlayerName}} begins a {{.Theme}} adventure."
}`

const continuationTemplate = `You are a creative, kid-friendly storyteller for children aged {{.AgeRange}}.

STORY SO FAR:
{{if .Summary}}{{.Summary}}{{else}}{{.PlayerName}} is on a {{.ThemeTitle}} adventure.{{end}}

PLAYER ACTION:
{{.Action}}

STORY PROGRESS:
- This is turn {{.Turn}} of {{.MaxTurns}} ({{.TurnsRemaining}} remaining)
- Story phase: {{.Phase}}
- Mood of this scene: {{.Tone}}

RULES:
1. Keep content G-rated: no violence, scary themes, or adult content
2. Write 2-4 sentences describing what happens next
{{- if .Final}}
3. This is the final scene: bring the adventure to a happy, satisfying ending and offer no choices
{{- else}}
3. Generate exactly 3 fun, age-appropriate choices for what to do next
{{- end}}
4. Use playful, encouraging language
5. Include learning opportunities (curiosity, problem-solving, kindness)
6. Make {{.PlayerName}} feel heroic and capable
{{- if .WrappingUp}}
7. Start guiding the story toward its ending
{{- else}}
7. Keep the story moving forward with interesting developments
{{- end}}

Respond in this JSON format:
{
  "scene_text": "What happens next...",
{{- if .Final}}
  "choices": [],
{{- else}}
  "choices": [
    "Choice 1",
    "Choice 2",
    "Choice 3"
  ],
{{- end}}
  "story_summary_update": "Brief update to story summary"
}`

// Builder renders prompts from the built-in templates.
type Builder struct {
	catalogue    *Catalogue
	system       *template.Template
	opening      *template.Template
	continuation *template.Template
}

func NewBuilder(catalogue *Catalogue) (*Builder, error) {
	if catalogue == nil {
		catalogue = NewCatalogue(nil)
	}
	system, err := template.New("system").Parse(systemTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse system template: %w", err)
	}
	opening, err := template.New("opening").Parse(openingTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse opening template: %w", err)
	}
	continuation, err := template.New("continuation").Parse(continuationTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse continuation template: %w", err)
	}
	return &Builder{
		catalogue:    catalogue,
		system:       system,
		opening:      opening,
		continuation: continuation,
	}, nil
}

// Catalogue returns the theme catalogue the builder describes themes from.
func (b *Builder) Catalogue() *Catalogue { return b.catalogue }

func (b *Builder) Opening(in OpeningInput) (Prompt, error) {
	text, err := render(b.opening, map[string]any{
		"PlayerName":       playerName(in.PlayerName),
		"AgeRange":         in.AgeRange,
		"Theme":            in.Theme,
		"ThemeDescription": b.catalogue.Describe(in.Theme),
		"MaxTurns":         in.MaxTurns,
	})
	if err != nil {
		return Prompt{}, err
	}
	system, err := b.systemMessage(in.AgeRange)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Text: text, System: system}, nil
}

func (b *Builder) Continuation(in ContinuationInput) (Prompt, error) {
	remaining := in.MaxTurns - in.Turn
	if remaining < 0 {
		remaining = 0
	}
	text, err := render(b.continuation, map[string]any{
		"PlayerName":     playerName(in.PlayerName),
		"AgeRange":       in.AgeRange,
		"ThemeTitle":     Title(in.Theme),
		"Summary":        strings.TrimSpace(in.Summary),
		"Action":         in.Action,
		"Turn":           in.Turn,
		"MaxTurns":       in.MaxTurns,
		"TurnsRemaining": remaining,
		"Phase":          in.Phase,
		"Tone":           in.Tone,
		"Final":          in.Turn >= in.MaxTurns,
		"WrappingUp":     remaining > 0 && remaining <= 2,
	})
	if err != nil {
		return Prompt{}, err
	}
	system, err := b.systemMessage(in.AgeRange)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Text: text, System: system}, nil
}

func (b *Builder) systemMessage(ageRange string) (string, error) {
	return render(b.system, map[string]any{"AgeRange": ageRange})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func playerName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "the player"
}
