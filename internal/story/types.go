package story

import (
	"fmt"
	"time"

	"github.com/ent0n29/storyquest/internal/session"
)

type StartRequest struct {
	PlayerName string `json:"player_name"`
	AgeRange   string `json:"age_range"`
	Theme      string `json:"theme"`
}

// ContinueRequest carries the player's action. CustomInput wins over a choice.
type ContinueRequest struct {
	SessionID   string `json:"session_id"`
	ChoiceID    string `json:"choice_id,omitempty"`
	ChoiceText  string `json:"choice_text,omitempty"`
	CustomInput string `json:"custom_input,omitempty"`
	Summary     string `json:"story_summary,omitempty"`
}

type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Metadata struct {
	Turn       int    `json:"turn"`
	MaxTurns   int    `json:"max_turns"`
	Theme      string `json:"theme"`
	AgeRange   string `json:"age_range"`
	Phase      Phase  `json:"phase"`
	Tone       Tone   `json:"tone"`
	IsFinished bool   `json:"is_finished"`
	Fallback   bool   `json:"safe_fallback"`
}

// Response is returned by Start and Continue.
type Response struct {
	SessionID string   `json:"session_id"`
	SceneID   string   `json:"scene_id"`
	SceneText string   `json:"scene_text"`
	Choices   []Choice `json:"choices"`
	Summary   string   `json:"story_summary"`
	Metadata  Metadata `json:"metadata"`
}

// History is a session with its turns in ascending order.
type History struct {
	SessionID      string         `json:"session_id"`
	PlayerName     string         `json:"player_name"`
	AgeRange       string         `json:"age_range"`
	Theme          string         `json:"theme"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity"`
	TotalTurns     int            `json:"total_turns"`
	Active         bool           `json:"is_active"`
	Turns          []session.Turn `json:"turns"`
}

func choiceList(texts []string) []Choice {
	out := make([]Choice, 0, len(texts))
	for i, text := range texts {
		out = append(out, Choice{ID: fmt.Sprintf("c%d", i+1), Text: text})
	}
	return out
}

func newHistory(s session.Session, turns []session.Turn) *History {
	if turns == nil {
		turns = []session.Turn{}
	}
	return &History{
		SessionID:      s.ID,
		PlayerName:     s.PlayerName,
		AgeRange:       s.AgeRange,
		Theme:          s.Theme,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		TotalTurns:     s.Turn,
		Active:         s.Active,
		Turns:          turns,
	}
}
