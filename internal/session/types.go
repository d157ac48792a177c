package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one child's story run. Turn only moves forward, and an inactive
// session is never reactivated.
type Session struct {
	ID             string    `json:"session_id"`
	PlayerName     string    `json:"player_name"`
	AgeRange       string    `json:"age_range"`
	Theme          string    `json:"theme"`
	Turn           int       `json:"turns"`
	Active         bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity"`
}

// Turn is an immutable generated scene. Turn 0 carries no player action; every
// later turn carries exactly one of ChoiceID or CustomInput.
type Turn struct {
	SessionID   string    `json:"session_id"`
	Number      int       `json:"turn_number"`
	SceneID     string    `json:"scene_id"`
	SceneText   string    `json:"scene_text"`
	ChoiceID    string    `json:"player_choice,omitempty"`
	CustomInput string    `json:"custom_input,omitempty"`
	Summary     string    `json:"story_summary"`
	CreatedAt   time.Time `json:"created_at"`
}

// New returns an active session at turn 0.
func New(playerName, ageRange, theme string, now time.Time) Session {
	return Session{
		ID:             uuid.NewString(),
		PlayerName:     playerName,
		AgeRange:       ageRange,
		Theme:          theme,
		Active:         true,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// SceneID formats the identifier of turn n in sessionID.
func SceneID(sessionID string, n int) string {
	return fmt.Sprintf("scene_%s_%d", sessionID, n)
}
