package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(NewCatalogue(nil))
	require.NoError(t, err)
	return b
}

func TestOpeningPrompt(t *testing.T) {
	p, err := newTestBuilder(t).Opening(OpeningInput{
		PlayerName: "Mia",
		AgeRange:   "6-8",
		Theme:      "space_adventure",
		MaxTurns:   15,
	})
	require.NoError(t, err)
	assert.Contains(t, p.Text, "children aged 6-8")
	assert.Contains(t, p.Text, "friendly aliens")
	assert.Contains(t, p.Text, `"story_summary_update": "Mia begins a space_adventure adventure."`)
	assert.Contains(t, p.Text, "lasts 15 turns")
	assert.Contains(t, p.System, "ages 6-8")
}

func TestContinuationPromptMidStory(t *testing.T) {
	p, err := newTestBuilder(t).Continuation(ContinuationInput{
		PlayerName: "",
		AgeRange:   "9-12",
		Theme:      "robot_city",
		Summary:    "Leo fixed a robot.",
		Action:     "Explore the tower",
		Turn:       5,
		MaxTurns:   15,
		Phase:      "adventure",
		Tone:       "exciting",
	})
	require.NoError(t, err)
	assert.Contains(t, p.Text, "Leo fixed a robot.")
	assert.Contains(t, p.Text, "Explore the tower")
	assert.Contains(t, p.Text, "turn 5 of 15 (10 remaining)")
	assert.Contains(t, p.Text, "Story phase: adventure")
	assert.Contains(t, p.Text, "Mood of this scene: exciting")
	assert.Contains(t, p.Text, "Make the player feel heroic")
	assert.Contains(t, p.Text, "exactly 3 fun")
	assert.NotContains(t, p.Text, "final scene")
}

func TestContinuationPromptFinalTurn(t *testing.T) {
	p, err := newTestBuilder(t).Continuation(ContinuationInput{
		PlayerName: "Mia",
		AgeRange:   "6-8",
		Theme:      "castle_quest",
		Action:     "Wave goodbye",
		Turn:       15,
		MaxTurns:   15,
		Phase:      "ending",
		Tone:       "conclusive",
	})
	require.NoError(t, err)
	assert.Contains(t, p.Text, "final scene")
	assert.Contains(t, p.Text, `"choices": [],`)
	assert.Contains(t, p.Text, "Mia is on a Castle Quest adventure.")
	assert.NotContains(t, p.Text, "exactly 3 fun")
}

func TestContinuationPromptWrapUp(t *testing.T) {
	p, err := newTestBuilder(t).Continuation(ContinuationInput{Turn: 13, MaxTurns: 15, Action: "Go"})
	require.NoError(t, err)
	assert.Contains(t, p.Text, "guiding the story toward its ending")
}

func TestCatalogue(t *testing.T) {
	c := NewCatalogue([]string{"Space_Adventure", "pirate_cove", "space_adventure", " "})
	themes := c.Themes()
	require.Len(t, themes, 2)
	assert.Equal(t, "space_adventure", themes[0].ID)
	assert.Equal(t, "Space Adventure", themes[0].Title)
	assert.Equal(t, "Pirate Cove", themes[1].Title)
	assert.Equal(t, genericThemeDescription, c.Describe("pirate_cove"))
	assert.True(t, c.Has("pirate_cove"))
	assert.False(t, c.Has("robot_city"))

	assert.Len(t, NewCatalogue(nil).Themes(), 6)
}
