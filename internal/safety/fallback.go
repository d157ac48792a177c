package safety

import (
	"strings"
	"unicode"
)

// FallbackSummary is the running-summary text attached to a fallback scene.
const FallbackSummary = "The adventure continues in a safe and peaceful way."

// FallbackStory is the deterministic scene used when generation cannot produce safe output.
type FallbackStory struct {
	SceneText string
	Choices   []string
	Summary   string
}

var fallbackChoices = []string{
	"Look around at the beautiful scenery",
	"Take a happy deep breath and think",
	"Choose a fun direction to explore",
}

func (l *Lexicon) fallback(theme string) FallbackStory {
	place := "adventure"
	if title := themeTitle(theme); title != "" {
		if _, banned := l.findBanned(title); !banned {
			place = title + " adventure"
		}
	}
	return FallbackStory{
		SceneText: "You find yourself in a wonderful, magical place on your " + place + ". " +
			"Everything around you is peaceful, colorful, inviting, and filled with amazing possibilities!",
		Choices: append([]string(nil), fallbackChoices...),
		Summary: FallbackSummary,
	}
}

// themeTitle turns "space_adventure" into "Space Adventure".
func themeTitle(theme string) string {
	words := strings.Fields(strings.ReplaceAll(theme, "_", " "))
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
