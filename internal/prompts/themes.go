package prompts

import (
	"strings"
	"unicode"
)

// Theme is one entry of the story catalogue.
type Theme struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

const genericThemeDescription = "an exciting adventure filled with wonder and discovery"

var knownThemes = []Theme{
	{ID: "magical_forest", Description: "a whimsical journey through an enchanted forest with magical creatures"},
	{ID: "space_adventure", Description: "a thrilling space exploration adventure with planets, stars, and friendly aliens"},
	{ID: "underwater_quest", Description: "an exciting underwater adventure with sea creatures and hidden treasures"},
	{ID: "dinosaur_discovery", Description: "a prehistoric adventure with friendly dinosaurs and ancient mysteries"},
	{ID: "castle_quest", Description: "a medieval adventure in a grand castle with knights and dragons"},
	{ID: "robot_city", Description: "a futuristic city adventure with helpful robots and amazing technology"},
}

// DefaultThemeIDs lists the built-in catalogue in display order.
func DefaultThemeIDs() []string {
	out := make([]string, len(knownThemes))
	for i, t := range knownThemes {
		out[i] = t.ID
	}
	return out
}

// Catalogue is the set of themes a session may start with.
type Catalogue struct {
	themes []Theme
	byID   map[string]Theme
}

// NewCatalogue builds a catalogue from theme ids. Unknown ids get a generic
// description; an empty list yields the built-in catalogue.
func NewCatalogue(ids []string) *Catalogue {
	if len(ids) == 0 {
		ids = DefaultThemeIDs()
	}
	known := make(map[string]Theme, len(knownThemes))
	for _, t := range knownThemes {
		known[t.ID] = t
	}

	c := &Catalogue{byID: make(map[string]Theme, len(ids))}
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, dup := c.byID[id]; dup {
			continue
		}
		t, ok := known[id]
		if !ok {
			t = Theme{ID: id, Description: genericThemeDescription}
		}
		t.Title = Title(id)
		c.themes = append(c.themes, t)
		c.byID[id] = t
	}
	return c
}

// Themes returns the catalogue in display order.
func (c *Catalogue) Themes() []Theme {
	return append([]Theme(nil), c.themes...)
}

func (c *Catalogue) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Describe returns the prose description used in opening prompts.
func (c *Catalogue) Describe(id string) string {
	if t, ok := c.byID[id]; ok {
		return t.Description
	}
	return genericThemeDescription
}

// Title turns "space_adventure" into "Space Adventure".
func Title(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '_' || r == '-' || unicode.IsSpace(r) })
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
