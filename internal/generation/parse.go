package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse is returned when backend text is not a usable story fragment.
var ErrMalformedResponse = errors.New("malformed generation response")

// MaxChoices is the number of choices kept from a response.
const MaxChoices = 3

// ParseResult decodes backend text into a Result. Markdown code fences around
// the JSON object are tolerated; scene_text must be non-empty.
func ParseResult(text string) (Result, error) {
	cleaned := stripCodeFence(text)
	if cleaned == "" {
		return Result{}, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	var out Result
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	out.SceneText = strings.TrimSpace(out.SceneText)
	if out.SceneText == "" {
		return Result{}, fmt.Errorf("%w: scene_text is empty", ErrMalformedResponse)
	}
	out.SummaryUpdate = strings.TrimSpace(out.SummaryUpdate)

	choices := make([]string, 0, MaxChoices)
	for _, c := range out.Choices {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		choices = append(choices, c)
		if len(choices) == MaxChoices {
			break
		}
	}
	out.Choices = choices
	out.Raw = text
	return out, nil
}

func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
