package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

// ModerationVerdict is the oracle's answer for one text.
type ModerationVerdict struct {
	Flagged    bool
	Categories []string
}

// Moderator is an external content-classification oracle.
type Moderator interface {
	Moderate(ctx context.Context, text string) (ModerationVerdict, error)
}

// OpenAIModerator calls the OpenAI moderation endpoint.
type OpenAIModerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIModerator builds a moderator. An empty baseURL targets api.openai.com.
func NewOpenAIModerator(apiKey, baseURL, model string) (*OpenAIModerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("moderation api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIModerator{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (m *OpenAIModerator) Moderate(ctx context.Context, text string) (ModerationVerdict, error) {
	resp, err := m.client.Moderations(ctx, openai.ModerationRequest{Input: text, Model: m.model})
	if err != nil {
		return ModerationVerdict{}, fmt.Errorf("moderation request: %w", err)
	}
	if len(resp.Results) == 0 {
		return ModerationVerdict{}, nil
	}
	res := resp.Results[0]
	if !res.Flagged {
		return ModerationVerdict{}, nil
	}
	return ModerationVerdict{Flagged: true, Categories: flaggedCategories(res.Categories)}, nil
}

func flaggedCategories(categories openai.ResultCategories) []string {
	raw, err := json.Marshal(categories)
	if err != nil {
		return nil
	}
	var byName map[string]bool
	if err := json.Unmarshal(raw, &byName); err != nil {
		return nil
	}
	var out []string
	for name, hit := range byName {
		if hit {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
