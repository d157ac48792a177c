package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/storyquest/internal/reliability"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini API backend.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GeminiBackend generates through the Gemini API with JSON output.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini API key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

func (b *GeminiBackend) Name() string { return "gemini:" + b.model }

func (b *GeminiBackend) build(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	req = req.withDefaults()
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens:  int32(req.MaxTokens),
		ResponseMIMEType: "application/json",
	}
	if req.SystemMessage != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemMessage}},
		}
	}
	return contents, config
}

func (b *GeminiBackend) Generate(ctx context.Context, req Request) (Result, error) {
	contents, config := b.build(req)
	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, config)
	if err != nil {
		return Result{}, classifyGeminiError(err)
	}
	return ParseResult(resp.Text())
}

func (b *GeminiBackend) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (Result, error) {
	contents, config := b.build(req)
	acc := &streamAccumulator{onDelta: onDelta}
	for chunk, err := range b.client.Models.GenerateContentStream(ctx, b.model, contents, config) {
		if err != nil {
			return Result{}, classifyGeminiError(err)
		}
		if chunk == nil {
			continue
		}
		if err := acc.add(chunk.Text()); err != nil {
			return Result{}, err
		}
	}
	return acc.result()
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, fmt.Errorf("gemini api: %w", err))
	}
	return reliability.Transport(fmt.Errorf("gemini: %w", err))
}
