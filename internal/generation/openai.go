package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/storyquest/internal/reliability"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures any OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	Name     string
	APIKey   string
	BaseURL  string
	Model    string
	Headers  map[string]string
	Timeout  time.Duration
	JSONMode bool
}

// OpenAIBackend generates through the chat completions API. OpenRouter and
// LM Studio are served by pointing BaseURL at them.
type OpenAIBackend struct {
	client   *openai.Client
	name     string
	model    string
	jsonMode bool
}

func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai model is required")
	}
	clientCfg := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: headerTransport{headers: cfg.Headers, base: http.DefaultTransport},
	}

	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIBackend{
		client:   openai.NewClientWithConfig(clientCfg),
		name:     name + ":" + cfg.Model,
		model:    cfg.Model,
		jsonMode: cfg.JSONMode,
	}, nil
}

func (b *OpenAIBackend) Name() string { return b.name }

func (b *OpenAIBackend) request(req Request) openai.ChatCompletionRequest {
	req = req.withDefaults()
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemMessage != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemMessage,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	out := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if b.jsonMode {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (Result, error) {
	resp, err := b.client.CreateChatCompletion(ctx, b.request(req))
	if err != nil {
		return Result{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices in completion", ErrMalformedResponse)
	}
	return ParseResult(resp.Choices[0].Message.Content)
}

func (b *OpenAIBackend) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (Result, error) {
	stream, err := b.client.CreateChatCompletionStream(ctx, b.request(req))
	if err != nil {
		return Result{}, classifyOpenAIError(err)
	}
	defer stream.Close()

	acc := &streamAccumulator{onDelta: onDelta}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, classifyOpenAIError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if err := acc.add(chunk.Choices[0].Delta.Content); err != nil {
			return Result{}, err
		}
	}
	return acc.result()
}

// Ping lists models, which every compatible server exposes.
func (b *OpenAIBackend) Ping(ctx context.Context) error {
	_, err := b.client.ListModels(ctx)
	return err
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, fmt.Errorf("openai api: %w", err))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, fmt.Errorf("openai request: %w", err))
	}
	return reliability.Transport(fmt.Errorf("openai: %w", err))
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if len(t.headers) > 0 {
		r = r.Clone(r.Context())
		for k, v := range t.headers {
			r.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(r)
}
