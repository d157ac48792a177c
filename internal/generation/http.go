package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/storyquest/internal/reliability"
)

// HTTPBackend talks to an Ollama-compatible /api/generate endpoint.
type HTTPBackend struct {
	baseURL string
	model   string
	client  *http.Client
	strict  bool
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation http status %d: %s", e.Code, e.Body)
}

func NewHTTPBackend(baseURL, model string, timeout time.Duration) *HTTPBackend {
	return NewHTTPBackendWithOptions(baseURL, model, timeout, false)
}

// NewHTTPBackendWithOptions enables strict stream parsing: any non-JSON stream
// line fails the call instead of being treated as raw text.
func NewHTTPBackendWithOptions(baseURL, model string, timeout time.Duration, strict bool) *HTTPBackend {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:   strings.TrimSpace(model),
		client:  &http.Client{Timeout: timeout},
		strict:  strict,
	}
}

func (b *HTTPBackend) Name() string { return "ollama:" + b.model }

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

func (b *HTTPBackend) Generate(ctx context.Context, req Request) (Result, error) {
	res, err := b.post(ctx, req, false)
	if err != nil {
		return Result{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ParseResult(string(body))
	}
	return ParseResult(extractText(obj))
}

func (b *HTTPBackend) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (Result, error) {
	res, err := b.post(ctx, req, true)
	if err != nil {
		return Result{}, err
	}
	defer res.Body.Close()

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") {
		return b.consumeSSE(res.Body, onDelta)
	}
	return b.consumeNDJSON(res.Body, onDelta)
}

func (b *HTTPBackend) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	req = req.withDefaults()
	payload, err := json.Marshal(ollamaRequest{
		Model:  b.model,
		Prompt: req.Prompt,
		System: req.SystemMessage,
		Stream: stream,
		Format: "json",
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	})
	if err != nil {
		return nil, reliability.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, reliability.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, classifyStatus(res.StatusCode, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))})
	}
	return res, nil
}

// Ping checks that the server answers its model listing.
func (b *HTTPBackend) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	res, err := b.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &StatusError{Code: res.StatusCode}
	}
	return nil
}

func (b *HTTPBackend) consumeNDJSON(body io.Reader, onDelta DeltaHandler) (Result, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	acc := &streamAccumulator{onDelta: onDelta}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			if b.strict {
				return Result{}, fmt.Errorf("%w: invalid stream line %q", ErrMalformedResponse, line)
			}
			if err := acc.add(line); err != nil {
				return Result{}, err
			}
			continue
		}
		if msg, ok := obj["error"].(string); ok && msg != "" {
			return Result{}, fmt.Errorf("generation stream error: %s", msg)
		}
		if err := acc.add(extractText(obj)); err != nil {
			return Result{}, err
		}
		if done, _ := obj["done"].(bool); done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("stream read: %w", err)
	}
	return acc.result()
}

func (b *HTTPBackend) consumeSSE(body io.Reader, onDelta DeltaHandler) (Result, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	acc := &streamAccumulator{onDelta: onDelta}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(data), &obj); err != nil {
			if b.strict {
				return Result{}, fmt.Errorf("%w: invalid event %q", ErrMalformedResponse, data)
			}
			if err := acc.add(data); err != nil {
				return Result{}, err
			}
			continue
		}
		if err := acc.add(extractText(obj)); err != nil {
			return Result{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("stream read: %w", err)
	}
	return acc.result()
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"response", "text", "delta", "output"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// classifyStatus marks statuses that will not improve on retry as permanent.
func classifyStatus(code int, err error) error {
	if code == 0 || reliability.IsRetryableHTTPStatus(code) {
		return reliability.Transport(err)
	}
	return reliability.Permanent(err)
}
