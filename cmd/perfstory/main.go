package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

type options struct {
	baseURL        string
	playerName     string
	ageRange       string
	theme          string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	inputs         []string
	verbose        bool
}

type startRequest struct {
	PlayerName string `json:"player_name"`
	AgeRange   string `json:"age_range"`
	Theme      string `json:"theme"`
}

type continueRequest struct {
	SessionID   string `json:"session_id"`
	ChoiceID    string `json:"choice_id,omitempty"`
	ChoiceText  string `json:"choice_text,omitempty"`
	CustomInput string `json:"custom_input,omitempty"`
	Summary     string `json:"story_summary,omitempty"`
}

type storyResponse struct {
	SessionID string `json:"session_id"`
	Choices   []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"choices"`
	Summary  string `json:"story_summary"`
	Metadata struct {
		Turn       int  `json:"turn"`
		IsFinished bool `json:"is_finished"`
		Fallback   bool `json:"safe_fallback"`
	} `json:"metadata"`
}

type turnSample struct {
	turn     int
	latency  time.Duration
	fallback bool
}

var defaultInputs = []string{
	"look for a friendly map",
	"sing a happy song",
	"ask a new friend for help",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfstory: %v\n", err)
		os.Exit(2)
	}
	samples, err := run(context.Background(), cfg, &http.Client{Timeout: cfg.turnTimeout})
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfstory: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(summarize(samples))
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var inputsRaw string
	fs := flag.NewFlagSet("perfstory", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "StoryQuest base URL")
	fs.StringVar(&cfg.playerName, "player-name", "Perf Kid", "player_name for the synthetic session")
	fs.StringVar(&cfg.ageRange, "age-range", "6-8", "age_range for the synthetic session")
	fs.StringVar(&cfg.theme, "theme", "space_adventure", "story theme")
	fs.IntVar(&cfg.turns, "turns", 10, "number of continue calls to replay")
	fs.DurationVar(&cfg.interTurnDelay, "inter-turn", 100*time.Millisecond, "delay between turns")
	fs.DurationVar(&cfg.turnTimeout, "turn-timeout", 60*time.Second, "timeout for a single request")
	fs.StringVar(&inputsRaw, "inputs", "", "custom inputs separated by '|', used on every third turn")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.turnTimeout < time.Second {
		cfg.turnTimeout = time.Second
	}
	if cfg.interTurnDelay < 0 {
		cfg.interTurnDelay = 0
	}

	if strings.TrimSpace(inputsRaw) == "" {
		cfg.inputs = append([]string(nil), defaultInputs...)
	} else {
		for _, part := range strings.Split(inputsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.inputs = append(cfg.inputs, t)
			}
		}
		if len(cfg.inputs) == 0 {
			return options{}, fmt.Errorf("inputs produced no non-empty entries")
		}
	}
	return cfg, nil
}

// run starts one session and continues it until turns are used up or the story ends.
func run(ctx context.Context, cfg options, client *http.Client) ([]turnSample, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	var current storyResponse
	start := time.Now()
	if err := postJSON(ctx, client, cfg.baseURL+"/api/v1/story/start", startRequest{
		PlayerName: cfg.playerName,
		AgeRange:   cfg.ageRange,
		Theme:      cfg.theme,
	}, http.StatusCreated, &current); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	samples := []turnSample{{turn: 0, latency: time.Since(start), fallback: current.Metadata.Fallback}}
	defer func() {
		_ = postJSON(context.Background(), client, cfg.baseURL+"/api/v1/story/reset?session_id="+current.SessionID, nil, http.StatusNoContent, nil)
	}()
	if cfg.verbose {
		fmt.Printf("perfstory: session=%s turns=%d\n", current.SessionID, cfg.turns)
	}

	for i := 0; i < cfg.turns && !current.Metadata.IsFinished; i++ {
		req := continueRequest{SessionID: current.SessionID, Summary: current.Summary}
		if i%3 == 2 || len(current.Choices) == 0 {
			req.CustomInput = cfg.inputs[i%len(cfg.inputs)]
		} else {
			choice := current.Choices[i%len(current.Choices)]
			req.ChoiceID, req.ChoiceText = choice.ID, choice.Text
		}

		began := time.Now()
		var next storyResponse
		if err := postJSON(ctx, client, cfg.baseURL+"/api/v1/story/continue", req, http.StatusOK, &next); err != nil {
			return samples, fmt.Errorf("turn %d: %w", i+1, err)
		}
		current = next
		samples = append(samples, turnSample{turn: next.Metadata.Turn, latency: time.Since(began), fallback: next.Metadata.Fallback})
		if cfg.verbose {
			fmt.Printf("perfstory: turn %d latency=%s fallback=%t\n", next.Metadata.Turn, samples[len(samples)-1].latency.Round(time.Millisecond), next.Metadata.Fallback)
		}
		if cfg.interTurnDelay > 0 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	return samples, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body any, wantStatus int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != wantStatus {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func summarize(samples []turnSample) string {
	if len(samples) == 0 {
		return "perfstory: no samples"
	}
	latencies := make([]time.Duration, len(samples))
	fallbacks := 0
	for i, s := range samples {
		latencies[i] = s.latency
		if s.fallback {
			fallbacks++
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	return fmt.Sprintf("perfstory: samples=%d p50=%s p95=%s max=%s fallbacks=%d",
		len(samples),
		percentile(latencies, 0.50).Round(time.Millisecond),
		percentile(latencies, 0.95).Round(time.Millisecond),
		latencies[len(latencies)-1].Round(time.Millisecond),
		fallbacks,
	)
}

// percentile expects sorted input and uses nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted))*p+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
