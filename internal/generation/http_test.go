package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/storyquest/internal/reliability"
)

const storyJSON = `{"scene_text":"A turtle smiles.","choices":["Swim","Sing","Nap"],"story_summary_update":"Met a turtle."}`

func TestHTTPBackendGenerate(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"response": storyJSON, "done": true})
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL+"/", "llama3.2:3b", time.Second)
	res, err := b.Generate(context.Background(), Request{Prompt: "once", SystemMessage: "be kind"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.SceneText != "A turtle smiles." || len(res.Choices) != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got.Model != "llama3.2:3b" || got.Prompt != "once" || got.System != "be kind" || got.Stream {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Options["num_predict"] != float64(DefaultMaxTokens) {
		t.Fatalf("num_predict = %v, want %d", got.Options["num_predict"], DefaultMaxTokens)
	}
}

func TestHTTPBackendStatusClassification(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", status)
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, "m", time.Second)
	_, err := b.Generate(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatalf("Generate() expected error")
	}
	if reliability.ClassOf(err) != reliability.ClassTransport {
		t.Fatalf("503 class = %v, want transport", reliability.ClassOf(err))
	}

	status = http.StatusNotFound
	_, err = b.Generate(context.Background(), Request{Prompt: "x"})
	if reliability.ClassOf(err) != reliability.ClassPermanent {
		t.Fatalf("404 class = %v, want permanent", reliability.ClassOf(err))
	}
}

func TestHTTPBackendConsumeNDJSON(t *testing.T) {
	b := NewHTTPBackend("http://example.test", "m", time.Second)
	half := len(storyJSON) / 2
	first, _ := json.Marshal(map[string]any{"response": storyJSON[:half], "done": false})
	second, _ := json.Marshal(map[string]any{"response": storyJSON[half:], "done": true})
	stream := strings.NewReader(string(first) + "\n" + string(second) + "\n")

	var deltas []string
	res, err := b.consumeNDJSON(stream, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("consumeNDJSON() error = %v", err)
	}
	if res.SceneText != "A turtle smiles." {
		t.Fatalf("SceneText = %q", res.SceneText)
	}
	if len(deltas) != 2 || strings.Join(deltas, "") != storyJSON {
		t.Fatalf("deltas = %q", deltas)
	}
}

func TestHTTPBackendConsumeNDJSONStrictInvalidJSON(t *testing.T) {
	b := NewHTTPBackendWithOptions("http://example.test", "m", time.Second, true)
	_, err := b.consumeNDJSON(strings.NewReader("not-json\n"), nil)
	if err == nil {
		t.Fatalf("consumeNDJSON() expected error for strict invalid payload")
	}
}

func TestHTTPBackendConsumeSSE(t *testing.T) {
	b := NewHTTPBackend("http://example.test", "m", time.Second)
	delta, _ := json.Marshal(map[string]any{"delta": storyJSON})
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		"data: " + string(delta),
		"",
		"data: [DONE]",
		"",
	}, "\n"))

	res, err := b.consumeSSE(stream, nil)
	if err != nil {
		t.Fatalf("consumeSSE() error = %v", err)
	}
	if res.SummaryUpdate != "Met a turtle." {
		t.Fatalf("SummaryUpdate = %q", res.SummaryUpdate)
	}
}

func TestHTTPBackendStreamErrorLine(t *testing.T) {
	b := NewHTTPBackend("http://example.test", "m", time.Second)
	_, err := b.consumeNDJSON(strings.NewReader(`{"error":"model not loaded"}`+"\n"), nil)
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("consumeNDJSON() error = %v", err)
	}
}

func TestHTTPBackendPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	if err := NewHTTPBackend(srv.URL, "m", time.Second).Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}
