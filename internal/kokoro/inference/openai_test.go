package inference_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bdobrica/kokoro/common/retry"
	"github.com/bdobrica/kokoro/internal/kokoro/inference"
	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

var moodSchema = schema.MustNew("mood", map[string]any{
	"type":     "object",
	"required": []any{"mood"},
	"properties": map[string]any{
		"mood": map[string]any{"type": "string"},
	},
})

type mood struct {
	Mood string `json:"mood"`
}

func chatResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	})
	return string(b)
}

func newBackend(url string) *inference.OpenAIBackend {
	return inference.NewOpenAI(inference.OpenAIConfig{
		APIKey:  "sk-test-key",
		BaseURL: url,
		Model:   "test-model",
		Retry:   retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
}

func TestOpenAI_EvaluateSendsSchema(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test-key" {
			t.Errorf("auth header: got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		io.WriteString(w, chatResponse(`{"mood":"calm"}`))
	}))
	defer srv.Close()

	got, err := inference.Evaluate[mood](context.Background(), newBackend(srv.URL), "how are you", "be brief", moodSchema)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Mood != "calm" {
		t.Errorf("mood: got %q", got.Mood)
	}

	if captured["model"] != "test-model" {
		t.Errorf("model: got %v", captured["model"])
	}
	rf, _ := captured["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Errorf("response_format.type: got %v", rf["type"])
	}
	js, _ := rf["json_schema"].(map[string]any)
	if js["name"] != "mood" {
		t.Errorf("json_schema.name: got %v", js["name"])
	}
	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(msgs))
	}
}

func TestOpenAI_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			return
		}
		io.WriteString(w, chatResponse(`{"mood":"patient"}`))
	}))
	defer srv.Close()

	got, err := inference.Evaluate[mood](context.Background(), newBackend(srv.URL), "p", "", moodSchema)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Mood != "patient" || calls.Load() != 2 {
		t.Errorf("got %q after %d calls", got.Mood, calls.Load())
	}
}

func TestOpenAI_APIErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad model sk-test-key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	_, err := newBackend(srv.URL).Evaluate(context.Background(), "p", "", moodSchema)
	if !errors.Is(err, inference.ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
	if got := err.Error(); strings.Contains(got, "sk-test-key") {
		t.Errorf("API key leaked in error: %q", got)
	}
}

func TestOpenAI_MalformedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, chatResponse(`{"feeling":"calm"}`))
	}))
	defer srv.Close()

	_, err := inference.Evaluate[mood](context.Background(), newBackend(srv.URL), "p", "", moodSchema)
	if !errors.Is(err, inference.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
	if !errors.Is(err, schema.ErrInvalid) {
		t.Errorf("expected schema.ErrInvalid in chain, got %v", err)
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := newBackend(srv.URL).Evaluate(context.Background(), "p", "", moodSchema)
	if !errors.Is(err, inference.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestEvaluate_NilBackend(t *testing.T) {
	_, err := inference.Evaluate[mood](context.Background(), nil, "p", "", moodSchema)
	if !errors.Is(err, inference.ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
}

func TestStaticAndFailing(t *testing.T) {
	got, err := inference.Evaluate[mood](context.Background(), inference.Static(mood{Mood: "fine"}), "p", "", moodSchema)
	if err != nil || got.Mood != "fine" {
		t.Fatalf("Static: got (%+v, %v)", got, err)
	}

	sentinel := errors.New("down")
	if _, err := inference.Evaluate[mood](context.Background(), inference.Failing(sentinel), "p", "", moodSchema); !errors.Is(err, sentinel) {
		t.Fatalf("Failing: expected sentinel, got %v", err)
	}
}
