package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bdobrica/kokoro/internal/kokoro/config"
	"github.com/bdobrica/kokoro/internal/kokoro/consciousness"
	"github.com/bdobrica/kokoro/internal/kokoro/inference"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
	"github.com/bdobrica/kokoro/internal/kokoro/processor"
	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

// scriptedBackend answers decisions and thoughts by schema name.
var scriptedBackend = inference.Func(func(_ context.Context, _, _ string, s *schema.Schema) (json.RawMessage, error) {
	if s.Name() == consciousness.ThoughtSchema.Name() {
		return json.Marshal(map[string]any{
			"thoughtType":      "reflection",
			"thought":          "quiet day",
			"reasoning":        "nothing happened",
			"context":          map[string]any{"topic": "self"},
			"suggestedActions": []any{},
		})
	}
	return json.Marshal(map[string]any{
		"contentType":         "greeting",
		"delegateToProcessor": nil,
		"summary":             "hello",
		"sentiment":           processor.SentimentNeutral,
	})
})

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.DatabasePath = ":memory:"
	cfg.Consciousness.Enabled = false
	return cfg
}

func TestNew_HandlesContentWithoutPlatforms(t *testing.T) {
	a, err := New(testConfig(), Options{Backend: scriptedBackend})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	res, err := a.Pipeline().Handle(context.Background(), Inbound{
		Platform:   "cli",
		PlatformID: "local",
		Content:    "hello",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Metadata.ContentType != "greeting" || res.Metadata.Processor != "master" {
		t.Errorf("result metadata = %+v", res.Metadata)
	}
	if convs := a.Memory().ListConversations(context.Background()); len(convs) != 1 {
		t.Errorf("conversations = %d, want 1", len(convs))
	}
}

func TestNew_ProcessorTreeFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Processors = []config.ProcessorConfig{{
		Name: "root",
		Children: []config.ProcessorConfig{
			{Name: "code", Children: []config.ProcessorConfig{{Name: "go"}}},
			{Name: "chat"},
		},
	}}
	roots, err := BuildProcessors(cfg.Processors, scriptedBackend, "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 1 {
		t.Fatalf("roots = %d", len(roots))
	}
	code := roots[0].Child("code")
	if code == nil || code.Child("go") == nil || roots[0].Child("chat") == nil {
		t.Error("tree not built as configured")
	}
}

func TestNew_BadCharacterFile(t *testing.T) {
	cfg := testConfig()
	path := filepath.Join(t.TempDir(), "persona.yaml")
	if err := os.WriteFile(path, []byte("name: \"\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.CharacterFile = path
	if _, err := New(cfg, Options{Backend: scriptedBackend}); err == nil {
		t.Fatal("expected error for invalid character")
	}
}

func TestRun_ThinksAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig()
	cfg.Consciousness.Enabled = true
	cfg.Consciousness.Interval = time.Hour
	cfg.HTTPAddr = "127.0.0.1:0"
	a, err := New(cfg, Options{Backend: scriptedBackend})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// The loop thinks once on start.
	selfID := consciousness.ConversationID()
	deadline := time.Now().Add(5 * time.Second)
	var mems []memory.Memory
	for time.Now().Before(deadline) {
		mems, _ = a.Memory().GetMemoriesFromConversation(context.Background(), selfID, 0)
		if len(mems) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(mems) == 0 || mems[0].Content != "quiet day" {
		t.Errorf("self conversation = %+v, want the first thought", mems)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
