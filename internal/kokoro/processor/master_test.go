package processor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/kokoro/internal/kokoro/inference"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

var replySchema = schema.MustNew("reply", map[string]any{
	"type":     "object",
	"required": []any{"text"},
	"properties": map[string]any{
		"text": map[string]any{"type": "string"},
	},
})

func testOutputs(t *testing.T) *Outputs {
	t.Helper()
	o, err := NewOutputs(Output{Name: "reply", Description: "Reply in the room", Schema: replySchema})
	if err != nil {
		t.Fatalf("NewOutputs: %v", err)
	}
	return o
}

// decisionJSON builds a minimal valid decision; delegate "" means null.
func decisionJSON(contentType, delegate string) map[string]any {
	d := map[string]any{
		"contentType":         contentType,
		"summary":             contentType + " summary",
		"sentiment":           SentimentPositive,
		"delegateToProcessor": nil,
	}
	if delegate != "" {
		d["delegateToProcessor"] = delegate
	}
	return d
}

// countingBackend answers with v and counts calls.
func countingBackend(v any, calls *atomic.Int32) inference.Backend {
	return inference.Func(func(context.Context, string, string, *schema.Schema) (json.RawMessage, error) {
		calls.Add(1)
		return json.Marshal(v)
	})
}

func TestMaster_GreetingScenario(t *testing.T) {
	p := NewMaster(MasterConfig{Name: "root", MaxContentLength: 1000, Outputs: testOutputs(t)},
		inference.Static(decisionJSON("greeting", "")), nil)

	if !p.CanHandle("hello") {
		t.Fatal("5-char content must be accepted under a 1000-char threshold")
	}
	res := p.Process(context.Background(), "hello", "", IOContext{})

	if res.Metadata.ContentType != "greeting" {
		t.Errorf("contentType: got %q", res.Metadata.ContentType)
	}
	if res.AlreadyProcessed {
		t.Error("alreadyProcessed should be false")
	}
	if res.Metadata.Degraded {
		t.Errorf("unexpected degraded result: %s", res.Metadata.Error)
	}
	if res.Content != "hello" {
		t.Errorf("content: %q", res.Content)
	}
	if diff := cmp.Diff([]string{"root"}, res.Metadata.Path); diff != "" {
		t.Errorf("path (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"reply"}, res.EnrichedContext.AvailableOutputs); diff != "" {
		t.Errorf("available outputs (-want +got):\n%s", diff)
	}
}

func TestMaster_CanHandleThreshold(t *testing.T) {
	p := NewMaster(MasterConfig{Name: "short", MaxContentLength: 3}, nil, nil)
	tests := []struct {
		content string
		want    bool
	}{
		{"", true},
		{"abc", true},
		{"äöü", true},
		{"abcd", false},
	}
	for _, tt := range tests {
		if got := p.CanHandle(tt.content); got != tt.want {
			t.Errorf("CanHandle(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}

	unlimited := NewMaster(MasterConfig{Name: "any"}, nil, nil)
	if !unlimited.CanHandle(strings.Repeat("x", 100000)) {
		t.Error("zero threshold should accept anything")
	}
}

func TestMaster_BackendFailureDegrades(t *testing.T) {
	p := NewMaster(MasterConfig{Name: "root", Outputs: testOutputs(t)},
		inference.Failing(errors.New("model exploded")), nil)

	res := p.Process(context.Background(), "hello there", "", IOContext{})

	if res.EnrichedContext.Sentiment != SentimentNeutral {
		t.Errorf("sentiment: got %q", res.EnrichedContext.Sentiment)
	}
	if len(res.SuggestedOutputs) != 0 {
		t.Errorf("suggested outputs: got %d", len(res.SuggestedOutputs))
	}
	if !res.Metadata.Degraded || !strings.Contains(res.Metadata.Error, "model exploded") {
		t.Errorf("metadata: %+v", res.Metadata)
	}
	if res.EnrichedContext.Summary != "hello there" {
		t.Errorf("summary: %q", res.EnrichedContext.Summary)
	}
}

func TestMaster_MalformedDecisionDegrades(t *testing.T) {
	tests := []struct {
		name string
		v    any
	}{
		{"wrong type", map[string]any{"contentType": 5, "summary": "x", "sentiment": "neutral"}},
		{"missing summary", map[string]any{"contentType": "x", "sentiment": "neutral"}},
		{"bad sentiment", map[string]any{"contentType": "x", "summary": "x", "sentiment": "ecstatic"}},
		{"not an object", []string{"nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewMaster(MasterConfig{Name: "root"}, inference.Static(tt.v), nil)
			res := p.Process(context.Background(), "content", "", IOContext{})
			if !res.Metadata.Degraded {
				t.Errorf("expected degraded result, got %+v", res.Metadata)
			}
			if res.EnrichedContext.Sentiment != SentimentNeutral {
				t.Errorf("sentiment: %q", res.EnrichedContext.Sentiment)
			}
		})
	}
}

func TestMaster_NilBackendDegrades(t *testing.T) {
	p := NewMaster(MasterConfig{Name: "root"}, nil, nil)
	res := p.Process(context.Background(), "content", "", IOContext{})
	if !res.Metadata.Degraded {
		t.Error("expected degraded result without a backend")
	}
}

func TestMaster_DelegatesToChild(t *testing.T) {
	var rootCalls atomic.Int32
	root := NewMaster(MasterConfig{Name: "root"}, countingBackend(decisionJSON("news", "news"), &rootCalls), nil)
	child := newStub("news", true)
	if err := root.AddChild(child); err != nil {
		t.Fatal(err)
	}

	res := root.Process(context.Background(), "markets fell today", "earlier context", IOContext{})

	if child.calls.Load() != 1 {
		t.Fatalf("child calls: %d", child.calls.Load())
	}
	if res.Metadata.Processor != "news" {
		t.Errorf("result should come from the child, got %q", res.Metadata.Processor)
	}
	if child.gotContent != "markets fell today" {
		t.Errorf("child got content %q", child.gotContent)
	}
	want := "earlier context\nroot summary: news summary"
	if child.gotContext != want {
		t.Errorf("child context:\n got %q\nwant %q", child.gotContext, want)
	}
}

func TestMaster_ChildDeclinesParentFinalises(t *testing.T) {
	var rootCalls atomic.Int32
	root := NewMaster(MasterConfig{Name: "root"}, countingBackend(decisionJSON("long-read", "digest"), &rootCalls), nil)
	child := newStub("digest", false)
	if err := root.AddChild(child); err != nil {
		t.Fatal(err)
	}

	res := root.Process(context.Background(), "content", "", IOContext{})

	if child.calls.Load() != 0 {
		t.Error("a child that cannot handle the content must not be called")
	}
	if res.Metadata.Processor != "root" || res.Metadata.ContentType != "long-read" {
		t.Errorf("parent should finalise, got %+v", res.Metadata)
	}
}

func TestMaster_UnknownChildParentFinalises(t *testing.T) {
	root := NewMaster(MasterConfig{Name: "root"}, inference.Static(decisionJSON("x", "ghost")), nil)
	res := root.Process(context.Background(), "content", "", IOContext{})
	if res.Metadata.Processor != "root" || res.Metadata.Degraded {
		t.Errorf("expected root to finalise, got %+v", res.Metadata)
	}
}

func TestMaster_DelegationCycleStops(t *testing.T) {
	var aCalls, bCalls atomic.Int32
	a := NewMaster(MasterConfig{Name: "a"}, countingBackend(decisionJSON("a", "b"), &aCalls), nil)
	b := NewMaster(MasterConfig{Name: "b"}, countingBackend(decisionJSON("b", "a"), &bCalls), nil)
	if err := a.AddChild(b); err != nil {
		t.Fatal(err)
	}
	if err := b.AddChild(a); err != nil {
		t.Fatal(err)
	}

	done := make(chan ProcessedResult, 1)
	go func() { done <- a.Process(context.Background(), "ping", "", IOContext{}) }()

	select {
	case res := <-done:
		if res.Metadata.Processor != "b" {
			t.Errorf("b should finalise on the cycle, got %q", res.Metadata.Processor)
		}
		if diff := cmp.Diff([]string{"a", "b"}, res.Metadata.Path); diff != "" {
			t.Errorf("path (-want +got):\n%s", diff)
		}
		if aCalls.Load() != 1 || bCalls.Load() != 1 {
			t.Errorf("backend calls: a=%d b=%d", aCalls.Load(), bCalls.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delegation cycle did not terminate")
	}
}

func TestMaster_HopBudget(t *testing.T) {
	names := []string{"p0", "p1", "p2", "p3", "p4"}
	procs := make([]*MasterProcessor, len(names))
	for i, name := range names {
		next := ""
		if i+1 < len(names) {
			next = names[i+1]
		}
		cfg := MasterConfig{Name: name}
		if i == 0 {
			cfg.MaxHops = 2
		}
		procs[i] = NewMaster(cfg, inference.Static(decisionJSON(name, next)), nil)
	}
	for i := 0; i+1 < len(procs); i++ {
		if err := procs[i].AddChild(procs[i+1]); err != nil {
			t.Fatal(err)
		}
	}

	res := procs[0].Process(context.Background(), "x", "", IOContext{})
	if res.Metadata.Processor != "p2" {
		t.Errorf("budget of 2 should stop at p2, got %q", res.Metadata.Processor)
	}
	if diff := cmp.Diff([]string{"p0", "p1", "p2"}, res.Metadata.Path); diff != "" {
		t.Errorf("path (-want +got):\n%s", diff)
	}
}

func TestMaster_FiltersUnknownOutputs(t *testing.T) {
	d := decisionJSON("question", "")
	d["confidence"] = 0.9
	d["suggestedOutputs"] = []any{
		map[string]any{"name": "reply", "data": map[string]any{"text": "hi"}, "confidence": 0.9},
		map[string]any{"name": "tweet", "data": map[string]any{}, "confidence": 0.8},
	}
	d["updateTasks"] = []any{map[string]any{"description": "check back tomorrow", "interval": "24h"}}

	p := NewMaster(MasterConfig{Name: "root", Outputs: testOutputs(t)}, inference.Static(d), nil)
	res := p.Process(context.Background(), "what's new?", "", IOContext{})

	if len(res.SuggestedOutputs) != 1 || res.SuggestedOutputs[0].Name != "reply" {
		t.Errorf("suggested outputs: %+v", res.SuggestedOutputs)
	}
	if res.Metadata.Confidence != 0.9 {
		t.Errorf("confidence: %v", res.Metadata.Confidence)
	}
	want := []UpdateTask{{Description: "check back tomorrow", Interval: "24h"}}
	if diff := cmp.Diff(want, res.UpdateTasks); diff != "" {
		t.Errorf("update tasks (-want +got):\n%s", diff)
	}
}

func TestMaster_PromptContents(t *testing.T) {
	var gotPrompt, gotSystem string
	backend := inference.Func(func(_ context.Context, prompt, system string, s *schema.Schema) (json.RawMessage, error) {
		gotPrompt, gotSystem = prompt, system
		if s != DecisionSchema {
			t.Errorf("unexpected schema %v", s.Name())
		}
		return json.Marshal(decisionJSON("x", ""))
	})

	p := NewMaster(MasterConfig{
		Name:     "root",
		Persona:  "You are Kokoro, a calm observer.",
		Guidance: "Prefer short replies.",
		Outputs:  testOutputs(t),
	}, backend, nil)

	io := IOContext{
		Platform: "matrix",
		Author:   "@alice:test",
		Related: []memory.Memory{{
			ID:        "m1",
			Content:   "we talked about the weather",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
	}
	res := p.Process(context.Background(), "is it raining?", "prior notes", io)

	for _, want := range []string{
		"is it raining?",
		"prior notes",
		"Prefer short replies.",
		"reply",
		`"text"`,
		"we talked about the weather",
		"@alice:test",
		"delegateToProcessor must be null",
	} {
		if !strings.Contains(gotPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.HasPrefix(gotSystem, "You are Kokoro, a calm observer.") {
		t.Errorf("system prompt should lead with the persona: %q", gotSystem)
	}
	if diff := cmp.Diff([]string{"m1"}, res.EnrichedContext.RelatedMemories); diff != "" {
		t.Errorf("related memories (-want +got):\n%s", diff)
	}
}

func TestAppendContext(t *testing.T) {
	tests := []struct {
		name, ctx, summary, want string
	}{
		{"empty context", "", "s1", "root summary: s1"},
		{"accumulates", "a", "s1", "a\nroot summary: s1"},
		{"blank summary keeps context", "a", "  ", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := appendContext(tt.ctx, "root", tt.summary); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
