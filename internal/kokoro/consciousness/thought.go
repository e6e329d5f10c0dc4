package consciousness

import (
	"time"

	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

// Source is the Source of every Thought.
const Source = "consciousness"

// TypeError marks a Thought that stands in for a failed generation.
const TypeError = "error"

// Thought types the backend may choose from.
var ThoughtTypes = []string{"reflection", "question", "plan", "observation", "idea"}

// ActionCategories are the suggested-action types offered to the backend.
var ActionCategories = []string{"research", "post", "reach_out", "reflect", "learn", "create"}

// Thought is one self-directed unit of content.
type Thought struct {
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  ThoughtMetadata `json:"metadata"`
}

// ThoughtMetadata carries the structured parts of a thought.
type ThoughtMetadata struct {
	Reasoning        string            `json:"reasoning,omitempty"`
	Context          ThoughtContext    `json:"context"`
	SuggestedActions []SuggestedAction `json:"suggestedActions,omitempty"`

	// MemoryID is the id of the memory the thought was saved as, empty when
	// saving failed.
	MemoryID string `json:"memoryId,omitempty"`

	Error string `json:"error,omitempty"`
}

// ThoughtContext situates a thought.
type ThoughtContext struct {
	Topic       string `json:"topic"`
	Timeframe   string `json:"timeframe,omitempty"`
	Reliability string `json:"reliability,omitempty"`
}

// SuggestedAction is something the thought proposes doing.
type SuggestedAction struct {
	Type        string `json:"type"`
	Platform    string `json:"platform,omitempty"`
	Description string `json:"description"`
}

// generated is the backend's answer.
type generated struct {
	ThoughtType      string            `json:"thoughtType"`
	Thought          string            `json:"thought"`
	Reasoning        string            `json:"reasoning"`
	Context          ThoughtContext    `json:"context"`
	SuggestedActions []SuggestedAction `json:"suggestedActions"`
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ThoughtSchema validates backend output for a thought.
var ThoughtSchema = schema.MustNew("consciousness_thought", map[string]any{
	"type":     "object",
	"required": []any{"thoughtType", "thought", "reasoning", "context", "suggestedActions"},
	"properties": map[string]any{
		"thoughtType": map[string]any{"type": "string", "enum": stringsToAny(ThoughtTypes)},
		"thought":     map[string]any{"type": "string", "minLength": 1},
		"reasoning":   map[string]any{"type": "string"},
		"context": map[string]any{
			"type":     "object",
			"required": []any{"topic"},
			"properties": map[string]any{
				"topic":       map[string]any{"type": "string"},
				"timeframe":   map[string]any{"type": "string"},
				"reliability": map[string]any{"type": "string", "enum": []any{"low", "medium", "high"}},
			},
		},
		"suggestedActions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"type", "description"},
				"properties": map[string]any{
					"type":        map[string]any{"type": "string", "enum": stringsToAny(ActionCategories)},
					"platform":    map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
			},
		},
	},
})
