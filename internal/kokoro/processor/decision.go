package processor

import (
	"strings"

	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

// Decision is the structured answer a MasterProcessor asks the backend for.
type Decision struct {
	ContentType         string            `json:"contentType"`
	DelegateToProcessor *string           `json:"delegateToProcessor"`
	Summary             string            `json:"summary"`
	Topics              []string          `json:"topics"`
	Sentiment           string            `json:"sentiment"`
	Entities            []string          `json:"entities"`
	Intent              string            `json:"intent"`
	TimeContext         string            `json:"timeContext"`
	Confidence          float64           `json:"confidence"`
	SuggestedOutputs    []SuggestedOutput `json:"suggestedOutputs"`
	UpdateTasks         []UpdateTask      `json:"updateTasks"`
}

// delegate returns the trimmed child name, or "" when the decision keeps
// the content.
func (d Decision) delegate() string {
	if d.DelegateToProcessor == nil {
		return ""
	}
	return strings.TrimSpace(*d.DelegateToProcessor)
}

var stringList = map[string]any{
	"type":  "array",
	"items": map[string]any{"type": "string"},
}

// DecisionSchema validates backend output for a Decision.
var DecisionSchema = schema.MustNew("processor_decision", map[string]any{
	"type":     "object",
	"required": []any{"contentType", "summary", "sentiment"},
	"properties": map[string]any{
		"contentType":         map[string]any{"type": "string", "minLength": 1},
		"delegateToProcessor": map[string]any{"type": []any{"string", "null"}},
		"summary":             map[string]any{"type": "string"},
		"topics":              stringList,
		"sentiment": map[string]any{
			"type": "string",
			"enum": []any{SentimentPositive, SentimentNeutral, SentimentNegative, SentimentMixed},
		},
		"entities":    stringList,
		"intent":      map[string]any{"type": "string"},
		"timeContext": map[string]any{"type": "string"},
		"confidence":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"suggestedOutputs": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"name", "confidence"},
				"properties": map[string]any{
					"name":       map[string]any{"type": "string"},
					"data":       map[string]any{"type": "object"},
					"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"reasoning":  map[string]any{"type": "string"},
				},
			},
		},
		"updateTasks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"description"},
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"interval":    map[string]any{"type": "string"},
					"output":      map[string]any{"type": "string"},
				},
			},
		},
	},
})
