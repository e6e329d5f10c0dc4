package processor

import (
	"strings"
	"unicode/utf8"
)

// Sentiments accepted in a decision.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentMixed    = "mixed"
)

// degradedSummaryRunes bounds the raw-content summary of a degraded result.
const degradedSummaryRunes = 200

// ProcessedResult is what a processor hands back to its caller. It is not
// persisted as such; the pipeline records an outcome memory from it.
type ProcessedResult struct {
	Content          string            `json:"content"`
	Metadata         ResultMetadata    `json:"metadata"`
	EnrichedContext  EnrichedContext   `json:"enrichedContext"`
	UpdateTasks      []UpdateTask      `json:"updateTasks"`
	SuggestedOutputs []SuggestedOutput `json:"suggestedOutputs"`
	AlreadyProcessed bool              `json:"alreadyProcessed"`
}

// ResultMetadata is the classification context of a result.
type ResultMetadata struct {
	ContentType string   `json:"contentType"`
	Processor   string   `json:"processor"`
	Confidence  float64  `json:"confidence"`
	Path        []string `json:"path,omitempty"` // processors visited, root first
	Degraded    bool     `json:"degraded,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// EnrichedContext is the enrichment extracted from the content.
type EnrichedContext struct {
	Summary          string   `json:"summary"`
	Topics           []string `json:"topics"`
	Sentiment        string   `json:"sentiment"`
	Entities         []string `json:"entities"`
	Intent           string   `json:"intent,omitempty"`
	TimeContext      string   `json:"timeContext,omitempty"`
	RelatedMemories  []string `json:"relatedMemories,omitempty"` // memory ids
	AvailableOutputs []string `json:"availableOutputs"`
}

// UpdateTask is a recurring action proposed by a processor.
type UpdateTask struct {
	Description string `json:"description"`
	Interval    string `json:"interval,omitempty"`
	Output      string `json:"output,omitempty"`
}

// SuggestedOutput is a proposed action on one of the registered outputs.
type SuggestedOutput struct {
	Name       string         `json:"name"`
	Data       map[string]any `json:"data"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

// Degraded returns the neutral result used when classification fails.
func Degraded(content, processorName string, err error, availableOutputs []string) ProcessedResult {
	res := ProcessedResult{
		Content: content,
		Metadata: ResultMetadata{
			ContentType: "unknown",
			Processor:   processorName,
			Degraded:    true,
		},
		EnrichedContext: EnrichedContext{
			Summary:          truncateRunes(strings.TrimSpace(content), degradedSummaryRunes),
			Topics:           []string{},
			Sentiment:        SentimentNeutral,
			Entities:         []string{},
			AvailableOutputs: availableOutputs,
		},
		UpdateTasks:      []UpdateTask{},
		SuggestedOutputs: []SuggestedOutput{},
	}
	if err != nil {
		res.Metadata.Error = err.Error()
	}
	return res
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
