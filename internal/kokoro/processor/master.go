package processor

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/bdobrica/kokoro/internal/kokoro/inference"
)

// MasterConfig configures a MasterProcessor.
type MasterConfig struct {
	Name string

	// MaxContentLength is the CanHandle threshold in runes. Zero accepts
	// content of any length.
	MaxContentLength int

	// Persona is prepended to the system prompt.
	Persona string

	// Guidance is domain advice included in every decision prompt.
	Guidance string

	Outputs *Outputs

	// MaxHops bounds delegation for calls that enter the tree here.
	// Defaults to DefaultMaxHops.
	MaxHops int
}

// MasterProcessor classifies content through the inference backend and
// either finalises or delegates to one of its children.
type MasterProcessor struct {
	*Base
	cfg     MasterConfig
	backend inference.Backend
	logger  *slog.Logger
}

// NewMaster returns a MasterProcessor. If logger is nil, the default slog
// logger is used.
func NewMaster(cfg MasterConfig, backend inference.Backend, logger *slog.Logger) *MasterProcessor {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MasterProcessor{
		Base:    NewBase(cfg.Name),
		cfg:     cfg,
		backend: backend,
		logger:  logger.With("processor", cfg.Name),
	}
}

// CanHandle accepts content up to MaxContentLength runes.
func (m *MasterProcessor) CanHandle(content string) bool {
	return m.cfg.MaxContentLength <= 0 || utf8.RuneCountInString(content) <= m.cfg.MaxContentLength
}

// Process asks the backend for a Decision and acts on it. Delegation
// happens only when the named child exists, accepts the content, has not
// been visited in this call and hop budget remains; otherwise this
// processor finalises.
func (m *MasterProcessor) Process(ctx context.Context, content, otherContext string, io IOContext) ProcessedResult {
	h := hopsFrom(ctx, m.cfg.MaxHops).enter(m.Name())

	d, err := inference.Evaluate[Decision](ctx, m.backend,
		m.buildPrompt(content, otherContext, io),
		systemPrompt(m.cfg.Persona),
		DecisionSchema,
	)
	if err != nil {
		m.logger.Warn("processor: classification failed, returning neutral result",
			"conversation_id", io.ConversationID, "content_len", len(content), "err", err)
		res := Degraded(content, m.Name(), err, m.cfg.Outputs.Names())
		res.Metadata.Path = h.visited
		return res
	}

	if target := d.delegate(); target != "" {
		if child := m.delegationTarget(target, content, h); child != nil {
			m.logger.Debug("processor: delegating",
				"conversation_id", io.ConversationID, "child", target, "hops_left", h.remaining-1)
			return child.Process(h.spend(ctx), content, appendContext(otherContext, m.Name(), d.Summary), io)
		}
	}

	return m.finalise(content, d, io, h.visited)
}

// delegationTarget returns the child to delegate to, or nil when this
// processor must finalise.
func (m *MasterProcessor) delegationTarget(target, content string, h hops) Processor {
	child := m.Child(target)
	switch {
	case child == nil:
		m.logger.Debug("processor: unknown delegation target", "child", target)
		return nil
	case !child.CanHandle(content):
		m.logger.Debug("processor: child declined content", "child", target, "content_len", len(content))
		return nil
	case h.seen(target):
		m.logger.Warn("processor: delegation cycle, finalising locally", "child", target, "path", h.visited)
		return nil
	case h.remaining <= 0:
		m.logger.Warn("processor: delegation budget exhausted, finalising locally", "child", target, "path", h.visited)
		return nil
	}
	return child
}

// finalise maps a decision into a ProcessedResult. Suggestions for outputs
// that are not registered are dropped.
func (m *MasterProcessor) finalise(content string, d Decision, io IOContext, path []string) ProcessedResult {
	outputs := make([]SuggestedOutput, 0, len(d.SuggestedOutputs))
	for _, sug := range d.SuggestedOutputs {
		if _, ok := m.cfg.Outputs.Get(sug.Name); !ok {
			m.logger.Warn("processor: dropping suggestion for unknown output", "output", sug.Name)
			continue
		}
		outputs = append(outputs, sug)
	}

	related := make([]string, 0, len(io.Related))
	for _, mem := range io.Related {
		related = append(related, mem.ID)
	}

	sentiment := d.Sentiment
	if sentiment == "" {
		sentiment = SentimentNeutral
	}
	tasks := d.UpdateTasks
	if tasks == nil {
		tasks = []UpdateTask{}
	}

	return ProcessedResult{
		Content: content,
		Metadata: ResultMetadata{
			ContentType: d.ContentType,
			Processor:   m.Name(),
			Confidence:  d.Confidence,
			Path:        path,
		},
		EnrichedContext: EnrichedContext{
			Summary:          d.Summary,
			Topics:           nonNil(d.Topics),
			Sentiment:        sentiment,
			Entities:         nonNil(d.Entities),
			Intent:           d.Intent,
			TimeContext:      d.TimeContext,
			RelatedMemories:  related,
			AvailableOutputs: m.cfg.Outputs.Names(),
		},
		UpdateTasks:      tasks,
		SuggestedOutputs: outputs,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Processor = (*MasterProcessor)(nil)
