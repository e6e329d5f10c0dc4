package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/kokoro/common/observability"
	"github.com/bdobrica/kokoro/common/trace"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
	"github.com/bdobrica/kokoro/internal/kokoro/processor"
)

var (
	// ErrNoProcessor is returned when no root processor accepts the content.
	ErrNoProcessor = errors.New("pipeline: no processor can handle content")

	// ErrEmptyContent is returned for blank inbound content.
	ErrEmptyContent = errors.New("pipeline: empty content")
)

// Inbound is one item of content arriving from a platform.
type Inbound struct {
	Platform   string
	PlatformID string
	Author     string
	// SourceID is the platform's id for the item. When set, the item is
	// processed at most once per conversation.
	SourceID   string
	Content    string
	ReceivedAt time.Time
}

// Pipeline records inbound content, runs it through the processor tree and
// dispatches the suggested outputs.
type Pipeline struct {
	manager      *memory.Manager
	roots        []processor.Processor
	dispatcher   *processor.Dispatcher
	relatedLimit int
	logger       *slog.Logger
	now          func() time.Time
}

// NewPipeline wires a pipeline. roots are tried in order. A nil dispatcher
// disables outputs.
func NewPipeline(manager *memory.Manager, roots []processor.Processor, dispatcher *processor.Dispatcher, relatedLimit int, logger *slog.Logger) *Pipeline {
	if relatedLimit <= 0 {
		relatedLimit = memory.DefaultSimilarLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		manager:      manager,
		roots:        roots,
		dispatcher:   dispatcher,
		relatedLimit: relatedLimit,
		logger:       logger,
		now:          time.Now,
	}
}

// Handle processes one inbound item. Content already processed in its
// conversation comes back with AlreadyProcessed set and no processor runs.
func (p *Pipeline) Handle(ctx context.Context, in Inbound) (processor.ProcessedResult, error) {
	ctx, _ = trace.Ensure(ctx)
	log := observability.WithTrace(ctx, p.logger).With(
		"platform", in.Platform,
		"platform_id", in.PlatformID,
	)

	if strings.TrimSpace(in.Content) == "" {
		return processor.ProcessedResult{}, ErrEmptyContent
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = p.now().UTC()
	}

	conv, err := p.manager.EnsureConversation(ctx, in.PlatformID, in.Platform, in.Author)
	if err != nil {
		return processor.ProcessedResult{}, fmt.Errorf("pipeline: ensure conversation: %w", err)
	}
	log = log.With("conversation_id", conv.ID)

	if in.SourceID != "" {
		done, err := p.manager.HasProcessedContentInConversation(ctx, in.SourceID, conv.ID)
		if err != nil {
			return processor.ProcessedResult{}, fmt.Errorf("pipeline: processed check: %w", err)
		}
		if done {
			log.Info("pipeline: already processed", "source_id", in.SourceID)
			return processor.ProcessedResult{Content: in.Content, AlreadyProcessed: true}, nil
		}
	}

	// Search before recording so the item does not match itself.
	related := p.manager.FindSimilarMemoriesInConversation(ctx, in.Content, conv.ID, p.relatedLimit)

	inbound, err := p.manager.AddMemory(ctx, conv.ID, in.Content, memory.Metadata{
		SourceID: in.SourceID,
		Author:   in.Author,
		Kind:     memory.KindInbound,
	})
	switch {
	case errors.Is(err, memory.ErrUpstream):
		log.Warn("pipeline: inbound not persisted, continuing", "err", err)
	case err != nil:
		return processor.ProcessedResult{}, fmt.Errorf("pipeline: record inbound: %w", err)
	}

	root := p.route(in.Content)
	if root == nil {
		log.Warn("pipeline: no processor accepted content", "content_len", len(in.Content))
		return processor.ProcessedResult{}, ErrNoProcessor
	}

	io := processor.IOContext{
		ConversationID: conv.ID,
		Platform:       conv.Platform,
		PlatformID:     conv.PlatformID,
		Author:         in.Author,
		SourceID:       in.SourceID,
		ReceivedAt:     in.ReceivedAt,
		Related:        related,
	}
	res := root.Process(ctx, in.Content, "", io)
	log.Info("pipeline: processed",
		"processor", res.Metadata.Processor,
		"content_type", res.Metadata.ContentType,
		"degraded", res.Metadata.Degraded,
		"suggested_outputs", len(res.SuggestedOutputs),
	)

	p.recordOutcome(ctx, log, conv.ID, inbound.ID, res)

	if in.SourceID != "" {
		if _, err := p.manager.MarkContentAsProcessed(ctx, in.SourceID, conv.ID); err != nil {
			log.Warn("pipeline: mark processed failed", "source_id", in.SourceID, "err", err)
		}
	}

	if p.dispatcher != nil && !res.Metadata.Degraded {
		n := p.dispatcher.Dispatch(ctx, res, io)
		log.Debug("pipeline: outputs dispatched", "delivered", n)
	}
	return res, nil
}

// route returns the first root that accepts content.
func (p *Pipeline) route(content string) processor.Processor {
	for _, r := range p.roots {
		if r.CanHandle(content) {
			return r
		}
	}
	return nil
}

func (p *Pipeline) recordOutcome(ctx context.Context, log *slog.Logger, conversationID, inboundID string, res processor.ProcessedResult) {
	summary := res.EnrichedContext.Summary
	if summary == "" {
		summary = res.Metadata.ContentType
	}
	extra := map[string]any{
		"contentType": res.Metadata.ContentType,
		"processor":   res.Metadata.Processor,
		"confidence":  res.Metadata.Confidence,
		"path":        res.Metadata.Path,
		"sentiment":   res.EnrichedContext.Sentiment,
	}
	if inboundID != "" {
		extra["inResponseTo"] = inboundID
	}
	if res.Metadata.Degraded {
		extra["degraded"] = true
	}
	_, err := p.manager.AddMemory(ctx, conversationID, summary, memory.Metadata{
		Author: res.Metadata.Processor,
		Kind:   memory.KindOutcome,
		Extra:  extra,
	})
	if err != nil {
		log.Warn("pipeline: outcome not recorded", "err", err)
	}
}
