// Package consciousness runs Kokoro's autonomous thought loop. Independent
// of inbound content, it asks the inference backend for a new thought based
// on its own recent history and writes the result back into the singleton
// self-conversation.
package consciousness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/kokoro/common/observability"
	"github.com/bdobrica/kokoro/common/trace"
	"github.com/bdobrica/kokoro/internal/kokoro/inference"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
)

// ErrRunning is returned by Start when the loop is already running.
var ErrRunning = errors.New("consciousness: already running")

const (
	defaultInterval     = 15 * time.Minute
	defaultHistoryLimit = 10
	recentCapacity      = 10
)

// ConversationLog is the part of memory.Manager the loop uses.
type ConversationLog interface {
	EnsureConversation(ctx context.Context, name, platform, userID string) (*memory.Conversation, error)
	GetMemoriesFromConversation(ctx context.Context, conversationID string, limit int) ([]memory.Memory, error)
	AddMemory(ctx context.Context, conversationID, content string, md memory.Metadata) (memory.Memory, error)
}

var _ ConversationLog = (*memory.Manager)(nil)

// Config configures the loop.
type Config struct {
	// Interval between timer-driven thoughts. Defaults to 15 minutes.
	Interval time.Duration

	// HistoryLimit is how many self-conversation memories go into the
	// prompt. Defaults to 10.
	HistoryLimit int

	// Persona is prepended to the system prompt.
	Persona string
}

type recentThought struct {
	content string
	actions []string
}

// Consciousness generates thoughts on demand and on its own timer.
type Consciousness struct {
	cfg     Config
	log     ConversationLog
	backend inference.Backend
	logger  *slog.Logger
	now     func() time.Time

	recentMu sync.Mutex
	recent   *ring[recentThought]

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped loop. If logger is nil, the default slog logger is
// used.
func New(cfg Config, log ConversationLog, backend inference.Backend, logger *slog.Logger) *Consciousness {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consciousness{
		cfg:     cfg,
		log:     log,
		backend: backend,
		logger:  logger,
		now:     time.Now,
		recent:  newRing[recentThought](recentCapacity),
	}
}

// ConversationID is the id of the self-conversation thoughts are written to.
func ConversationID() string {
	return memory.DeriveConversationID(memory.PlatformSelf, memory.SelfPlatformID)
}

// Think generates a thought and saves it to the self-conversation. It never
// fails: a generation error comes back as a Thought of type TypeError, and a
// save error is only logged.
func (c *Consciousness) Think(ctx context.Context) Thought {
	ctx, _ = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx, c.logger)

	th, err := c.GenerateThought(ctx)
	if err != nil {
		logger.Warn("consciousness: thought generation failed", "err", err)
		return Thought{
			Type:      TypeError,
			Source:    Source,
			Timestamp: c.now().UTC(),
			Metadata:  ThoughtMetadata{Error: err.Error()},
		}
	}

	mem, err := c.log.AddMemory(ctx, ConversationID(), th.Content, memory.Metadata{
		Kind:   memory.KindThought,
		Author: Source,
		Extra: map[string]any{
			"thoughtType": th.Type,
			"topic":       th.Metadata.Context.Topic,
			"reasoning":   th.Metadata.Reasoning,
		},
	})
	if err != nil {
		logger.Warn("consciousness: saving thought failed", "err", err)
	} else {
		th.Metadata.MemoryID = mem.ID
	}

	logger.Info("consciousness: thought",
		"type", th.Type,
		"topic", th.Metadata.Context.Topic,
		"actions", len(th.Metadata.SuggestedActions),
		"content_len", len(th.Content),
	)
	return th
}

// GenerateThought asks the backend for a new thought, given the most recent
// self-conversation memories and the last few generated thoughts. A failure
// to load history is logged and the prompt goes out without it.
func (c *Consciousness) GenerateThought(ctx context.Context) (Thought, error) {
	conv, err := c.log.EnsureConversation(ctx, memory.SelfPlatformID, memory.PlatformSelf, "")
	if err != nil {
		return Thought{}, fmt.Errorf("consciousness: self conversation: %w", err)
	}

	history, err := c.log.GetMemoriesFromConversation(ctx, conv.ID, c.cfg.HistoryLimit)
	if err != nil {
		c.logger.Warn("consciousness: loading history failed", "conversation_id", conv.ID, "err", err)
		history = nil
	}
	slices.Reverse(history)

	c.recentMu.Lock()
	recent := c.recent.items()
	c.recentMu.Unlock()

	g, err := inference.Evaluate[generated](ctx, c.backend,
		c.buildPrompt(history, recent),
		c.systemPrompt(),
		ThoughtSchema,
	)
	if err != nil {
		return Thought{}, fmt.Errorf("consciousness: generate: %w", err)
	}

	th := Thought{
		Type:      g.ThoughtType,
		Source:    Source,
		Content:   strings.TrimSpace(g.Thought),
		Timestamp: c.now().UTC(),
		Metadata: ThoughtMetadata{
			Reasoning:        g.Reasoning,
			Context:          g.Context,
			SuggestedActions: g.SuggestedActions,
		},
	}

	actions := make([]string, 0, len(g.SuggestedActions))
	for _, a := range g.SuggestedActions {
		actions = append(actions, a.Type)
	}
	c.recentMu.Lock()
	c.recent.push(recentThought{content: th.Content, actions: actions})
	c.recentMu.Unlock()

	return th, nil
}

// Recent returns the contents of the last generated thoughts, oldest first.
func (c *Consciousness) Recent() []string {
	c.recentMu.Lock()
	defer c.recentMu.Unlock()
	items := c.recent.items()
	out := make([]string, len(items))
	for i, r := range items {
		out[i] = r.content
	}
	return out
}

// Start thinks once immediately and then on every interval tick until ctx
// is cancelled or Stop is called.
func (c *Consciousness) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done

	go func() {
		defer close(done)
		c.loop(ctx)
	}()
	return nil
}

// Stop halts the timer and waits for an in-flight thought to finish. It is
// safe to call when not running and more than once.
func (c *Consciousness) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run is Start followed by waiting for ctx, for use under an errgroup.
func (c *Consciousness) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.Stop()
	return nil
}

func (c *Consciousness) loop(ctx context.Context) {
	c.logger.Info("consciousness: started", "interval", c.cfg.Interval)
	defer c.logger.Info("consciousness: stopped")

	c.Think(ctx)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Think(ctx)
		}
	}
}
