package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSimilarLimit is used by FindSimilarMemoriesInConversation when the
// caller passes a non-positive limit.
const DefaultSimilarLimit = 5

// Manager reconciles Conversation projections with the Store. Nothing is
// cached between calls. Writes to one conversation id are serialised within
// the process; ordering across processes is up to the store.
//
// Failure policy: identity and creation paths return errors, history
// hydration and similarity lookups degrade to empty results and log.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	locks  keyedMutex
}

// NewManager returns a Manager over store. A nil store is allowed: reads
// return nothing and writes fail with ErrStoreUnavailable.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
		locks:  keyedMutex{locks: make(map[string]*keyedLock)},
	}
}

// GetConversation rebuilds the conversation and loads its full memory log.
// It returns false when the namespace is missing or lacks platform
// metadata. A failure to load memories still returns the conversation.
func (m *Manager) GetConversation(ctx context.Context, conversationID string) (*Conversation, bool) {
	return m.loadConversation(ctx, conversationID, true)
}

// GetConversationByPlatformID resolves a conversation by its platform pair.
func (m *Manager) GetConversationByPlatformID(ctx context.Context, platformID, platform string) (*Conversation, bool) {
	return m.GetConversation(ctx, DeriveConversationID(platform, platformID))
}

func (m *Manager) loadConversation(ctx context.Context, conversationID string, hydrate bool) (*Conversation, bool) {
	if m.store == nil {
		m.logger.Warn("memory: no store configured", "conversation_id", conversationID)
		return nil, false
	}

	md, err := m.store.NamespaceMetadata(ctx, conversationID)
	if errors.Is(err, ErrNamespaceNotFound) {
		m.logger.Debug("memory: conversation not found", "conversation_id", conversationID)
		return nil, false
	}
	if err != nil {
		m.logger.Warn("memory: get conversation failed", "conversation_id", conversationID, "err", err)
		return nil, false
	}

	conv, err := conversationFromMetadata(conversationID, md)
	if err != nil {
		m.logger.Warn("memory: ignoring conversation", "conversation_id", conversationID, "err", err)
		return nil, false
	}
	if !hydrate {
		return conv, true
	}

	recs, err := m.store.ListContent(ctx, conversationID, 0)
	if err != nil {
		m.logger.Warn("memory: load memories failed", "conversation_id", conversationID, "err", err)
		return conv, true
	}
	conv.LoadMemories(m.memoriesFromRecords(conv, recs))
	return conv, true
}

// CreateConversation labels a new namespace for (platform, platformID).
// Store failures are returned: an unlabelled namespace is unusable.
func (m *Manager) CreateConversation(ctx context.Context, platformID, platform string, opts ConversationOptions) (*Conversation, error) {
	if m.store == nil {
		return nil, ErrStoreUnavailable
	}
	id := DeriveConversationID(platform, platformID)
	unlock := m.locks.Lock(id)
	defer unlock()
	return m.createLocked(ctx, platformID, platform, opts)
}

func (m *Manager) createLocked(ctx context.Context, platformID, platform string, opts ConversationOptions) (*Conversation, error) {
	conv := NewConversation(platformID, platform, opts, m.now())
	if err := m.store.SetNamespaceMetadata(ctx, conv.ID, conv.namespaceMetadata()); err != nil {
		m.logger.Error("memory: create conversation failed",
			"conversation_id", conv.ID, "platform", platform, "platform_id", platformID, "err", err)
		return nil, upstream("create conversation", conv.ID, err)
	}
	m.logger.Info("memory: conversation created",
		"conversation_id", conv.ID, "platform", platform, "platform_id", conv.PlatformID)
	return conv, nil
}

// EnsureConversation returns the conversation for (platform, name),
// creating it when absent. userID, when set, becomes owner and first
// participant of a new conversation.
func (m *Manager) EnsureConversation(ctx context.Context, name, platform, userID string) (*Conversation, error) {
	if m.store == nil {
		return nil, ErrStoreUnavailable
	}
	id := DeriveConversationID(platform, name)
	unlock := m.locks.Lock(id)
	defer unlock()

	if conv, ok := m.loadConversation(ctx, id, false); ok {
		return conv, nil
	}
	opts := ConversationOptions{Name: name, OwnerID: userID}
	if userID != "" {
		opts.Participants = []string{userID}
	}
	return m.createLocked(ctx, name, platform, opts)
}

// AddMemory appends content to the conversation's log. The in-memory
// append happens before the store write, so a returned upstream error means
// the memory was not durably persisted.
func (m *Manager) AddMemory(ctx context.Context, conversationID, content string, md Metadata) (Memory, error) {
	if m.store == nil {
		return Memory{}, ErrStoreUnavailable
	}
	unlock := m.locks.Lock(conversationID)
	defer unlock()

	conv, ok := m.loadConversation(ctx, conversationID, false)
	if !ok {
		return Memory{}, fmt.Errorf("add memory %s: %w", conversationID, ErrNotFound)
	}

	md.Platform = conv.Platform
	md.PlatformID = conv.PlatformID
	mem := Memory{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		Timestamp:      m.now().UTC(),
		Metadata:       md,
	}
	conv.AddMemory(mem)

	rec := mem.record()
	if err := m.store.AppendContent(ctx, conversationID, rec.Content, rec.Metadata); err != nil {
		m.logger.Error("memory: append failed", "conversation_id", conversationID, "memory_id", mem.ID, "err", err)
		return mem, upstream("add memory", conversationID, err)
	}

	if err := m.store.SetNamespaceMetadata(ctx, conversationID, conv.namespaceMetadata()); err != nil {
		m.logger.Warn("memory: bump last active failed", "conversation_id", conversationID, "err", err)
	}

	m.logger.Debug("memory: added",
		"conversation_id", conversationID,
		"memory_id", mem.ID,
		"kind", md.Kind,
		"content_len", len(content),
	)
	return mem, nil
}

// FindSimilarMemoriesInConversation returns up to limit memories similar to
// content. Any failure yields an empty result.
func (m *Manager) FindSimilarMemoriesInConversation(ctx context.Context, content, conversationID string, limit int) []Memory {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	conv, ok := m.loadConversation(ctx, conversationID, false)
	if !ok {
		return nil
	}
	recs, err := m.store.SearchSimilar(ctx, content, conversationID, limit)
	if err != nil {
		m.logger.Warn("memory: similarity search failed", "conversation_id", conversationID, "err", err)
		return nil
	}
	return m.memoriesFromRecords(conv, recs)
}

// ListConversations resolves every namespace, skipping those that do not
// resolve to a complete conversation.
func (m *Manager) ListConversations(ctx context.Context) []*Conversation {
	if m.store == nil {
		m.logger.Warn("memory: no store configured")
		return nil
	}
	ids, err := m.store.ListNamespaceIDs(ctx)
	if err != nil {
		m.logger.Warn("memory: list namespaces failed", "err", err)
		return nil
	}

	out := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		if conv, ok := m.GetConversation(ctx, id); ok {
			out = append(out, conv)
		}
	}
	return out
}

// DeleteConversation removes the conversation and its whole log.
func (m *Manager) DeleteConversation(ctx context.Context, conversationID string) error {
	if m.store == nil {
		return ErrStoreUnavailable
	}
	unlock := m.locks.Lock(conversationID)
	defer unlock()

	if err := m.store.DeleteNamespace(ctx, conversationID); err != nil {
		return upstream("delete conversation", conversationID, err)
	}
	m.logger.Info("memory: conversation deleted", "conversation_id", conversationID)
	return nil
}

// GetMemoriesFromConversation returns the most recent limit memories,
// oldest first; limit <= 0 returns all of them. Unlike the hydration in
// GetConversation, failures are returned.
func (m *Manager) GetMemoriesFromConversation(ctx context.Context, conversationID string, limit int) ([]Memory, error) {
	if m.store == nil {
		return nil, ErrStoreUnavailable
	}
	conv, ok := m.loadConversation(ctx, conversationID, false)
	if !ok {
		return nil, fmt.Errorf("get memories %s: %w", conversationID, ErrNotFound)
	}
	recs, err := m.store.ListContent(ctx, conversationID, limit)
	if err != nil {
		return nil, upstream("get memories", conversationID, err)
	}
	return m.memoriesFromRecords(conv, recs), nil
}

// HasProcessedContentInConversation reports whether contentID was marked
// processed. An unresolvable conversation reports false; store failures are
// returned because callers decide whether to reprocess on the answer.
func (m *Manager) HasProcessedContentInConversation(ctx context.Context, contentID, conversationID string) (bool, error) {
	if m.store == nil {
		return false, ErrStoreUnavailable
	}
	if _, ok := m.loadConversation(ctx, conversationID, false); !ok {
		return false, nil
	}
	done, err := m.store.HasProcessedMarker(ctx, contentID, conversationID)
	if err != nil {
		return false, upstream("has processed", conversationID, err)
	}
	return done, nil
}

// MarkContentAsProcessed records contentID as processed. It returns false
// without an error when the conversation does not resolve. Marking twice is
// harmless.
func (m *Manager) MarkContentAsProcessed(ctx context.Context, contentID, conversationID string) (bool, error) {
	if m.store == nil {
		return false, ErrStoreUnavailable
	}
	unlock := m.locks.Lock(conversationID)
	defer unlock()

	if _, ok := m.loadConversation(ctx, conversationID, false); !ok {
		m.logger.Warn("memory: cannot mark processed, conversation not found",
			"conversation_id", conversationID, "content_id", contentID)
		return false, nil
	}
	if err := m.store.SetProcessedMarker(ctx, contentID, conversationID); err != nil {
		return false, upstream("mark processed", conversationID, err)
	}
	return true, nil
}

// memoriesFromRecords converts store records, re-attaching the
// conversation's platform pair and skipping malformed rows.
func (m *Manager) memoriesFromRecords(conv *Conversation, recs []Record) []Memory {
	out := make([]Memory, 0, len(recs))
	for _, rec := range recs {
		mem, err := memoryFromRecord(conv.ID, rec)
		if err != nil {
			m.logger.Warn("memory: skip malformed record", "conversation_id", conv.ID, "err", err)
			continue
		}
		mem.Metadata.Platform = conv.Platform
		mem.Metadata.PlatformID = conv.PlatformID
		out = append(out, mem)
	}
	return out
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds
// or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
