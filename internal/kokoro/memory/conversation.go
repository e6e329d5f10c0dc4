// Package memory keeps Kokoro's durable record of conversations. The store
// is the single source of truth: a Conversation is a transient projection
// rebuilt from it on every read, and the Manager is the only entry point for
// conversation and memory CRUD.
package memory

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Conversation is one conversation's metadata plus whatever part of its
// memory log has been loaded. It is not safe for concurrent use; every
// Manager call returns a fresh value.
type Conversation struct {
	ID         string // derived from Platform and PlatformID
	PlatformID string // platform-local id, e.g. a Matrix room id
	Platform   string // e.g. "matrix" or PlatformSelf

	Name         string
	Description  string
	Participants []string
	OwnerID      string // user that caused the conversation to be created
	CreatedAt    time.Time
	LastActive   time.Time

	extra    map[string]any // namespace metadata Kokoro does not interpret
	memories []Memory
}

// ConversationOptions carries the optional fields of a new conversation.
type ConversationOptions struct {
	Name         string
	Description  string
	Participants []string
	OwnerID      string
}

// NewConversation builds a conversation for the creation path. The name
// defaults to the platform-local id.
func NewConversation(platformID, platform string, opts ConversationOptions, now time.Time) *Conversation {
	platformID = NormalizePlatformID(platform, platformID)
	name := opts.Name
	if name == "" {
		name = platformID
	}
	now = now.UTC()
	return &Conversation{
		ID:           DeriveConversationID(platform, platformID),
		PlatformID:   platformID,
		Platform:     platform,
		Name:         name,
		Description:  opts.Description,
		Participants: slices.Clone(opts.Participants),
		OwnerID:      opts.OwnerID,
		CreatedAt:    now,
		LastActive:   now,
	}
}

// conversationFromMetadata rebuilds a conversation from stored namespace
// metadata. Metadata without platform or platform id is rejected outright.
func conversationFromMetadata(id string, md NamespaceMetadata) (*Conversation, error) {
	if md.Platform == "" || md.PlatformID == "" {
		return nil, fmt.Errorf("namespace %s: incomplete metadata (platform=%q platformId=%q)",
			id, md.Platform, md.PlatformID)
	}
	last := md.LastActive
	if last.IsZero() {
		last = md.Created
	}
	return &Conversation{
		ID:           id,
		PlatformID:   md.PlatformID,
		Platform:     md.Platform,
		Name:         md.Name,
		Description:  md.Description,
		Participants: slices.Clone(md.Participants),
		OwnerID:      md.OwnerID,
		CreatedAt:    md.Created,
		LastActive:   last,
		extra:        maps.Clone(md.Extra),
	}, nil
}

// namespaceMetadata returns the denormalised metadata written to the store.
func (c *Conversation) namespaceMetadata() NamespaceMetadata {
	return NamespaceMetadata{
		Platform:     c.Platform,
		PlatformID:   c.PlatformID,
		Name:         c.Name,
		Description:  c.Description,
		Participants: slices.Clone(c.Participants),
		Created:      c.CreatedAt,
		LastActive:   c.LastActive,
		OwnerID:      c.OwnerID,
		Extra:        maps.Clone(c.extra),
	}
}

// AddMemory appends m to the in-memory log and bumps LastActive.
func (c *Conversation) AddMemory(m Memory) {
	c.memories = append(c.memories, m)
	if m.Timestamp.After(c.LastActive) {
		c.LastActive = m.Timestamp
	}
}

// LoadMemories replaces the in-memory log.
func (c *Conversation) LoadMemories(ms []Memory) {
	c.memories = slices.Clone(ms)
}

// Memories returns a copy of the loaded log, oldest first.
func (c *Conversation) Memories() []Memory {
	return slices.Clone(c.memories)
}

// HasParticipant reports whether id is listed as a participant.
func (c *Conversation) HasParticipant(id string) bool {
	return slices.Contains(c.Participants, id)
}
