package memory

import (
	"context"
	"time"
)

// NamespaceMetadata is the per-conversation label kept by the store.
type NamespaceMetadata struct {
	Platform     string         `json:"platform,omitempty"`
	PlatformID   string         `json:"platformId,omitempty"`
	Name         string         `json:"name,omitempty"`
	Description  string         `json:"description,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	Created      time.Time      `json:"created,omitzero"`
	LastActive   time.Time      `json:"lastActive,omitzero"`
	OwnerID      string         `json:"userId,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Record is one content item as the store returns it.
type Record struct {
	Content  string
	Metadata map[string]any
}

// Store is the persistent, namespaced content store behind the Manager.
// Namespace ids are conversation ids.
type Store interface {
	// NamespaceMetadata returns ErrNamespaceNotFound for an unknown namespace.
	NamespaceMetadata(ctx context.Context, namespaceID string) (NamespaceMetadata, error)
	// SetNamespaceMetadata creates the namespace or replaces its metadata.
	SetNamespaceMetadata(ctx context.Context, namespaceID string, md NamespaceMetadata) error

	AppendContent(ctx context.Context, namespaceID, content string, metadata map[string]any) error
	// ListContent returns the most recent limit items, oldest first. A
	// limit <= 0 returns the whole log.
	ListContent(ctx context.Context, namespaceID string, limit int) ([]Record, error)
	// SearchSimilar returns up to limit items ranked by similarity to query.
	SearchSimilar(ctx context.Context, query, namespaceID string, limit int) ([]Record, error)

	ListNamespaceIDs(ctx context.Context) ([]string, error)
	// DeleteNamespace removes the namespace and everything in it. Deleting
	// an unknown namespace is not an error.
	DeleteNamespace(ctx context.Context, namespaceID string) error

	HasProcessedMarker(ctx context.Context, contentID, namespaceID string) (bool, error)
	// SetProcessedMarker is idempotent.
	SetProcessedMarker(ctx context.Context, contentID, namespaceID string) error
}
