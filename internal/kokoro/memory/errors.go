package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable is returned by write paths when the manager has no
	// store configured. Read paths degrade to an empty result instead.
	ErrStoreUnavailable = errors.New("memory: no store configured")

	// ErrNotFound is returned by write paths when the conversation id does not
	// resolve to a conversation with complete metadata.
	ErrNotFound = errors.New("memory: conversation not found")

	// ErrUpstream wraps failures of the underlying store.
	ErrUpstream = errors.New("memory: upstream failure")

	// ErrNamespaceNotFound is returned by Store implementations for an
	// unknown namespace id.
	ErrNamespaceNotFound = errors.New("memory: namespace not found")
)

// upstream wraps a store failure with the operation name and the
// conversation it concerned.
func upstream(op, conversationID string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, conversationID, ErrUpstream, err)
}
