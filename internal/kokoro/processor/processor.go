// Package processor routes content through a tree of processors. Each
// processor asks the inference backend for a structured decision and either
// finalises a ProcessedResult or delegates to a named child. Failures never
// escape Process: they come back as a degraded result.
package processor

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bdobrica/kokoro/internal/kokoro/memory"
)

// Processor is a content handler that can decline content and delegate to
// named children.
type Processor interface {
	Name() string
	// CanHandle reports whether the processor accepts content at all.
	CanHandle(content string) bool
	// Process never fails; errors are reported through a degraded result.
	Process(ctx context.Context, content, otherContext string, io IOContext) ProcessedResult
	// Child returns the named child, or nil.
	Child(name string) Processor
}

// IOContext describes where the content came from.
type IOContext struct {
	ConversationID string
	Platform       string
	PlatformID     string
	Author         string
	SourceID       string
	ReceivedAt     time.Time

	// Related holds memories similar to the content, most relevant first.
	Related []memory.Memory
}

// Base is the child registry shared by processor implementations.
type Base struct {
	name string

	mu       sync.RWMutex
	children map[string]Processor
	order    []string
}

// NewBase returns a registry for a processor called name.
func NewBase(name string) *Base {
	return &Base{name: name, children: make(map[string]Processor)}
}

func (b *Base) Name() string { return b.name }

// AddChild registers p under its name. Names are unique per parent.
func (b *Base) AddChild(p Processor) error {
	if p == nil {
		return fmt.Errorf("processor %s: nil child", b.name)
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("processor %s: child has no name", b.name)
	}
	if name == b.name {
		return fmt.Errorf("processor %s: cannot be its own child", b.name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.children[name]; dup {
		return fmt.Errorf("processor %s: duplicate child %q", b.name, name)
	}
	b.children[name] = p
	b.order = append(b.order, name)
	return nil
}

func (b *Base) Child(name string) Processor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.children[name]
}

// Children returns the children in registration order.
func (b *Base) Children() []Processor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Processor, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.children[name])
	}
	return out
}

// ChildNames returns the child names in registration order.
func (b *Base) ChildNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.order)
}
