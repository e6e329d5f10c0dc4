package processor

import (
	"context"
	"slices"
)

// DefaultMaxHops bounds how many delegations one Process call may make.
const DefaultMaxHops = 8

type hopsKey struct{}

// hops is the delegation budget carried through the context. Each
// delegation spends one hop and records the processor it left.
type hops struct {
	remaining int
	visited   []string
}

// hopsFrom returns the budget in ctx, or a fresh one of size max.
func hopsFrom(ctx context.Context, max int) hops {
	if h, ok := ctx.Value(hopsKey{}).(hops); ok {
		return h
	}
	return hops{remaining: max}
}

// enter records name as visited.
func (h hops) enter(name string) hops {
	return hops{remaining: h.remaining, visited: append(slices.Clip(h.visited), name)}
}

func (h hops) seen(name string) bool {
	return slices.Contains(h.visited, name)
}

// spend returns ctx carrying the budget left after one delegation.
func (h hops) spend(ctx context.Context) context.Context {
	return context.WithValue(ctx, hopsKey{}, hops{remaining: h.remaining - 1, visited: h.visited})
}
