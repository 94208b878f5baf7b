package queue

import (
	"context"

	"github.com/trvinh/melodica/internal/domain/track"
)

// Chain executes admission filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence against the given queue.
// Returns immediately once any filter rejects the track.
func (c *Chain) Execute(ctx context.Context, t track.Track, q *Queue) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, t, q)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
