// Package filter implements the two-stage security gate applied to every
// prompt: structural validation followed by an ordered chain of content
// filters.
package filter

import "context"

// Action represents the filter decision.
type Action string

const (
	ActionPass  Action = "pass"
	ActionBlock Action = "block"
)

// Result is returned by each filter.
type Result struct {
	Action     Action
	FilterName string
	// Pattern names the rule that matched. Empty on pass.
	Pattern string
	Message string
}

// Filter is the interface all content filters implement.
type Filter interface {
	Name() string
	Enabled() bool
	Scan(ctx context.Context, prompt string) Result
}

// Chain runs filters in order, stopping on the first Block.
type Chain struct {
	filters []Filter
}

// NewChain creates a filter chain from the given filters.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Run executes all enabled filters in order. Returns all results and a pointer
// to the first blocking result (nil if no filter blocked).
func (c *Chain) Run(ctx context.Context, prompt string) ([]Result, *Result) {
	var results []Result
	for _, f := range c.filters {
		if !f.Enabled() {
			continue
		}
		r := f.Scan(ctx, prompt)
		results = append(results, r)
		if r.Action == ActionBlock {
			return results, &r
		}
	}
	return results, nil
}
