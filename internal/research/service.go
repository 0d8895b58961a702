// Package research calls the web-search-capable model service and turns its
// free-text answers into structured race updates.
package research

import (
	"context"

	"github.com/sells-group/ballot-research/internal/model"
)

// Request is one call to the research service.
type Request struct {
	System string
	Prompt string
	// SearchBudget is the maximum number of web searches. Zero disables
	// search.
	SearchBudget int
	// MaxTokens overrides the service default when positive.
	MaxTokens int64
	// Repair selects the cheaper repair model with search disabled.
	Repair bool
}

// Usage is the token accounting of one call.
type Usage struct {
	Provider         string
	Model            string
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
	WebSearches      int64
}

// Response is the service's answer.
type Response struct {
	Text      string
	Usage     Usage
	Citations []model.Source
}

// Service is the research capability. Implementations surface HTTP status
// classes through *resilience.StatusError and do not retry internally.
type Service interface {
	Name() string
	Research(ctx context.Context, req Request) (*Response, error)
}
