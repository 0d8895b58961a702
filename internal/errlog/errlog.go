// Package errlog classifies, aggregates, and persists pipeline diagnostics.
package errlog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Category is one entry type of the error taxonomy.
type Category string

const (
	CategoryEmptyResponse     Category = "empty_response"
	CategoryJSONParseFailure  Category = "json_parse_failure"
	CategoryNoSearchResults   Category = "no_search_results"
	CategoryAllNullUpdate     Category = "all_null_update"
	CategoryAPIError          Category = "api_error"
	CategoryRateLimit         Category = "rate_limit_exhausted"
	CategoryValidation        Category = "validation_failure"
	CategoryLowQualitySources Category = "low_quality_sources"
	CategoryBaselineFallback  Category = "baseline_fallback"
	CategoryBalanceFailed     Category = "balance_correction_failed"
	CategoryBalanceSuccess    Category = "balance_correction_success"

	// Storage problems outside the research flow.
	CategoryBallotLoad Category = "ballot_load_failure"
	CategoryPersist    Category = "persist_failure"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryEmptyResponse, CategoryJSONParseFailure, CategoryNoSearchResults,
	CategoryAllNullUpdate, CategoryAPIError, CategoryRateLimit, CategoryValidation,
	CategoryLowQualitySources, CategoryBaselineFallback, CategoryBalanceFailed,
	CategoryBalanceSuccess, CategoryBallotLoad, CategoryPersist,
}

// Failure reports whether the category marks a race that was not updated.
func (c Category) Failure() bool {
	switch c {
	case CategoryEmptyResponse, CategoryJSONParseFailure, CategoryAPIError,
		CategoryRateLimit, CategoryValidation, CategoryBallotLoad, CategoryPersist:
		return true
	}
	return false
}

// Entry is one diagnostic.
type Entry struct {
	Category  Category  `json:"category"`
	Context   string    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
	RunID     string    `json:"runId,omitempty"`
}

// Collector accumulates entries for one run.
type Collector struct {
	mu      sync.Mutex
	runID   string
	entries []Entry
	now     func() time.Time
	onAdd   func(Entry)
}

// NewCollector creates a collector that stamps entries with runID.
func NewCollector(runID string) *Collector {
	return &Collector{runID: runID, now: time.Now}
}

// WithClock replaces the timestamp source.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// OnAdd registers a hook called for every new entry.
func (c *Collector) OnAdd(fn func(Entry)) *Collector {
	c.onAdd = fn
	return c
}

// Add records an entry.
func (c *Collector) Add(cat Category, context, details string) Entry {
	e := Entry{
		Category:  cat,
		Context:   context,
		Timestamp: c.now().UTC(),
		Details:   details,
		RunID:     c.runID,
	}
	c.mu.Lock()
	c.entries = append(c.entries, e)
	hook := c.onAdd
	c.mu.Unlock()
	if hook != nil {
		hook(e)
	}
	return e
}

// AddError classifies err and records it.
func (c *Collector) AddError(context string, err error) Entry {
	return c.Add(Classify(err), context, err.Error())
}

// Entries returns a copy of the recorded entries.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Len returns the number of entries.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// NeedsAttentionThreshold is the per-context entry count that flags a
// context for review.
const NeedsAttentionThreshold = 2

// Summary aggregates entries by category and context.
type Summary struct {
	Total          int              `json:"total"`
	ByCategory     map[Category]int `json:"byCategory"`
	NeedsAttention []string         `json:"needsAttention,omitempty"`
}

// Summarize builds a Summary. Successful balance corrections are counted
// but never make a context need attention.
func Summarize(entries []Entry) Summary {
	s := Summary{ByCategory: make(map[Category]int)}
	perContext := make(map[string]int)
	for _, e := range entries {
		s.Total++
		s.ByCategory[e.Category]++
		if e.Category != CategoryBalanceSuccess && e.Context != "" {
			perContext[e.Context]++
		}
	}
	for ctx, n := range perContext {
		if n >= NeedsAttentionThreshold {
			s.NeedsAttention = append(s.NeedsAttention, ctx)
		}
	}
	sort.Strings(s.NeedsAttention)
	return s
}

// Summary returns the summary of the collected entries.
func (c *Collector) Summary() Summary { return Summarize(c.Entries()) }

// String renders a one-line digest, e.g.
// "3 entries: api_error=2 validation_failure=1; needs attention: democrat/Governor".
func (s Summary) String() string {
	if s.Total == 0 {
		return "no errors"
	}
	var parts []string
	for _, cat := range Categories {
		if n := s.ByCategory[cat]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", cat, n))
		}
	}
	out := fmt.Sprintf("%d entries: %s", s.Total, strings.Join(parts, " "))
	if len(s.NeedsAttention) > 0 {
		out += "; needs attention: " + strings.Join(s.NeedsAttention, ", ")
	}
	return out
}
