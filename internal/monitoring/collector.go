package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ballot-research/internal/cost"
	"github.com/sells-group/ballot-research/internal/errlog"
	"github.com/sells-group/ballot-research/internal/store"
	"github.com/sells-group/ballot-research/internal/update"
)

// MetricsSnapshot holds a point-in-time view of update health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	Runs        int     `json:"runs"`
	AbortedRuns int     `json:"aborted_runs"`
	Researched  int     `json:"researched"`
	Failed      int     `json:"failed"`
	Updated     int     `json:"updated"`
	FailRate    float64 `json:"fail_rate"`

	// Error log metrics.
	ErrorTotal     int                     `json:"error_total"`
	ErrorsByCat    map[errlog.Category]int `json:"errors_by_category"`
	NeedsAttention []string                `json:"needs_attention,omitempty"`

	// Usage metrics.
	Calls       int     `json:"calls"`
	CostUSD     float64 `json:"cost_usd"`
	WebSearches int64   `json:"web_searches"`

	// Metadata.
	LookbackDays int       `json:"lookback_days"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Collector gathers metrics from the dated logs in the store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// WithClock replaces the collector's clock.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Collect gathers a snapshot over the lookbackDays days ending today (UTC).
// Context needing attention is computed across the whole window, so a race
// failing once a day for two days is flagged.
func (c *Collector) Collect(ctx context.Context, lookbackDays int) (*MetricsSnapshot, error) {
	if lookbackDays <= 0 {
		lookbackDays = 1
	}
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackDays: lookbackDays,
		CollectedAt:  now,
		ErrorsByCat:  make(map[errlog.Category]int),
	}

	logs, err := errlog.LoadRange(ctx, c.store, now, lookbackDays)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load error logs")
	}
	var entries []errlog.Entry
	for _, l := range logs {
		entries = append(entries, l.Entries...)
	}
	sum := errlog.Summarize(entries)
	snap.ErrorTotal = sum.Total
	snap.ErrorsByCat = sum.ByCategory
	snap.NeedsAttention = sum.NeedsAttention

	for i := lookbackDays - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)

		ul, err := update.LoadUpdateLog(ctx, c.store, day)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: load update log")
		}
		for _, r := range ul.Runs {
			snap.Runs++
			if r.Aborted {
				snap.AbortedRuns++
			}
			snap.Researched += r.Researched
			snap.Failed += r.Failed
			snap.Updated += len(r.Updated)
		}

		u, err := cost.LoadDailyUsage(ctx, c.store, day)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: load usage")
		}
		snap.Calls += u.Calls
		snap.CostUSD += u.CostUSD
		snap.WebSearches += u.WebSearches
	}

	if snap.Researched > 0 {
		snap.FailRate = float64(snap.Failed) / float64(snap.Researched)
	}
	return snap, nil
}
