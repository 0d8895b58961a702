// Package staleness throttles re-research of races that keep coming back
// with nothing new.
package staleness

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ballot-research/internal/store"
)

// Defaults for Policy.
const (
	DefaultThreshold    = 3
	DefaultIntervalDays = 3
)

// Policy decides when a stale race is researched again.
type Policy struct {
	// Threshold is the number of consecutive all-null outcomes after which a
	// race counts as stale.
	Threshold int
	// IntervalDays is how often a stale race is still checked.
	IntervalDays int
}

// DefaultPolicy returns the 3-outcome, 3-day policy.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, IntervalDays: DefaultIntervalDays}
}

func (p Policy) withDefaults() Policy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.IntervalDays <= 0 {
		p.IntervalDays = DefaultIntervalDays
	}
	return p
}

// Entry is the per-race staleness record.
type Entry struct {
	NullCount int `json:"nullCount"`
	// LastResearchDay is the day of year (1-366) of the last attempt.
	LastResearchDay int `json:"lastResearchDay"`
	// LastResearchDate is the UTC calendar date of the last attempt. Elapsed
	// days are computed from it so the schedule survives a year boundary.
	LastResearchDate string `json:"lastResearchDate,omitempty"`
}

// Stale reports whether the entry has reached the threshold.
func (e Entry) Stale(p Policy) bool {
	return e.NullCount >= p.withDefaults().Threshold
}

// Tracker is the persisted set of entries keyed by race key.
type Tracker struct {
	Entries map[string]Entry `json:"entries"`
	policy  Policy
}

// New returns an empty tracker.
func New(p Policy) *Tracker {
	return &Tracker{Entries: make(map[string]Entry), policy: p.withDefaults()}
}

// Load reads the tracker record, returning an empty tracker when none exists.
func Load(ctx context.Context, s store.Store, p Policy) (*Tracker, error) {
	t, ok, err := store.GetJSON[Tracker](ctx, s, store.StalenessTrackerKey)
	if err != nil {
		return nil, eris.Wrap(err, "staleness: load tracker")
	}
	if !ok || t.Entries == nil {
		t.Entries = make(map[string]Entry)
	}
	t.policy = p.withDefaults()
	return &t, nil
}

// Save persists the tracker record.
func (t *Tracker) Save(ctx context.Context, s store.Store) error {
	if err := store.PutJSON(ctx, s, store.StalenessTrackerKey, t, 0); err != nil {
		return eris.Wrap(err, "staleness: save tracker")
	}
	return nil
}

// Get returns the entry for key. Missing entries are zero.
func (t *Tracker) Get(key string) Entry { return t.Entries[key] }

// ShouldSkip reports whether the race should be skipped today, together
// with the number of days since it was last researched. A stale race is
// researched only when that number is an exact multiple of the interval.
func (t *Tracker) ShouldSkip(key string, now time.Time) (bool, int) {
	e, ok := t.Entries[key]
	if !ok {
		return false, 0
	}
	days := DaysSince(e, now)
	if !e.Stale(t.policy) {
		return false, days
	}
	return days%t.policy.IntervalDays != 0, days
}

// Record updates the entry after a research attempt. A meaningful outcome
// resets the counter; an all-null outcome increments it.
func (t *Tracker) Record(key string, meaningful bool, now time.Time) Entry {
	e := t.Entries[key]
	if meaningful {
		e.NullCount = 0
	} else {
		e.NullCount++
	}
	now = now.UTC()
	e.LastResearchDay = now.YearDay()
	e.LastResearchDate = now.Format(time.DateOnly)
	t.Entries[key] = e
	return e
}

// DaysSince returns whole UTC days between the entry's last attempt and now.
// Entries written without a date fall back to day-of-year arithmetic,
// wrapping across the year end.
func DaysSince(e Entry, now time.Time) int {
	now = now.UTC()
	if e.LastResearchDate != "" {
		last, err := time.Parse(time.DateOnly, e.LastResearchDate)
		if err == nil {
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			return int(today.Sub(last).Hours() / 24)
		}
	}
	if e.LastResearchDay == 0 {
		return 0
	}
	d := now.YearDay() - e.LastResearchDay
	if d < 0 {
		d += daysInYear(now.Year() - 1)
	}
	return d
}

func daysInYear(y int) int {
	return time.Date(y, 12, 31, 0, 0, 0, 0, time.UTC).YearDay()
}
