package staleness

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ballot-research/internal/store"
)

// CountyRecord tracks the secondary refresh of one county.
type CountyRecord struct {
	LastRefreshedAt time.Time `json:"lastRefreshedAt"`
	RacesUpdated    int       `json:"racesUpdated"`
	Failures        int       `json:"failures"`
}

// CountyTracker is the persisted county refresh record.
type CountyTracker struct {
	Counties map[string]CountyRecord `json:"counties"`
}

// LoadCounties reads the county refresh tracker.
func LoadCounties(ctx context.Context, s store.Store) (*CountyTracker, error) {
	t, ok, err := store.GetJSON[CountyTracker](ctx, s, store.CountyRefreshKey)
	if err != nil {
		return nil, eris.Wrap(err, "staleness: load county tracker")
	}
	if !ok || t.Counties == nil {
		t.Counties = make(map[string]CountyRecord)
	}
	return &t, nil
}

// Save persists the county tracker.
func (t *CountyTracker) Save(ctx context.Context, s store.Store) error {
	if err := store.PutJSON(ctx, s, store.CountyRefreshKey, t, 0); err != nil {
		return eris.Wrap(err, "staleness: save county tracker")
	}
	return nil
}

// Select returns up to max counties, least recently refreshed first. Never
// refreshed counties come first in their given order.
func (t *CountyTracker) Select(counties []string, max int) []string {
	out := slices.Clone(counties)
	slices.SortStableFunc(out, func(a, b string) int {
		return t.Counties[a].LastRefreshedAt.Compare(t.Counties[b].LastRefreshedAt)
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// Record stores the outcome of refreshing county.
func (t *CountyTracker) Record(county string, racesUpdated, failures int, now time.Time) {
	t.Counties[county] = CountyRecord{
		LastRefreshedAt: now.UTC(),
		RacesUpdated:    racesUpdated,
		Failures:        failures,
	}
}
