package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ballot-research/internal/cost"
	"github.com/sells-group/ballot-research/internal/errlog"
	"github.com/sells-group/ballot-research/internal/store"
	"github.com/sells-group/ballot-research/internal/update"
)

var collectNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func seedDay(t *testing.T, st store.Store, day time.Time, runs []update.RunRecord, usage cost.Totals, entries ...errlog.Entry) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutJSON(ctx, st, store.UpdateLogKey(day), update.UpdateLog{Runs: runs}, 0))
	require.NoError(t, store.PutJSON(ctx, st, store.UsageKey(day), cost.DailyUsage{Totals: usage}, 0))
	require.NoError(t, errlog.Persist(ctx, st, entries, day))
}

func TestCollector_Collect(t *testing.T) {
	st := store.NewMemory()
	yesterday := collectNow.AddDate(0, 0, -1)

	seedDay(t, st, yesterday,
		[]update.RunRecord{{RunID: "r1", Researched: 10, Failed: 2, Updated: []string{"democrat/Governor"}}},
		cost.Totals{Calls: 11, CostUSD: 1.25, WebSearches: 30},
		errlog.Entry{Category: errlog.CategoryAPIError, Context: "democrat/Governor"},
	)
	seedDay(t, st, collectNow,
		[]update.RunRecord{
			{RunID: "r2", Researched: 8, Failed: 1},
			{RunID: "r3", Researched: 1, Failed: 1, Aborted: true},
		},
		cost.Totals{Calls: 9, CostUSD: 0.75, WebSearches: 12},
		errlog.Entry{Category: errlog.CategoryValidation, Context: "democrat/Governor"},
		errlog.Entry{Category: errlog.CategoryAllNullUpdate, Context: "republican/Auditor"},
	)
	// Outside a two-day window.
	seedDay(t, st, collectNow.AddDate(0, 0, -2),
		[]update.RunRecord{{RunID: "old", Researched: 50, Failed: 50}},
		cost.Totals{Calls: 50, CostUSD: 100},
	)

	snap, err := NewCollector(st).WithClock(func() time.Time { return collectNow }).Collect(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.Runs)
	assert.Equal(t, 1, snap.AbortedRuns)
	assert.Equal(t, 19, snap.Researched)
	assert.Equal(t, 4, snap.Failed)
	assert.Equal(t, 1, snap.Updated)
	assert.InDelta(t, 4.0/19.0, snap.FailRate, 1e-9)
	assert.Equal(t, 20, snap.Calls)
	assert.InDelta(t, 2.0, snap.CostUSD, 1e-9)
	assert.Equal(t, int64(42), snap.WebSearches)
	assert.Equal(t, 3, snap.ErrorTotal)
	assert.Equal(t, 1, snap.ErrorsByCat[errlog.CategoryAPIError])
	assert.Equal(t, []string{"democrat/Governor"}, snap.NeedsAttention)
	assert.Equal(t, 2, snap.LookbackDays)
	assert.Equal(t, collectNow, snap.CollectedAt)
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap, err := NewCollector(store.NewMemory()).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.LookbackDays)
	assert.Zero(t, snap.Runs)
	assert.Zero(t, snap.FailRate)
	assert.Empty(t, snap.NeedsAttention)
}
