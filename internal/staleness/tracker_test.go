package staleness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ballot-research/internal/store"
)

const raceKey = "democrat/Governor"

var day0 = time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)

func staleTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := New(DefaultPolicy())
	for i := 0; i < 3; i++ {
		tr.Record(raceKey, false, day0)
	}
	require.Equal(t, 3, tr.Get(raceKey).NullCount)
	return tr
}

func TestShouldSkip_StaleSchedule(t *testing.T) {
	tr := staleTracker(t)

	tests := []struct {
		name string
		days int
		skip bool
	}{
		{"1 day later", 1, true},
		{"2 days later", 2, true},
		{"3 days later", 3, false},
		{"4 days later", 4, true},
		{"6 days later", 6, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skip, days := tr.ShouldSkip(raceKey, day0.AddDate(0, 0, tt.days))
			assert.Equal(t, tt.skip, skip)
			assert.Equal(t, tt.days, days)
		})
	}
}

func TestShouldSkip_NotStale(t *testing.T) {
	tr := New(DefaultPolicy())
	skip, _ := tr.ShouldSkip(raceKey, day0)
	assert.False(t, skip, "unknown race")

	tr.Record(raceKey, false, day0)
	tr.Record(raceKey, false, day0)
	skip, _ = tr.ShouldSkip(raceKey, day0.AddDate(0, 0, 1))
	assert.False(t, skip, "below threshold")
}

func TestRecord_MeaningfulResets(t *testing.T) {
	tr := staleTracker(t)
	later := day0.AddDate(0, 0, 3)
	e := tr.Record(raceKey, true, later)
	assert.Zero(t, e.NullCount)
	assert.Equal(t, later.YearDay(), e.LastResearchDay)
	assert.Equal(t, "2026-10-04", e.LastResearchDate)

	skip, _ := tr.ShouldSkip(raceKey, later.AddDate(0, 0, 1))
	assert.False(t, skip)
}

func TestRecord_IncrementsFromAllNull(t *testing.T) {
	tr := New(DefaultPolicy())
	tr.Record(raceKey, true, day0)
	e := tr.Record(raceKey, false, day0.AddDate(0, 0, 1))
	assert.Equal(t, 1, e.NullCount)
}

func TestDaysSince_YearWrap(t *testing.T) {
	dec30 := time.Date(2025, 12, 30, 12, 0, 0, 0, time.UTC)
	jan2 := time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC)

	withDate := Entry{NullCount: 3, LastResearchDay: dec30.YearDay(), LastResearchDate: "2025-12-30"}
	assert.Equal(t, 3, DaysSince(withDate, jan2))

	legacy := Entry{NullCount: 3, LastResearchDay: dec30.YearDay()}
	assert.Equal(t, 3, DaysSince(legacy, jan2))

	tr := New(DefaultPolicy())
	tr.Entries[raceKey] = withDate
	skip, _ := tr.ShouldSkip(raceKey, jan2)
	assert.False(t, skip)
}

func TestLoadSave(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	tr, err := Load(ctx, st, Policy{})
	require.NoError(t, err)
	assert.Empty(t, tr.Entries)

	tr.Record(raceKey, false, day0)
	require.NoError(t, tr.Save(ctx, st))

	again, err := Load(ctx, st, Policy{Threshold: 1, IntervalDays: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Get(raceKey).NullCount)

	skip, _ := again.ShouldSkip(raceKey, day0.AddDate(0, 0, 1))
	assert.True(t, skip, "loaded tracker uses the supplied policy")
}

func TestCountyTracker(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	ct, err := LoadCounties(ctx, st)
	require.NoError(t, err)

	ct.Record("travis", 2, 0, day0.AddDate(0, 0, 2))
	ct.Record("harris", 1, 1, day0)

	got := ct.Select([]string{"travis", "harris", "dallas", "bexar"}, 3)
	assert.Equal(t, []string{"dallas", "bexar", "harris"}, got)

	require.NoError(t, ct.Save(ctx, st))
	loaded, err := LoadCounties(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Counties["harris"].Failures)
	assert.Equal(t, []string{"dallas", "harris", "travis"}, loaded.Select([]string{"travis", "harris", "dallas"}, 0))
}
