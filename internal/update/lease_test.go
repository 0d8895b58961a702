package update

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/research"
	"github.com/sells-group/ballot-research/internal/store"
)

type steppedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func threeRaceBallot() model.Ballot {
	b := governorBallot()
	b.Races = append(b.Races,
		model.Race{Office: "Auditor", Candidates: []model.Candidate{candidate("Carol")}},
		model.Race{Office: "Treasurer", Candidates: []model.Candidate{candidate("Dana")}},
	)
	return b
}

func TestRunDailyUpdate_RenewsLeaseBeyondTTL(t *testing.T) {
	ctx := context.Background()
	clock := &steppedClock{now: testNow}
	intruderAcquired := false

	var h *harness
	h = newHarness(t, testOptions(), func(n int, _ research.Request) (*research.Response, error) {
		if n == 3 {
			// Eighty minutes in, past the original one hour deadline.
			ok, err := h.store.PutIfAbsent(ctx, store.RunLeaseKey, []byte("intruder"), time.Hour)
			require.NoError(t, err)
			intruderAcquired = ok
		}
		clock.Advance(40 * time.Minute)
		return answer(allNull, "https://apnews.com/a"), nil
	})
	h.store.NowFunc = clock.Now
	h.seed(t, "statewide", threeRaceBallot())

	res, err := h.orch.RunDailyUpdate(ctx, DailyRequest{})
	require.NoError(t, err)

	assert.False(t, res.Aborted)
	assert.Equal(t, 3, h.svc.calls())
	assert.False(t, intruderAcquired, "lease must still be held late in the run")

	_, err = h.store.Get(ctx, store.RunLeaseKey)
	assert.ErrorIs(t, err, store.ErrNotFound, "lease released")
}

func TestRunDailyUpdate_LeaseLostAborts(t *testing.T) {
	ctx := context.Background()
	var h *harness
	h = newHarness(t, testOptions(), func(n int, _ research.Request) (*research.Response, error) {
		if n == 1 {
			require.NoError(t, h.store.Put(ctx, store.RunLeaseKey, []byte("other-run"), time.Hour))
		}
		return answer(allNull, "https://apnews.com/a"), nil
	})
	h.seed(t, "statewide", threeRaceBallot())

	res, err := h.orch.RunDailyUpdate(ctx, DailyRequest{})
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.Equal(t, 1, h.svc.calls())
	assert.Contains(t, strings.Join(res.Log, "\n"), "lease lost")

	held, err := h.store.Get(ctx, store.RunLeaseKey)
	require.NoError(t, err)
	assert.Equal(t, "other-run", string(held), "release leaves the new holder alone")
}

func TestLease_Release(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	l, err := acquireLease(ctx, st, "run-a", time.Hour)
	require.NoError(t, err)
	l.release(ctx)
	_, err = st.Get(ctx, store.RunLeaseKey)
	assert.ErrorIs(t, err, store.ErrNotFound)

	l, err = acquireLease(ctx, st, "run-b", time.Hour)
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, store.RunLeaseKey, []byte("run-c"), time.Hour))
	l.release(ctx)
	held, err := st.Get(ctx, store.RunLeaseKey)
	require.NoError(t, err)
	assert.Equal(t, "run-c", string(held))

	ok, err := l.renew(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	var nilLease *lease
	ok, err = nilLease.renew(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
