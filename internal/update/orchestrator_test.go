package update

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/ballot-research/internal/baseline"
	"github.com/sells-group/ballot-research/internal/cost"
	"github.com/sells-group/ballot-research/internal/errlog"
	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/research"
	"github.com/sells-group/ballot-research/internal/resilience"
	"github.com/sells-group/ballot-research/internal/staleness"
	"github.com/sells-group/ballot-research/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)

// fakeService answers research calls through handle and records requests.
type fakeService struct {
	mu       sync.Mutex
	handle   func(n int, req research.Request) (*research.Response, error)
	requests []research.Request
}

func (f *fakeService) Name() string { return "fake" }

func (f *fakeService) Research(_ context.Context, req research.Request) (*research.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()
	return f.handle(n, req)
}

func (f *fakeService) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func answer(text string, cites ...string) *research.Response {
	r := &research.Response{Text: text, Usage: research.Usage{Provider: "anthropic", Model: "claude-sonnet-4-5", InputTokens: 1000, OutputTokens: 100}}
	for _, u := range cites {
		r.Citations = append(r.Citations, model.Source{URL: u})
	}
	return r
}

func always(text string, cites ...string) func(int, research.Request) (*research.Response, error) {
	return func(int, research.Request) (*research.Response, error) { return answer(text, cites...), nil }
}

type recordingSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

type memRecorder struct {
	mu     sync.Mutex
	events []cost.UsageEvent
}

func (r *memRecorder) Record(ev cost.UsageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type harness struct {
	store   *store.MemoryStore
	svc     *fakeService
	sleeper *recordingSleeper
	usage   *memRecorder
	orch    *Orchestrator
}

func testOptions() Options {
	return Options{
		Parties:             []string{"democrat"},
		Cycle:               "2026",
		Scope:               "statewide",
		Cutoff:              time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC),
		CallDelay:           2 * time.Second,
		SearchBudgetHigh:    5,
		SearchBudgetLow:     2,
		LowPriorityKeywords: []string{"county", "clerk"},
		Staleness:           staleness.DefaultPolicy(),
		LeaseTTL:            time.Hour,
		RefreshMaxCounties:  5,
	}
}

func newHarness(t *testing.T, opts Options, handle func(int, research.Request) (*research.Response, error)) *harness {
	t.Helper()
	h := &harness{
		store:   store.NewMemory(),
		svc:     &fakeService{handle: handle},
		sleeper: &recordingSleeper{},
		usage:   &memRecorder{},
	}
	h.store.NowFunc = func() time.Time { return testNow }
	clock := func() time.Time { return testNow }
	client := research.NewClient(h.svc,
		research.WithRetry(resilience.ResearchRetryConfig(3, []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}, &recordingSleeper{})),
		research.WithClock(clock),
	)
	h.orch = New(opts, h.store, client,
		WithSleeper(h.sleeper),
		WithClock(clock),
		WithUsage(h.usage),
	)
	return h
}

func candidate(name string) model.Candidate {
	return model.Candidate{
		Name:    name,
		Summary: model.PlainText(name + " is running for office."),
		Pros:    []string{name + " pro one", name + " pro two"},
		Cons:    []string{name + " con one", name + " con two"},
	}
}

func governorBallot() model.Ballot {
	alice := candidate("Alice")
	alice.IsIncumbent = true
	alice.Background = model.PlainText("Former state senator from Kansas City with two decades of public service")
	return model.Ballot{
		Party: "democrat",
		Scope: "statewide",
		Cycle: "2026",
		Races: []model.Race{{
			Office:      "Governor",
			IsContested: true,
			Candidates:  []model.Candidate{alice, candidate("Bob")},
		}},
	}
}

func (h *harness) seed(t *testing.T, scope string, b model.Ballot) {
	t.Helper()
	require.NoError(t, store.PutJSON(context.Background(), h.store, store.BallotKey(scope, b.Party, "2026"), b, 0))
}

func (h *harness) ballot(t *testing.T, scope, party string) model.Ballot {
	t.Helper()
	b, ok, err := store.GetJSON[model.Ballot](context.Background(), h.store, store.BallotKey(scope, party, "2026"))
	require.NoError(t, err)
	require.True(t, ok)
	return b
}

func categories(entries []errlog.Entry) []errlog.Category {
	var out []errlog.Category
	for _, e := range entries {
		out = append(out, e.Category)
	}
	return out
}

const alicePolling = `{"candidates":[{"name":"Alice","polling":"Leading 55%","fundraising":null,"endorsements":null,"keyPositions":null,"pros":null,"cons":null,"summary":null,"background":null},{"name":"Bob","polling":null}]}`

const allNull = `{"candidates":[{"name":"Alice","polling":null},{"name":"Bob","polling":null}]}`

func TestRunDailyUpdate_AliceBob(t *testing.T) {
	h := newHarness(t, testOptions(), always(alicePolling, "https://www.sos.mo.gov/elections/governor"))
	h.seed(t, "statewide", governorBallot())
	ctx := context.Background()

	res, err := h.orch.RunDailyUpdate(ctx, DailyRequest{})
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.False(t, res.Aborted)
	assert.Equal(t, []string{"democrat/Governor"}, res.Updated)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "no errors", res.AIErrorSummary.String())
	assert.Equal(t, 1, res.Usage.Calls)
	assert.NotEmpty(t, res.RunID)
	assert.Contains(t, strings.Join(res.Log, "\n"), "updated 1 field(s), 1 new source(s): Alice[polling]")

	b := h.ballot(t, "statewide", "democrat")
	alice := b.Races[0].FindCandidate("Alice")
	bob := b.Races[0].FindCandidate("Bob")
	assert.Equal(t, "Leading 55%", alice.Polling)
	require.Len(t, alice.Sources, 1)
	assert.Equal(t, model.ConfidenceVerified, alice.Confidence["polling"].Level)
	assert.Empty(t, bob.Polling)
	assert.Empty(t, bob.Sources)
	assert.Equal(t, []string{"Bob pro one", "Bob pro two"}, bob.Pros)
	require.NotNil(t, b.UpdatedAt)

	m, err := LoadManifest(ctx, h.store, "2026")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Parties["democrat"].Version)
	assert.Positive(t, m.Parties["democrat"].SizeBytes)
	assert.Equal(t, approxTokens(m.Parties["democrat"].SizeBytes), m.Parties["democrat"].ApproxTokens)

	ul, err := LoadUpdateLog(ctx, h.store, testNow)
	require.NoError(t, err)
	require.Len(t, ul.Runs, 1)
	assert.Equal(t, res.RunID, ul.Runs[0].RunID)
	assert.Equal(t, 1, ul.Runs[0].Researched)
	assert.Equal(t, []string{"democrat/Governor"}, ul.Runs[0].Updated)

	tr, err := staleness.Load(ctx, h.store, staleness.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Get("democrat/Governor").NullCount)
	assert.Equal(t, "2026-10-17", tr.Get("democrat/Governor").LastResearchDate)

	_, err = h.store.Get(ctx, store.RunLeaseKey)
	assert.ErrorIs(t, err, store.ErrNotFound, "lease released")

	require.Len(t, h.usage.events, 1)
	assert.Equal(t, res.RunID, h.usage.events[0].RunID)
	assert.Positive(t, h.usage.events[0].CostUSD)

	// A second committed run bumps the version again.
	_, err = h.orch.RunDailyUpdate(ctx, DailyRequest{})
	require.NoError(t, err)
	m, err = LoadManifest(ctx, h.store, "2026")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Parties["democrat"].Version)
}

func TestRunDailyUpdate_AllNullLeavesBallotUntouched(t *testing.T) {
	h := newHarness(t, testOptions(), always(allNull, "https://apnews.com/a"))
	h.seed(t, "statewide", governorBallot())
	ctx := context.Background()
	key := store.BallotKey("statewide", "democrat", "2026")
	before, err := h.store.Get(ctx, key)
	require.NoError(t, err)

	res, err := h.orch.RunDailyUpdate(ctx, DailyRequest{})
	require.NoError(t, err)

	assert.Empty(t, res.Updated)
	assert.Equal(t, []errlog.Category{errlog.CategoryAllNullUpdate}, categories(res.Errors))
	after, err := h.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	tr, err := staleness.Load(ctx, h.store, staleness.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Get("democrat/Governor").NullCount)

	m, err := LoadManifest(ctx, h.store, "2026")
	require.NoError(t, err)
	assert.Zero(t, m.Parties["democrat"].Version)

	daily, err := errlog.LoadDaily(ctx, h.store, testNow)
	require.NoError(t, err)
	require.Len(t, daily.Entries, 1)
	assert.Equal(t, res.RunID, daily.Entries[0].RunID)
}

func TestRunDailyUpdate_StaleSchedule(t *testing.T) {
	tests := []struct {
		name      string
		lastDate  time.Time
		wantCalls int
	}{
		{"one day later is skipped", testNow.AddDate(0, 0, -1), 0},
		{"three days later is researched", testNow.AddDate(0, 0, -3), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testOptions(), always(allNull))
			h.seed(t, "statewide", governorBallot())
			tr := staleness.New(staleness.DefaultPolicy())
			tr.Record("democrat/Governor", false, tt.lastDate)
			tr.Record("democrat/Governor", false, tt.lastDate)
			tr.Record("democrat/Governor", false, tt.lastDate)
			require.NoError(t, tr.Save(context.Background(), h.store))

			res, err := h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, h.svc.calls())
			if tt.wantCalls == 0 {
				assert.Contains(t, strings.Join(res.Log, "\n"), "skipped (stale")
			}
		})
	}
}

func TestRunDailyUpdate_ValidationFailureKeepsRace(t *testing.T) {
	h := newHarness(t, testOptions(), always(`{"candidates":[{"name":"Alice","pros":["Only one"]}]}`, "https://apnews.com/a"))
	h.seed(t, "statewide", governorBallot())

	res, err := h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)

	assert.Empty(t, res.Updated)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, errlog.CategoryValidation, res.Errors[0].Category)
	assert.Contains(t, res.Errors[0].Details, "pros_cons_floor")
	assert.Equal(t, []string{"Alice pro one", "Alice pro two"}, h.ballot(t, "statewide", "democrat").Races[0].Candidates[0].Pros)
}

func TestRunDailyUpdate_BaselineFallback(t *testing.T) {
	update := `{"candidates":[{"name":"Alice","background":"Professional astronaut who walked on the moon","polling":"Up 3"}]}`
	h := newHarness(t, testOptions(), always(update, "https://apnews.com/a"))
	b := governorBallot()
	h.seed(t, "statewide", b)
	ctx := context.Background()
	require.NoError(t, baseline.Save(ctx, h.store, baseline.Seed(b, testNow.AddDate(0, -1, 0))))

	res, err := h.orch.RunDailyUpdate(ctx, DailyRequest{})
	require.NoError(t, err)

	assert.Equal(t, []string{"democrat/Governor"}, res.Updated)
	assert.Equal(t, []errlog.Category{errlog.CategoryBaselineFallback}, categories(res.Errors))
	alice := h.ballot(t, "statewide", "democrat").Races[0].Candidates[0]
	assert.Equal(t, "Former state senator from Kansas City with two decades of public service", alice.Background.String())
	assert.Equal(t, "Up 3", alice.Polling)

	fl, err := baseline.LoadFallbackLog(ctx, h.store)
	require.NoError(t, err)
	require.Len(t, fl, 1)
	assert.Equal(t, baseline.FieldBackground, fl[0].Field)
}

func TestRunDailyUpdate_AuthAborts(t *testing.T) {
	opts := testOptions()
	opts.Parties = []string{"democrat", "republican"}
	h := newHarness(t, opts, func(int, research.Request) (*research.Response, error) {
		return nil, resilience.NewStatusError("anthropic", 401, "invalid x-api-key", nil)
	})
	b := governorBallot()
	b.Races = append(b.Races, model.Race{Office: "Auditor", Candidates: []model.Candidate{candidate("Carol")}})
	h.seed(t, "statewide", b)
	r := governorBallot()
	r.Party = "republican"
	h.seed(t, "statewide", r)

	res, err := h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.Equal(t, 1, h.svc.calls())
	assert.Equal(t, []errlog.Category{errlog.CategoryAPIError}, categories(res.Errors))
	assert.Empty(t, h.sleeper.slept)
}

func TestRunDailyUpdate_ContinuesPastRaceFailures(t *testing.T) {
	h := newHarness(t, testOptions(), func(n int, _ research.Request) (*research.Response, error) {
		if n == 1 {
			return nil, resilience.NewStatusError("anthropic", 500, "boom", nil)
		}
		return answer(`{"candidates":[{"name":"Carol","polling":"Unopposed"}]}`, "https://apnews.com/c"), nil
	})
	b := governorBallot()
	b.Races = append(b.Races, model.Race{Office: "Auditor", Candidates: []model.Candidate{candidate("Carol")}})
	h.seed(t, "statewide", b)

	res, err := h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)

	assert.False(t, res.Aborted)
	assert.Equal(t, []string{"democrat/Auditor"}, res.Updated)
	assert.Equal(t, []errlog.Category{errlog.CategoryAPIError}, categories(res.Errors))
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sleeper.slept, "delay only between calls")
}

func TestRunDailyUpdate_MissingBallot(t *testing.T) {
	opts := testOptions()
	opts.Parties = []string{"green", "democrat"}
	h := newHarness(t, opts, always(alicePolling, "https://apnews.com/a"))
	h.seed(t, "statewide", governorBallot())

	res, err := h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)

	assert.Equal(t, []errlog.Category{errlog.CategoryBallotLoad}, categories(res.Errors))
	assert.Equal(t, "ballot:statewide:green:2026", res.Errors[0].Context)
	assert.Equal(t, []string{"democrat/Governor"}, res.Updated)
}

func TestRunDailyUpdate_OfficePriority(t *testing.T) {
	h := newHarness(t, testOptions(), always(allNull, "https://apnews.com/a"))
	b := governorBallot()
	b.Races = append(b.Races, model.Race{Office: "County Clerk", District: "Jackson", Candidates: []model.Candidate{candidate("Dana")}})
	h.seed(t, "statewide", b)

	_, err := h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)
	require.Len(t, h.svc.requests, 2)
	assert.Equal(t, 5, h.svc.requests[0].SearchBudget)
	assert.Equal(t, 2, h.svc.requests[1].SearchBudget)
}

func TestRunDailyUpdate_DryRun(t *testing.T) {
	h := newHarness(t, testOptions(), always(alicePolling, "https://apnews.com/a"))
	h.seed(t, "statewide", governorBallot())
	ctx := context.Background()

	res, err := h.orch.RunDailyUpdate(ctx, DailyRequest{DryRun: true})
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, []string{"democrat/Governor"}, res.Updated)
	assert.Equal(t, 1, res.Usage.Calls)
	assert.Empty(t, h.ballot(t, "statewide", "democrat").Races[0].Candidates[0].Polling)
	assert.Empty(t, h.usage.events)

	keys, err := h.store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{store.BallotKey("statewide", "democrat", "2026")}, keys)
}

func TestRunDailyUpdate_PastCutoff(t *testing.T) {
	opts := testOptions()
	opts.Cutoff = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, opts, always(alicePolling))
	h.seed(t, "statewide", governorBallot())

	res, err := h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Contains(t, res.SkipReason, "2026-10-16")
	assert.Zero(t, h.svc.calls())
}

func TestRunDailyUpdate_LeaseHeld(t *testing.T) {
	h := newHarness(t, testOptions(), always(alicePolling))
	ctx := context.Background()
	ok, err := h.store.PutIfAbsent(ctx, store.RunLeaseKey, []byte("other-run"), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.orch.RunDailyUpdate(ctx, DailyRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunInProgress))
	assert.Contains(t, err.Error(), "other-run")

	held, err := h.store.Get(ctx, store.RunLeaseKey)
	require.NoError(t, err)
	assert.Equal(t, "other-run", string(held))
}

func TestRunDailyUpdate_BalanceCorrection(t *testing.T) {
	h := newHarness(t, testOptions(), func(_ int, req research.Request) (*research.Response, error) {
		if strings.Contains(req.Prompt, "Provide only") {
			return answer(`{"pros":["Expanded Medicaid","Balanced the budget","Raised teacher pay"]}`, "https://ballotpedia.org/Alice"), nil
		}
		return answer(alicePolling, "https://apnews.com/a"), nil
	})
	b := governorBallot()
	b.Races[0].Candidates[0].Pros = []string{"N/A", "TBD"}
	h.seed(t, "statewide", b)

	res, err := h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)

	assert.Equal(t, []errlog.Category{errlog.CategoryBalanceSuccess}, categories(res.Errors))
	assert.Empty(t, res.AIErrorSummary.NeedsAttention)
	assert.Equal(t, 2, h.svc.calls())
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sleeper.slept)

	alice := h.ballot(t, "statewide", "democrat").Races[0].Candidates[0]
	assert.Equal(t, []string{"Expanded Medicaid", "Balanced the budget", "Raised teacher pay"}, alice.Pros)
	require.NotNil(t, alice.BalanceScore)
	assert.InDelta(t, 2.0/3.0, *alice.BalanceScore, 0.001)
	assert.Equal(t, 2, res.Usage.ByPurpose[cost.PurposeResearch]+res.Usage.ByPurpose[cost.PurposeBalance])
}

func TestRunDailyUpdate_Diagnostics(t *testing.T) {
	h := newHarness(t, testOptions(), always(alicePolling, "https://facebook.com/alice", "https://medium.com/@alice/post"))
	h.seed(t, "statewide", governorBallot())
	res, err := h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)
	assert.Equal(t, []errlog.Category{errlog.CategoryLowQualitySources}, categories(res.Errors))

	h = newHarness(t, testOptions(), always(alicePolling))
	h.seed(t, "statewide", governorBallot())
	res, err = h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)
	assert.Equal(t, []errlog.Category{errlog.CategoryNoSearchResults}, categories(res.Errors))
	assert.Equal(t, []string{"democrat/Governor"}, res.Updated)
}

func TestRunSecondaryRefresh(t *testing.T) {
	opts := testOptions()
	opts.Counties = []string{"jackson", "clay", "platte"}
	opts.RefreshMaxCounties = 2
	h := newHarness(t, opts, always(`{"candidates":[{"name":"Erin","polling":"Tied"}]}`, "https://kcur.org/erin"))
	ctx := context.Background()

	county := model.Ballot{Party: "democrat", Scope: "county-clay", Cycle: "2026", Races: []model.Race{
		{Office: "County Executive", Candidates: []model.Candidate{candidate("Erin")}},
	}}
	h.seed(t, store.CountyScope("clay"), county)

	ct, err := staleness.LoadCounties(ctx, h.store)
	require.NoError(t, err)
	ct.Record("jackson", 0, 0, testNow.AddDate(0, 0, -1))
	require.NoError(t, ct.Save(ctx, h.store))

	res, err := h.orch.RunSecondaryRefresh(ctx, RefreshRequest{})
	require.NoError(t, err)

	assert.Equal(t, []string{"clay", "platte"}, res.Counties)
	assert.Equal(t, []string{"county-clay:democrat/County Executive"}, res.Refreshed)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, h.orch.opts.SearchBudget("County Executive"))

	erin := h.ballot(t, store.CountyScope("clay"), "democrat").Races[0].Candidates[0]
	assert.Equal(t, "Tied", erin.Polling)

	ct, err = staleness.LoadCounties(ctx, h.store)
	require.NoError(t, err)
	assert.Equal(t, 1, ct.Counties["clay"].RacesUpdated)
	assert.True(t, ct.Counties["platte"].LastRefreshedAt.Equal(testNow))

	m, err := LoadManifest(ctx, h.store, "2026")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Parties["county-clay:democrat"].Version)
}

func TestRunDailyUpdate_RunsRefresh(t *testing.T) {
	opts := testOptions()
	opts.Counties = []string{"clay"}
	h := newHarness(t, opts, always(allNull, "https://apnews.com/a"))
	h.seed(t, "statewide", governorBallot())

	res, err := h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)
	require.NotNil(t, res.Refresh)
	assert.Equal(t, []string{"clay"}, res.Refresh.Counties)

	res, err = h.orch.RunDailyUpdate(context.Background(), DailyRequest{SkipRefresh: true})
	require.NoError(t, err)
	assert.Nil(t, res.Refresh)
}

func TestOptions_SearchBudget(t *testing.T) {
	o := testOptions().withDefaults()
	assert.Equal(t, 5, o.SearchBudget("U.S. Senate"))
	assert.Equal(t, 2, o.SearchBudget("Jackson COUNTY Legislature"))
	assert.Equal(t, 2, o.SearchBudget("Circuit Clerk"))
}

func TestRunDailyUpdate_OpenBreakerSkipsCallDelay(t *testing.T) {
	svc := &fakeService{handle: func(int, research.Request) (*research.Response, error) {
		return nil, resilience.NewStatusError("anthropic", 500, "boom", nil)
	}}
	sleeper := &recordingSleeper{}
	st := store.NewMemory()
	st.NowFunc = func() time.Time { return testNow }
	clock := func() time.Time { return testNow }
	client := research.NewClient(svc,
		research.WithRetry(resilience.ResearchRetryConfig(3, []time.Duration{5 * time.Second}, &recordingSleeper{})),
		research.WithBreaker(resilience.NewCircuitBreaker(resilience.FromCircuitConfig(1, 3600))),
		research.WithClock(clock),
	)
	orch := New(testOptions(), st, client, WithSleeper(sleeper), WithClock(clock))

	require.NoError(t, store.PutJSON(context.Background(), st, store.BallotKey("statewide", "democrat", "2026"), threeRaceBallot(), 0))

	res, err := orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)

	assert.Equal(t, 1, svc.calls())
	assert.Empty(t, sleeper.slept, "no call delay while the breaker is open")
	require.Len(t, res.Errors, 3)
	assert.Equal(t, []errlog.Category{errlog.CategoryAPIError, errlog.CategoryAPIError, errlog.CategoryAPIError}, categories(res.Errors))
	assert.Contains(t, res.Errors[2].Details, "circuit open")
}

func TestRunDailyUpdate_StoredProblemsLoggedOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	defer zap.ReplaceGlobals(zap.New(core))()

	b := governorBallot()
	b.Races[0].Candidates = append(b.Races[0].Candidates, candidate("Bob"))
	h := newHarness(t, testOptions(), always(allNull, "https://apnews.com/a"))
	h.seed(t, "statewide", b)

	res, err := h.orch.RunDailyUpdate(context.Background(), DailyRequest{})
	require.NoError(t, err)
	assert.False(t, res.Aborted)

	assert.Equal(t, 1, logs.FilterMessage("update: stored ballot has validation problems").Len())
}
