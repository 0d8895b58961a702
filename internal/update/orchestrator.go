// Package update runs the daily candidate update and the secondary county
// refresh.
package update

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ballot-research/internal/balance"
	"github.com/sells-group/ballot-research/internal/baseline"
	"github.com/sells-group/ballot-research/internal/cost"
	"github.com/sells-group/ballot-research/internal/errlog"
	"github.com/sells-group/ballot-research/internal/metrics"
	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/research"
	"github.com/sells-group/ballot-research/internal/resilience"
	"github.com/sells-group/ballot-research/internal/staleness"
	"github.com/sells-group/ballot-research/internal/store"
)

// errRunAborted short-circuits calls after the run was aborted.
var errRunAborted = eris.New("update: run aborted")

// Run kinds recorded in the update log.
const (
	KindDaily   = "daily"
	KindRefresh = "refresh"
)

// Orchestrator drives update runs over the stored ballots.
type Orchestrator struct {
	opts     Options
	store    store.Store
	research *research.Client
	scorer   balance.Scorer
	usage    cost.Recorder
	calc     *cost.Calculator
	metrics  *metrics.Metrics
	sleeper  resilience.Sleeper
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScorer replaces the balance scorer.
func WithScorer(s balance.Scorer) Option {
	return func(o *Orchestrator) { o.scorer = s }
}

// WithUsage sends priced usage events to r. Dry runs never forward.
func WithUsage(r cost.Recorder) Option {
	return func(o *Orchestrator) { o.usage = r }
}

// WithCalculator replaces the pricing used for run totals.
func WithCalculator(c *cost.Calculator) Option {
	return func(o *Orchestrator) { o.calc = c }
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSleeper replaces the sleeper used for the inter-call delay.
func WithSleeper(s resilience.Sleeper) Option {
	return func(o *Orchestrator) { o.sleeper = s }
}

// WithClock replaces the clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(opts Options, st store.Store, rc *research.Client, options ...Option) *Orchestrator {
	o := &Orchestrator{
		opts:     opts.withDefaults(),
		store:    st,
		research: rc,
		scorer:   balance.FloorScorer{},
		usage:    cost.NopRecorder{},
		calc:     cost.NewCalculator(cost.DefaultRates()),
		sleeper:  resilience.TimerSleeper{},
		now:      time.Now,
	}
	for _, fn := range options {
		fn(o)
	}
	return o
}

// DailyRequest selects what a daily run covers.
type DailyRequest struct {
	// Parties defaults to every configured party.
	Parties     []string
	DryRun      bool
	SkipRefresh bool
}

// RefreshRequest selects what a secondary refresh covers.
type RefreshRequest struct {
	// Counties defaults to every configured county.
	Counties []string
	DryRun   bool
}

// Result is the outcome of a daily run.
type Result struct {
	RunID          string         `json:"runId"`
	DryRun         bool           `json:"dryRun,omitempty"`
	Skipped        bool           `json:"skipped,omitempty"`
	SkipReason     string         `json:"skipReason,omitempty"`
	Aborted        bool           `json:"aborted,omitempty"`
	Updated        []string       `json:"updated"`
	Errors         []errlog.Entry `json:"errors"`
	Log            []string       `json:"log"`
	AIErrorSummary errlog.Summary `json:"aiErrorSummary"`
	Refresh        *RefreshResult `json:"refresh,omitempty"`
	Usage          cost.Totals    `json:"usage"`
}

// RefreshResult is the outcome of a secondary refresh.
type RefreshResult struct {
	RunID     string         `json:"runId"`
	Skipped   bool           `json:"skipped,omitempty"`
	Aborted   bool           `json:"aborted,omitempty"`
	Counties  []string       `json:"counties"`
	Refreshed []string       `json:"refreshed"`
	Errors    []errlog.Entry `json:"errors"`
	Log       []string       `json:"log"`
	Usage     cost.Totals    `json:"usage"`
}

// RunDailyUpdate researches every due race of the requested parties and
// commits validated changes. Per-race failures are recorded in the result;
// the error is non-nil only when the run could not start.
func (o *Orchestrator) RunDailyUpdate(ctx context.Context, req DailyRequest) (*Result, error) {
	start := o.now()
	runID := uuid.NewString()
	res := &Result{RunID: runID, DryRun: req.DryRun, Updated: []string{}, Errors: []errlog.Entry{}, Log: []string{}}

	if o.opts.pastCutoff(start) {
		res.Skipped = true
		res.SkipReason = fmt.Sprintf("past election cutoff %s", o.opts.Cutoff.Format(time.DateOnly))
		res.Log = append(res.Log, res.SkipReason)
		zap.L().Info("update: run skipped", zap.String("reason", res.SkipReason))
		return res, nil
	}

	l, err := acquireLease(ctx, o.store, runID, o.opts.LeaseTTL)
	if err != nil {
		return nil, err
	}
	defer l.release(context.WithoutCancel(ctx))

	r := o.newRun(ctx, runID, KindDaily, req.DryRun, start)
	r.lease = l
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("update: daily run starting", zap.Bool("dry_run", req.DryRun))

	parties := req.Parties
	if len(parties) == 0 {
		parties = o.opts.Parties
	}
	for _, party := range parties {
		if r.aborted || ctx.Err() != nil {
			break
		}
		o.processParty(ctx, r, o.opts.Scope, party, "")
	}
	if ctx.Err() != nil {
		r.logf("run cancelled: %v", ctx.Err())
	}

	o.finish(ctx, r, !req.DryRun)

	if !req.SkipRefresh && !r.aborted && ctx.Err() == nil && len(o.opts.Counties) > 0 {
		refresh := o.refresh(ctx, l, RefreshRequest{DryRun: req.DryRun}, r.calls > 0)
		res.Refresh = refresh
		if refresh.Aborted {
			res.Aborted = true
		}
	}

	res.Aborted = res.Aborted || r.aborted
	res.Updated = append(res.Updated, r.updated...)
	res.Errors = append(res.Errors, r.errs.Entries()...)
	res.Log = append(res.Log, r.lines...)
	res.AIErrorSummary = r.errs.Summary()
	res.Usage = r.usage.snapshot()

	end := o.now()
	o.metrics.ObserveRun(end.Sub(start), end)
	log.Info("update: daily run complete",
		zap.Int("updated", len(res.Updated)),
		zap.Int("errors", len(res.Errors)),
		zap.Bool("aborted", res.Aborted),
		zap.String("summary", res.AIErrorSummary.String()),
		zap.Float64("cost_usd", res.Usage.CostUSD),
	)
	return res, nil
}

// RunSecondaryRefresh refreshes the county ballots on its own lease.
func (o *Orchestrator) RunSecondaryRefresh(ctx context.Context, req RefreshRequest) (*RefreshResult, error) {
	if o.opts.pastCutoff(o.now()) {
		return &RefreshResult{Skipped: true, Counties: []string{}, Refreshed: []string{}, Errors: []errlog.Entry{},
			Log: []string{fmt.Sprintf("past election cutoff %s", o.opts.Cutoff.Format(time.DateOnly))}}, nil
	}
	token := uuid.NewString()
	l, err := acquireLease(ctx, o.store, token, o.opts.LeaseTTL)
	if err != nil {
		return nil, err
	}
	defer l.release(context.WithoutCancel(ctx))
	return o.refresh(ctx, l, req, false), nil
}

// run is the mutable state of one run.
type run struct {
	id      string
	kind    string
	dryRun  bool
	started time.Time

	lease     *lease
	client    *research.Client
	corrector *balance.Corrector
	tracker   *staleness.Tracker
	usage     *runUsage
	errs      *errlog.Collector

	lines      []string
	updated    []string
	reversions []baseline.Reversion
	researched int
	failed     int
	calls      int
	aborted    bool
}

func (o *Orchestrator) newRun(ctx context.Context, id, kind string, dryRun bool, start time.Time) *run {
	r := &run{
		id:      id,
		kind:    kind,
		dryRun:  dryRun,
		started: start,
		errs:    errlog.NewCollector(id).WithClock(o.now).OnAdd(o.metrics.ObserveEntry),
		usage: &runUsage{
			runID:   id,
			dryRun:  dryRun,
			sink:    o.usage,
			calc:    o.calc,
			metrics: o.metrics,
		},
	}
	r.client = o.research.Recording(r.usage)
	r.corrector = balance.NewCorrector(o.scorer, pacedResearcher{o: o, r: r}, o.opts.MaxBalanceCorrections)

	tracker, err := staleness.Load(ctx, o.store, o.opts.Staleness)
	if err != nil {
		r.errs.Add(errlog.CategoryBallotLoad, store.StalenessTrackerKey, err.Error())
		r.logf("staleness tracker unreadable, starting empty: %v", err)
		tracker = staleness.New(o.opts.Staleness)
	}
	r.tracker = tracker
	return r
}

func (r *run) logf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

// pace renews the run lease, then sleeps the inter-call delay before every
// external call but the first.
func (o *Orchestrator) pace(ctx context.Context, r *run) error {
	if err := r.holdLease(ctx); err != nil {
		return err
	}
	if r.calls > 0 && o.opts.CallDelay > 0 {
		if err := o.sleeper.Sleep(ctx, o.opts.CallDelay); err != nil {
			return err
		}
	}
	r.calls++
	return nil
}

// holdLease extends the run lease ahead of a call. A lease taken over by
// another run aborts this one; a store error is logged and the run goes on.
func (r *run) holdLease(ctx context.Context) error {
	held, err := r.lease.renew(ctx)
	if err != nil {
		zap.L().Warn("update: lease renewal failed", zap.String("run_id", r.id), zap.Error(err))
		return nil
	}
	if held {
		return nil
	}
	if !r.aborted {
		r.aborted = true
		r.logf("run lease lost, aborting remaining races")
		zap.L().Error("update: run lease lost, aborting run", zap.String("run_id", r.id))
	}
	return errLeaseLost
}

// fail records a race failure and aborts the run on authentication errors.
func (r *run) fail(key string, err error) {
	r.failed++
	e := r.errs.AddError(key, err)
	r.logf("%s: %s: %v", key, e.Category, err)
	r.abortOnAuth(key, err)
}

// abortOnAuth stops the rest of the run after an authentication failure.
// Every later call would fail the same way.
func (r *run) abortOnAuth(key string, err error) {
	if !resilience.IsAuth(err) || r.aborted {
		return
	}
	r.aborted = true
	r.logf("authentication failed, aborting remaining races")
	zap.L().Error("update: authentication failed, aborting run",
		zap.String("run_id", r.id),
		zap.String("context", key),
		zap.Error(err),
	)
}

// finish persists the run's trackers and logs unless persist is false.
func (o *Orchestrator) finish(ctx context.Context, r *run, persist bool) {
	if !persist {
		return
	}
	ctx = context.WithoutCancel(ctx)
	now := o.now()

	if err := r.tracker.Save(ctx, o.store); err != nil {
		r.errs.Add(errlog.CategoryPersist, store.StalenessTrackerKey, err.Error())
	}
	if err := baseline.AppendFallbackLog(ctx, o.store, r.reversions, now); err != nil {
		r.errs.Add(errlog.CategoryPersist, store.FallbackLogKey, err.Error())
	}
	rec := RunRecord{
		RunID:      r.id,
		Kind:       r.kind,
		StartedAt:  r.started.UTC(),
		FinishedAt: now.UTC(),
		Aborted:    r.aborted,
		Researched: r.researched,
		Failed:     r.failed,
		Updated:    r.updated,
		Lines:      r.lines,
	}
	if err := appendUpdateLog(ctx, o.store, rec, now); err != nil {
		r.errs.Add(errlog.CategoryPersist, store.UpdateLogKey(now), err.Error())
	}
	if err := errlog.Persist(ctx, o.store, r.errs.Entries(), now); err != nil {
		zap.L().Error("update: persist error log", zap.String("run_id", r.id), zap.Error(err))
	}
}

// runUsage stamps, prices, and totals the usage of one run. Events reach
// the persistent sink only outside dry runs.
type runUsage struct {
	runID   string
	dryRun  bool
	sink    cost.Recorder
	calc    *cost.Calculator
	metrics *metrics.Metrics

	mu     sync.Mutex
	totals cost.Totals
}

// Record implements cost.Recorder.
func (u *runUsage) Record(ev cost.UsageEvent) {
	ev.RunID = u.runID
	if ev.CostUSD == 0 && u.calc != nil {
		ev.CostUSD = u.calc.Estimate(ev)
	}
	u.mu.Lock()
	u.totals.Add(ev)
	u.mu.Unlock()

	u.metrics.Record(ev)
	if !u.dryRun && u.sink != nil {
		u.sink.Record(ev)
	}
}

func (u *runUsage) snapshot() cost.Totals {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.totals
	if u.totals.ByPurpose != nil {
		out.ByPurpose = make(map[string]int, len(u.totals.ByPurpose))
		for k, v := range u.totals.ByPurpose {
			out.ByPurpose[k] = v
		}
	}
	return out
}

// pacedResearcher applies the inter-call delay to balance follow-ups.
type pacedResearcher struct {
	o *Orchestrator
	r *run
}

func (p pacedResearcher) ResearchBalance(ctx context.Context, req balance.Request) (*model.BalanceUpdate, []model.Source, error) {
	if p.r.aborted {
		return nil, nil, errRunAborted
	}
	if err := p.r.client.Ready(); err != nil {
		return nil, nil, err
	}
	if err := p.o.pace(ctx, p.r); err != nil {
		return nil, nil, err
	}
	upd, cites, err := p.r.client.ResearchBalance(ctx, req)
	if err != nil {
		p.r.abortOnAuth(req.Race.Key(req.Party)+"#"+req.Candidate.Name, err)
	}
	return upd, cites, err
}
