package update

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/ballot-research/internal/errlog"
	"github.com/sells-group/ballot-research/internal/staleness"
	"github.com/sells-group/ballot-research/internal/store"
)

// refresh runs the secondary county refresh under the caller's lease l.
// County ballots go through the same research, merge, validation, and guard
// stages as the primary ballots; the party baseline applies only where a
// baseline race matches. afterCall paces the first county call behind a
// preceding one.
func (o *Orchestrator) refresh(ctx context.Context, l *lease, req RefreshRequest, afterCall bool) *RefreshResult {
	start := o.now()
	r := o.newRun(ctx, uuid.NewString(), KindRefresh, req.DryRun, start)
	r.lease = l
	if afterCall {
		r.calls = 1
	}
	res := &RefreshResult{RunID: r.id, Counties: []string{}, Refreshed: []string{}}

	counties, err := staleness.LoadCounties(ctx, o.store)
	if err != nil {
		r.errs.Add(errlog.CategoryBallotLoad, store.CountyRefreshKey, err.Error())
		r.logf("county tracker unreadable, starting empty: %v", err)
		counties = &staleness.CountyTracker{Counties: make(map[string]staleness.CountyRecord)}
	}

	candidates := req.Counties
	if len(candidates) == 0 {
		candidates = o.opts.Counties
	}
	selected := counties.Select(candidates, o.opts.RefreshMaxCounties)
	res.Counties = append(res.Counties, selected...)

	log := zap.L().With(zap.String("run_id", r.id))
	log.Info("update: secondary refresh starting",
		zap.Strings("counties", selected),
		zap.Bool("dry_run", req.DryRun),
	)

	for _, county := range selected {
		if r.aborted || ctx.Err() != nil {
			break
		}
		scope := store.CountyScope(county)
		updated, failures, found := 0, 0, 0
		for _, party := range o.opts.Parties {
			if r.aborted || ctx.Err() != nil {
				break
			}
			out := o.processParty(ctx, r, scope, party, scope+":")
			if out.missing {
				continue
			}
			found++
			updated += out.updated
			failures += out.failures
		}
		if found == 0 {
			r.logf("%s: no county ballots seeded", county)
		}
		counties.Record(county, updated, failures, o.now())
	}

	if !req.DryRun {
		if err := counties.Save(context.WithoutCancel(ctx), o.store); err != nil {
			r.errs.Add(errlog.CategoryPersist, store.CountyRefreshKey, err.Error())
		}
	}
	o.finish(ctx, r, !req.DryRun)

	res.Aborted = r.aborted
	res.Refreshed = append(res.Refreshed, r.updated...)
	res.Errors = append([]errlog.Entry{}, r.errs.Entries()...)
	res.Log = append([]string{}, r.lines...)
	res.Usage = r.usage.snapshot()
	log.Info("update: secondary refresh complete",
		zap.Int("refreshed", len(res.Refreshed)),
		zap.Int("errors", len(res.Errors)),
		zap.Bool("aborted", res.Aborted),
	)
	return res
}
