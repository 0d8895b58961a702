package update

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/ballot-research/internal/baseline"
	"github.com/sells-group/ballot-research/internal/errlog"
	"github.com/sells-group/ballot-research/internal/merge"
	"github.com/sells-group/ballot-research/internal/metrics"
	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/research"
	"github.com/sells-group/ballot-research/internal/sources"
	"github.com/sells-group/ballot-research/internal/store"
	"github.com/sells-group/ballot-research/internal/validate"
)

// errBallotMissing marks a ballot that has not been seeded.
var errBallotMissing = errors.New("ballot not found")

// partyOutcome counts what happened to one ballot.
type partyOutcome struct {
	updated  int
	failures int
	missing  bool
}

// processParty loads the ballot at (scope, party), researches each due race
// in stored order, and persists the ballot and manifest when anything
// changed. prefix qualifies race keys for non-statewide scopes.
func (o *Orchestrator) processParty(ctx context.Context, r *run, scope, party, prefix string) partyOutcome {
	var out partyOutcome
	key := store.BallotKey(scope, party, o.opts.Cycle)
	ballot, err := o.loadBallot(ctx, key)
	if errors.Is(err, errBallotMissing) && prefix != "" {
		out.missing = true
		return out
	}
	if err != nil {
		r.errs.Add(errlog.CategoryBallotLoad, key, err.Error())
		r.logf("%s: ballot unavailable, skipping party: %v", key, err)
		out.failures++
		return out
	}
	guard := o.loadGuard(ctx, party)
	for i := range ballot.Races {
		if r.aborted || ctx.Err() != nil {
			break
		}
		committed, failed := o.processRace(ctx, r, party, prefix, &ballot.Races[i], guard)
		if committed {
			out.updated++
		}
		if failed {
			out.failures++
		}
	}
	if out.updated == 0 {
		return out
	}
	if r.dryRun {
		r.logf("%s: dry run, %d race(s) not persisted", key, out.updated)
		return out
	}

	now := o.now().UTC()
	ballot.UpdatedAt = &now
	if err := store.PutJSON(ctx, o.store, key, ballot, 0); err != nil {
		r.errs.Add(errlog.CategoryPersist, key, err.Error())
		r.logf("%s: save failed: %v", key, err)
		out.failures++
		return out
	}
	entry, err := bumpManifest(ctx, o.store, o.opts.Cycle, manifestParty(scope, party), ballot, now)
	if err != nil {
		r.errs.Add(errlog.CategoryPersist, store.ManifestKey(o.opts.Cycle), err.Error())
		return out
	}
	r.logf("%s: saved version %d (%d bytes, ~%d tokens)", key, entry.Version, entry.SizeBytes, entry.ApproxTokens)
	return out
}

// manifestParty is the manifest entry name: the party for the primary scope,
// scope:party otherwise.
func manifestParty(scope, party string) string {
	if strings.HasPrefix(scope, "county-") {
		return scope + ":" + party
	}
	return party
}

func (o *Orchestrator) loadBallot(ctx context.Context, key string) (model.Ballot, error) {
	b, ok, err := store.GetJSON[model.Ballot](ctx, o.store, key)
	if err != nil {
		return model.Ballot{}, err
	}
	if !ok {
		return model.Ballot{}, errBallotMissing
	}
	// Stored problems are reported but do not block the run; each race is
	// still validated before commit.
	if errs := validate.ValidateBallot(b); len(errs) > 0 {
		zap.L().Warn("update: stored ballot has validation problems",
			zap.String("key", key),
			zap.Errors("problems", errs),
		)
	}
	return b, nil
}

// loadGuard returns the party's baseline guard. A missing or unreadable
// baseline yields a disabled guard.
func (o *Orchestrator) loadGuard(ctx context.Context, party string) *baseline.Guard {
	b, err := baseline.Load(ctx, o.store, party)
	if err != nil {
		zap.L().Warn("update: baseline unreadable, guard disabled",
			zap.String("party", party),
			zap.Error(err),
		)
		b = nil
	}
	return baseline.NewGuard(b, o.opts.SimilarityThreshold)
}

// processRace runs one race through research, merge, validation, and the
// baseline guard. The race is replaced only when every stage passes.
func (o *Orchestrator) processRace(ctx context.Context, r *run, party, prefix string, race *model.Race, guard *baseline.Guard) (committed, failed bool) {
	key := prefix + race.Key(party)
	now := o.now()

	if skip, days := r.tracker.ShouldSkip(key, now); skip {
		r.logf("%s: skipped (stale, %d day(s) since last research)", key, days)
		o.metrics.RaceOutcome(party, metrics.OutcomeSkipped)
		zap.L().Debug("update: race skipped (stale)", zap.String("race", key), zap.Int("days", days))
		return false, false
	}

	// An open breaker fails the race without spending the call delay.
	if err := r.client.Ready(); err != nil {
		r.fail(key, err)
		o.metrics.RaceOutcome(party, metrics.OutcomeFailed)
		return false, true
	}
	if err := o.pace(ctx, r); err != nil {
		return false, false
	}
	r.researched++
	res, err := r.client.ResearchRace(ctx, research.RaceRequest{
		Party:        party,
		Race:         race.Clone(),
		SearchBudget: o.opts.SearchBudget(race.Office),
	})
	if err != nil {
		r.fail(key, err)
		o.metrics.RaceOutcome(party, metrics.OutcomeFailed)
		return false, true
	}
	if res.NoSearchResults {
		r.errs.Add(errlog.CategoryNoSearchResults, key, "search enabled but no citations returned")
	}
	if res.Repaired {
		r.logf("%s: response repaired (%s)", key, res.Strategy)
	}

	after := race.Clone()
	mres := merge.Apply(&after, res.Update, res.Citations, now)
	if len(mres.Unmatched) > 0 {
		zap.L().Warn("update: update named unknown candidates",
			zap.String("race", key),
			zap.Strings("names", mres.Unmatched),
		)
	}
	if !mres.Meaningful() {
		e := r.tracker.Record(key, false, now)
		r.errs.Add(errlog.CategoryAllNullUpdate, key, fmt.Sprintf("no new information (%d consecutive)", e.NullCount))
		r.logf("%s: no new information", key)
		o.metrics.RaceOutcome(party, metrics.OutcomeUnchanged)
		return false, false
	}
	r.tracker.Record(key, true, now)

	if err := validate.ValidateRaceUpdate(*race, after); err != nil {
		r.fail(key, err)
		o.metrics.RaceOutcome(party, metrics.OutcomeFailed)
		return false, true
	}

	cited := append(append([]model.Source(nil), res.Citations...), res.Update.Sources...)
	for _, cu := range res.Update.Candidates {
		cited = append(cited, cu.Sources...)
	}
	if q := sources.AssessQuality(cited); q.Low() {
		r.errs.Add(errlog.CategoryLowQualitySources, key,
			fmt.Sprintf("%d of %d domains low-signal: %s", len(q.LowSignal), q.Domains, strings.Join(q.LowSignal, ", ")))
	}

	if guard.Enabled() {
		revs, err := guard.Check(party, &after)
		r.reversions = append(r.reversions, revs...)
		if err != nil {
			r.fail(key, err)
			o.metrics.RaceOutcome(party, metrics.OutcomeFailed)
			return false, true
		}
		for _, rev := range revs {
			r.errs.Add(errlog.CategoryBaselineFallback, key, describeReversion(rev))
		}
	}

	*race = after
	r.updated = append(r.updated, key)
	r.logf("%s: updated %d field(s), %d new source(s): %s", key, mres.FieldCount(), mres.SourcesAdded, describeApplied(mres))
	o.metrics.RaceOutcome(party, metrics.OutcomeUpdated)

	o.correctBalance(ctx, r, party, key, race)
	return true, false
}

// correctBalance spends the run's correction budget on the committed race.
func (o *Orchestrator) correctBalance(ctx context.Context, r *run, party, key string, race *model.Race) {
	for _, oc := range r.corrector.Correct(ctx, party, race) {
		ctxKey := key + "#" + oc.Candidate
		switch {
		case oc.Success:
			r.errs.Add(errlog.CategoryBalanceSuccess, ctxKey, "fixed "+strings.Join(oc.Fixed, ", "))
			r.logf("%s: balance corrected (%s)", ctxKey, strings.Join(oc.Fixed, ", "))
		case oc.Attempted:
			r.errs.Add(errlog.CategoryBalanceFailed, ctxKey, oc.Detail)
			r.logf("%s: balance correction failed: %s", ctxKey, oc.Detail)
		default:
			r.logf("%s: balance flags %s left uncorrected: %s", ctxKey, strings.Join(oc.Flags, ", "), oc.Detail)
		}
	}
}

func describeApplied(m merge.Result) string {
	var parts []string
	for name, fields := range m.Applied {
		parts = append(parts, fmt.Sprintf("%s[%s]", name, strings.Join(fields, ",")))
	}
	slices.Sort(parts)
	return strings.Join(parts, " ")
}

func describeReversion(rev baseline.Reversion) string {
	s := rev.Field + " reverted"
	if rev.Candidate != "" {
		s = rev.Candidate + ": " + s
	}
	if rev.Similarity != nil {
		s += fmt.Sprintf(" (similarity %.2f)", *rev.Similarity)
	}
	if rev.Detail != "" {
		s += ": " + rev.Detail
	}
	return s
}
