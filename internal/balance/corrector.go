package balance

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ballot-research/internal/merge"
	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/sources"
	"github.com/sells-group/ballot-research/internal/validate"
)

// DefaultMaxCorrections is the per-run correction budget.
const DefaultMaxCorrections = 10

// RequestedEntries is how many pros or cons a correction asks for.
const RequestedEntries = 3

// Request is a narrow follow-up for one candidate.
type Request struct {
	Party     string
	Race      model.Race
	Candidate model.Candidate
	NeedPros  bool
	NeedCons  bool
}

// Researcher performs the follow-up research call.
type Researcher interface {
	ResearchBalance(ctx context.Context, req Request) (*model.BalanceUpdate, []model.Source, error)
}

// Outcome reports what happened to one flagged candidate.
type Outcome struct {
	Candidate string
	Flags     []string
	Attempted bool
	Success   bool
	// Fixed lists the fields replaced on success.
	Fixed  []string
	Detail string
	Err    error
}

// Corrector spends a shared budget of follow-up calls on critical flags. It
// is created once per run.
type Corrector struct {
	scorer     Scorer
	researcher Researcher
	remaining  int
	now        func() time.Time
}

// NewCorrector creates a corrector with budget attempts. A nil scorer selects
// FloorScorer.
func NewCorrector(scorer Scorer, researcher Researcher, budget int) *Corrector {
	if scorer == nil {
		scorer = FloorScorer{}
	}
	if budget < 0 {
		budget = 0
	}
	return &Corrector{scorer: scorer, researcher: researcher, remaining: budget, now: time.Now}
}

// Remaining returns the unspent budget.
func (c *Corrector) Remaining() int { return c.remaining }

// Correct scores every active candidate of race, stores each balance score,
// and issues follow-ups for critical flags while budget remains. Accepted
// corrections are written into race in place. It returns one outcome per
// flagged candidate.
func (c *Corrector) Correct(ctx context.Context, party string, race *model.Race) []Outcome {
	var out []Outcome
	for i := range race.Candidates {
		cand := &race.Candidates[i]
		score := c.scorer.Score(*cand)
		b := score.Balance
		cand.BalanceScore = &b
		if !cand.Active() || !score.Critical {
			continue
		}

		o := Outcome{Candidate: cand.Name, Flags: score.Flags}
		if c.remaining <= 0 {
			o.Detail = "correction budget exhausted"
			out = append(out, o)
			continue
		}
		if ctx.Err() != nil {
			o.Detail = "context done"
			o.Err = ctx.Err()
			out = append(out, o)
			continue
		}

		c.remaining--
		o.Attempted = true
		c.correctOne(ctx, party, race, cand, score, &o)
		out = append(out, o)
	}
	return out
}

func (c *Corrector) correctOne(ctx context.Context, party string, race *model.Race, cand *model.Candidate, score Score, o *Outcome) {
	req := Request{
		Party:     party,
		Race:      race.Clone(),
		Candidate: cand.Clone(),
		NeedPros:  score.NeedsPros(),
		NeedCons:  score.NeedsCons(),
	}
	upd, citations, err := c.researcher.ResearchBalance(ctx, req)
	if err != nil {
		o.Err = eris.Wrapf(err, "balance: correct %s", cand.Name)
		o.Detail = err.Error()
		return
	}
	if upd == nil {
		upd = &model.BalanceUpdate{}
	}

	pros, cons := Substantive(upd.Pros), Substantive(upd.Cons)
	if req.NeedPros && len(pros) < validate.MinProsCons {
		o.Detail = "correction returned too few pros"
		return
	}
	if req.NeedCons && len(cons) < validate.MinProsCons {
		o.Detail = "correction returned too few cons"
		return
	}

	if req.NeedPros {
		cand.Pros = pros
		o.Fixed = append(o.Fixed, merge.FieldPros)
	}
	if req.NeedCons {
		cand.Cons = cons
		o.Fixed = append(o.Fixed, merge.FieldCons)
	}
	now := c.now().UTC()
	incoming := append(append([]model.Source(nil), upd.Sources...), citations...)
	merged, added := sources.Merge(cand.Sources, incoming, now.Format(time.DateOnly))
	cand.Sources = merged
	if added > 0 {
		cand.SourcesUpdatedAt = &now
	}
	b := c.scorer.Score(*cand).Balance
	cand.BalanceScore = &b
	merge.RecomputeConfidence(race)

	o.Success = true
	zap.L().Info("balance: correction accepted",
		zap.String("candidate", cand.Name),
		zap.Strings("fixed", o.Fixed),
	)
}
