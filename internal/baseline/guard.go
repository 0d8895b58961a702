// Package baseline guards merged races against a human-verified snapshot.
//
// The guard never blocks a structurally valid race except when the office
// itself contradicts the snapshot. Everything else is a field-level revert.
package baseline

import (
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/ballot-research/internal/model"
)

// DefaultSimilarityThreshold is the minimum Jaccard similarity a background
// must keep against the baseline text.
const DefaultSimilarityThreshold = 0.4

// ErrOfficeMismatch means the merged race names a different office than its
// baseline counterpart.
var ErrOfficeMismatch = eris.New("baseline: office mismatch")

// Reverted fields.
const (
	FieldOffice     = "office"
	FieldBackground = "background"
	FieldIncumbent  = "isIncumbent"
	FieldWithdrawn  = "withdrawn"
)

// Reversion records one field rolled back to its baseline value.
type Reversion struct {
	RaceKey    string   `json:"raceKey"`
	Candidate  string   `json:"candidate,omitempty"`
	Field      string   `json:"field"`
	Detail     string   `json:"detail"`
	Similarity *float64 `json:"similarity,omitempty"`
}

// Guard compares races against one party's verified baseline.
type Guard struct {
	baseline  *model.VerifiedBaseline
	threshold float64
	folder    cases.Caser
}

// NewGuard creates a guard for b. A nil baseline yields a guard whose Check
// is a no-op. threshold <= 0 selects DefaultSimilarityThreshold.
func NewGuard(b *model.VerifiedBaseline, threshold float64) *Guard {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Guard{baseline: b, threshold: threshold, folder: cases.Fold()}
}

// Enabled reports whether a baseline is loaded.
func (g *Guard) Enabled() bool { return g != nil && g.baseline != nil }

// FindRace locates the baseline race for race: first by identical candidate
// name set, then by race key. The bool is false when nothing matches.
func (g *Guard) FindRace(party string, race model.Race) (model.BaselineRace, bool) {
	if !g.Enabled() {
		return model.BaselineRace{}, false
	}
	names := sortedNames(race.CandidateNames())
	for _, br := range g.baseline.Races {
		bn := make([]string, len(br.Candidates))
		for i, c := range br.Candidates {
			bn[i] = c.Name
		}
		if len(bn) > 0 && slices.Equal(names, sortedNames(bn)) {
			return br, true
		}
	}
	key := race.Key(party)
	for _, br := range g.baseline.Races {
		if model.RaceKey(party, br.Office, br.District) == key {
			return br, true
		}
	}
	return model.BaselineRace{}, false
}

// Check reverts fields of race that contradict the baseline, in place, and
// returns the reversions applied. It returns ErrOfficeMismatch when the
// matched baseline race names another office; race is left untouched then.
func (g *Guard) Check(party string, race *model.Race) ([]Reversion, error) {
	br, ok := g.FindRace(party, *race)
	if !ok {
		return nil, nil
	}
	key := race.Key(party)

	if !g.sameOffice(br.Office, race.Office) {
		rev := Reversion{
			RaceKey: key,
			Field:   FieldOffice,
			Detail:  "baseline office " + br.Office + " does not match " + race.Office,
		}
		return []Reversion{rev}, eris.Wrapf(ErrOfficeMismatch, "baseline: race %s (baseline office %q)", key, br.Office)
	}

	var out []Reversion
	for i := range race.Candidates {
		c := &race.Candidates[i]
		bc, found := br.FindCandidate(c.Name)
		if !found {
			continue
		}

		if bc.Background != "" && !c.Background.IsEmpty() {
			sim := g.Similarity(bc.Background, c.Background.String())
			if sim < g.threshold {
				c.Background = model.PlainText(bc.Background)
				out = append(out, Reversion{
					RaceKey:    key,
					Candidate:  c.Name,
					Field:      FieldBackground,
					Detail:     "background diverged from baseline",
					Similarity: &sim,
				})
			}
		}
		if c.IsIncumbent != bc.IsIncumbent {
			c.IsIncumbent = bc.IsIncumbent
			out = append(out, Reversion{
				RaceKey:   key,
				Candidate: c.Name,
				Field:     FieldIncumbent,
				Detail:    "incumbency flag flipped",
			})
		}
		if bc.Withdrawn && !c.Withdrawn {
			c.Withdrawn = true
			out = append(out, Reversion{
				RaceKey:   key,
				Candidate: c.Name,
				Field:     FieldWithdrawn,
				Detail:    "withdrawn candidate cannot be reinstated",
			})
		}
	}

	for _, r := range out {
		zap.L().Warn("baseline: field reverted",
			zap.String("race", r.RaceKey),
			zap.String("candidate", r.Candidate),
			zap.String("field", r.Field),
		)
	}
	return out, nil
}

// Similarity returns the Jaccard similarity of the case-folded word sets of
// a and b. Two empty texts are identical.
func (g *Guard) Similarity(a, b string) float64 {
	ta, tb := g.tokens(a), g.tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func (g *Guard) tokens(s string) map[string]bool {
	folded := g.folder.String(norm.NFKC.String(s))
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func (g *Guard) sameOffice(a, b string) bool {
	return g.folder.String(strings.TrimSpace(a)) == g.folder.String(strings.TrimSpace(b))
}

// Seed builds a baseline snapshot from a stored ballot.
func Seed(b model.Ballot, now time.Time) model.VerifiedBaseline {
	out := model.VerifiedBaseline{Party: b.Party, SeededAt: now.UTC()}
	for _, r := range b.Races {
		br := model.BaselineRace{Office: r.Office, District: r.District}
		for _, c := range r.Candidates {
			br.Candidates = append(br.Candidates, model.BaselineCandidate{
				Name:        c.Name,
				IsIncumbent: c.IsIncumbent,
				Background:  c.Background.String(),
				Summary:     c.Summary.String(),
				Withdrawn:   c.Withdrawn,
			})
		}
		out.Races = append(out.Races, br)
	}
	return out
}

func sortedNames(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
