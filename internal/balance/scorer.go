// Package balance enforces the pros/cons fairness floor on committed races.
package balance

import (
	"strings"

	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/validate"
)

// Flags raised by a Scorer.
const (
	FlagMissingPros = "missing_pros"
	FlagMissingCons = "missing_cons"
	FlagMissingBoth = "missing_both"
)

// Score is a scorer's verdict on one candidate.
type Score struct {
	Flags    []string
	Critical bool
	// Balance is min/max of the substantive pros and cons counts, in [0,1].
	Balance float64
}

// NeedsPros reports whether the pros list must be fixed.
func (s Score) NeedsPros() bool { return s.has(FlagMissingPros) || s.has(FlagMissingBoth) }

// NeedsCons reports whether the cons list must be fixed.
func (s Score) NeedsCons() bool { return s.has(FlagMissingCons) || s.has(FlagMissingBoth) }

func (s Score) has(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Scorer rates a candidate for fairness problems.
type Scorer interface {
	Score(c model.Candidate) Score
}

var placeholders = map[string]bool{
	"n/a": true, "na": true, "none": true, "unknown": true, "tbd": true,
	"null": true, "-": true, "not available": true, "no information": true,
	"none found": true, "no data": true,
}

// Substantive returns the entries of list that carry real content.
func Substantive(list []string) []string {
	var out []string
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" || placeholders[strings.ToLower(strings.Trim(s, "."))] {
			continue
		}
		out = append(out, s)
	}
	return out
}

// FloorScorer flags candidates with fewer than the validator's minimum of
// substantive pros or cons.
type FloorScorer struct{}

// Score implements Scorer.
func (FloorScorer) Score(c model.Candidate) Score {
	pros, cons := len(Substantive(c.Pros)), len(Substantive(c.Cons))
	s := Score{Balance: ratio(pros, cons)}
	if !c.Active() {
		return s
	}
	lowPros, lowCons := pros < validate.MinProsCons, cons < validate.MinProsCons
	switch {
	case lowPros && lowCons:
		s.Flags = []string{FlagMissingBoth}
	case lowPros:
		s.Flags = []string{FlagMissingPros}
	case lowCons:
		s.Flags = []string{FlagMissingCons}
	}
	s.Critical = len(s.Flags) > 0
	return s
}

func ratio(a, b int) float64 {
	lo, hi := min(a, b), max(a, b)
	if hi == 0 {
		return 0
	}
	return float64(lo) / float64(hi)
}
