// Package validate enforces structural invariants on races and ballots.
// Every function here is pure.
package validate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/sources"
)

// Reason identifies which invariant failed.
type Reason string

const (
	ReasonCandidateCount     Reason = "candidate_count_changed"
	ReasonCandidateNames     Reason = "candidate_names_changed"
	ReasonEndorsementDrop    Reason = "endorsements_shrank"
	ReasonBalanceFloor       Reason = "pros_cons_floor"
	ReasonEmptyName          Reason = "empty_name"
	ReasonEmptySummary       Reason = "empty_summary"
	ReasonInvalidSourceURL   Reason = "invalid_source_url"
	ReasonTooManySources     Reason = "too_many_sources"
	ReasonMissingParty       Reason = "missing_party"
	ReasonMissingOffice      Reason = "missing_office"
	ReasonDuplicateRace      Reason = "duplicate_race"
	ReasonDuplicateCandidate Reason = "duplicate_candidate"
)

// MinProsCons is the floor on pros and cons for every active candidate.
const MinProsCons = 2

// MinEndorsementRetention is the smallest fraction of a non-empty
// endorsement list an update may keep.
const MinEndorsementRetention = 0.5

// Error is a validation failure with a machine-readable reason.
type Error struct {
	Reason    Reason
	Candidate string
	Detail    string
}

func (e *Error) Error() string {
	msg := "validate: " + string(e.Reason)
	if e.Candidate != "" {
		msg += " (" + e.Candidate + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// ValidateRaceUpdate checks a merged race against the race it replaces and
// returns the first violation found, or nil.
func ValidateRaceUpdate(before, after model.Race) error {
	if len(before.Candidates) != len(after.Candidates) {
		return &Error{
			Reason: ReasonCandidateCount,
			Detail: fmt.Sprintf("%d -> %d", len(before.Candidates), len(after.Candidates)),
		}
	}
	if !sameNameSet(before.CandidateNames(), after.CandidateNames()) {
		return &Error{
			Reason: ReasonCandidateNames,
			Detail: fmt.Sprintf("%v -> %v", before.CandidateNames(), after.CandidateNames()),
		}
	}

	for _, a := range after.Candidates {
		b := before.FindCandidate(a.Name)
		if b != nil {
			old, cur := len(b.Endorsements), len(a.Endorsements)
			if old > 0 && cur > 0 && float64(cur) < float64(old)*MinEndorsementRetention {
				return &Error{
					Reason:    ReasonEndorsementDrop,
					Candidate: a.Name,
					Detail:    fmt.Sprintf("%d -> %d", old, cur),
				}
			}
		}
		if ve := validateCandidate(a); ve != nil {
			return ve
		}
	}
	return nil
}

// ValidateBallot checks a whole ballot for structural problems. It returns
// every violation found.
func ValidateBallot(b model.Ballot) []error {
	var errs []error
	if strings.TrimSpace(b.Party) == "" {
		errs = append(errs, &Error{Reason: ReasonMissingParty})
	}

	seenRaces := make(map[string]bool)
	for _, r := range b.Races {
		if strings.TrimSpace(r.Office) == "" {
			errs = append(errs, &Error{Reason: ReasonMissingOffice})
			continue
		}
		key := r.Key(b.Party)
		if seenRaces[key] {
			errs = append(errs, &Error{Reason: ReasonDuplicateRace, Detail: key})
		}
		seenRaces[key] = true

		seenNames := make(map[string]bool)
		for _, c := range r.Candidates {
			if seenNames[c.Name] && c.Name != "" {
				errs = append(errs, &Error{Reason: ReasonDuplicateCandidate, Candidate: c.Name, Detail: key})
			}
			seenNames[c.Name] = true
			if ve := validateCandidate(c); ve != nil {
				ve.Detail = strings.TrimSpace(key + " " + ve.Detail)
				errs = append(errs, ve)
			}
		}
	}
	return errs
}

// CountEntries returns the number of non-blank entries in a pros or cons list.
func CountEntries(list []string) int {
	n := 0
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

// MeetsFloor reports whether list has at least MinProsCons non-blank entries.
func MeetsFloor(list []string) bool {
	return CountEntries(list) >= MinProsCons
}

func validateCandidate(c model.Candidate) *Error {
	if strings.TrimSpace(c.Name) == "" {
		return &Error{Reason: ReasonEmptyName}
	}
	if c.Summary.IsEmpty() {
		return &Error{Reason: ReasonEmptySummary, Candidate: c.Name}
	}
	if c.Active() {
		if !MeetsFloor(c.Pros) || !MeetsFloor(c.Cons) {
			return &Error{
				Reason:    ReasonBalanceFloor,
				Candidate: c.Name,
				Detail:    fmt.Sprintf("pros=%d cons=%d", len(c.Pros), len(c.Cons)),
			}
		}
	}
	if len(c.Sources) > model.MaxSources {
		return &Error{Reason: ReasonTooManySources, Candidate: c.Name, Detail: fmt.Sprint(len(c.Sources))}
	}
	for _, s := range c.Sources {
		if !sources.Valid(s.URL) {
			return &Error{Reason: ReasonInvalidSourceURL, Candidate: c.Name, Detail: s.URL}
		}
	}
	return nil
}

func sameNameSet(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
