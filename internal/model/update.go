package model

import "encoding/json"

// RaceUpdate is the structured response requested from the research
// service. Every candidate field is either new information or null.
type RaceUpdate struct {
	Candidates []CandidateUpdate `json:"candidates"`
	Sources    []Source          `json:"sources,omitempty"`
}

// Usable reports whether the update names at least one candidate. A nested
// object decoded as a RaceUpdate has none.
func (u RaceUpdate) Usable() bool { return len(u.Candidates) > 0 }

// CandidateUpdate carries the proposed content changes for one candidate.
// Endorsements stay raw because the service returns bare strings as often
// as {name, type} objects.
type CandidateUpdate struct {
	Name         string            `json:"name"`
	Polling      OptionalText      `json:"polling"`
	Fundraising  OptionalText      `json:"fundraising"`
	Endorsements []json.RawMessage `json:"endorsements"`
	KeyPositions []string          `json:"keyPositions"`
	Pros         []string          `json:"pros"`
	Cons         []string          `json:"cons"`
	Summary      OptionalText      `json:"summary"`
	Background   OptionalText      `json:"background"`
	Sources      []Source          `json:"sources,omitempty"`
}

// BalanceUpdate is the narrow response to a balance correction request.
type BalanceUpdate struct {
	Pros    []string `json:"pros"`
	Cons    []string `json:"cons"`
	Sources []Source `json:"sources,omitempty"`
}

// Usable reports whether the response proposes any pros or cons.
func (u BalanceUpdate) Usable() bool { return len(u.Pros) > 0 || len(u.Cons) > 0 }
