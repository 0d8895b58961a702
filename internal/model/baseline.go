package model

import "time"

// VerifiedBaseline is a human-triggered snapshot of the minimal facts for a
// party's ballot. It is only replaced by an explicit re-seed.
type VerifiedBaseline struct {
	Party    string         `json:"party"`
	SeededAt time.Time      `json:"seededAt"`
	Races    []BaselineRace `json:"races"`
}

// BaselineRace is the trusted shape of one race.
type BaselineRace struct {
	Office     string              `json:"office"`
	District   string              `json:"district,omitempty"`
	Candidates []BaselineCandidate `json:"candidates"`
}

// BaselineCandidate holds the fields checked for fabrication.
type BaselineCandidate struct {
	Name        string `json:"name"`
	IsIncumbent bool   `json:"isIncumbent"`
	Background  string `json:"background,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Withdrawn   bool   `json:"withdrawn,omitempty"`
}

// FindCandidate returns the baseline entry with the exact name.
func (r BaselineRace) FindCandidate(name string) (BaselineCandidate, bool) {
	for _, c := range r.Candidates {
		if c.Name == name {
			return c, true
		}
	}
	return BaselineCandidate{}, false
}

// Manifest tracks the published version of each party ballot in a cycle.
type Manifest struct {
	Cycle     string                   `json:"cycle"`
	Parties   map[string]ManifestEntry `json:"parties"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// ManifestEntry is the per-party version and size metric.
type ManifestEntry struct {
	Version      int       `json:"version"`
	SizeBytes    int       `json:"size_bytes"`
	ApproxTokens int       `json:"approx_tokens"`
	UpdatedAt    time.Time `json:"updated_at"`
}
