package model

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Confidence levels derived from a candidate's best source tier.
const (
	ConfidenceVerified      = "verified"
	ConfidenceModelInferred = "model-inferred"
)

// MaxSources caps the number of sources kept per candidate.
const MaxSources = 20

// Ballot is the full set of races for one party, scope, and election cycle.
type Ballot struct {
	Party     string     `json:"party" yaml:"party"`
	Scope     string     `json:"scope,omitempty" yaml:"scope,omitempty"`
	Cycle     string     `json:"cycle,omitempty" yaml:"cycle,omitempty"`
	Races     []Race     `json:"races" yaml:"races"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Race is a single contest. Identity is (office, district).
type Race struct {
	Office      string      `json:"office" yaml:"office"`
	District    string      `json:"district,omitempty" yaml:"district,omitempty"`
	IsContested bool        `json:"isContested" yaml:"isContested"`
	Candidates  []Candidate `json:"candidates" yaml:"candidates"`
}

// Candidate holds the researched content for one person on the ballot.
// Name is the identity and never changes once seeded.
type Candidate struct {
	Name             string                     `json:"name" yaml:"name"`
	IsIncumbent      bool                       `json:"isIncumbent" yaml:"isIncumbent"`
	Withdrawn        bool                       `json:"withdrawn,omitempty" yaml:"withdrawn,omitempty"`
	Summary          TextField                  `json:"summary" yaml:"summary"`
	Background       TextField                  `json:"background" yaml:"background"`
	KeyPositions     []string                   `json:"keyPositions,omitempty" yaml:"keyPositions,omitempty"`
	Endorsements     []Endorsement              `json:"endorsements,omitempty" yaml:"endorsements,omitempty"`
	Pros             []string                   `json:"pros" yaml:"pros"`
	Cons             []string                   `json:"cons" yaml:"cons"`
	Polling          string                     `json:"polling,omitempty" yaml:"polling,omitempty"`
	Fundraising      string                     `json:"fundraising,omitempty" yaml:"fundraising,omitempty"`
	Sources          []Source                   `json:"sources,omitempty" yaml:"sources,omitempty"`
	SourcesUpdatedAt *time.Time                 `json:"sourcesUpdatedAt,omitempty" yaml:"sourcesUpdatedAt,omitempty"`
	Confidence       map[string]FieldConfidence `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	BalanceScore     *float64                   `json:"balanceScore,omitempty" yaml:"balanceScore,omitempty"`
}

// Endorsement is normalized to {name, type} regardless of input shape.
type Endorsement struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Source is a citation attached to a candidate.
type Source struct {
	URL        string `json:"url" yaml:"url"`
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	AccessDate string `json:"accessDate,omitempty" yaml:"accessDate,omitempty"`
}

// UnmarshalJSON also accepts a bare URL string.
func (s *Source) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var u string
		if err := json.Unmarshal(data, &u); err != nil {
			return err
		}
		*s = Source{URL: u}
		return nil
	}
	type plain Source
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Source(p)
	return nil
}

// FieldConfidence records how a field's value is supported.
type FieldConfidence struct {
	Level  string `json:"level" yaml:"level"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// RaceKey builds the stable identifier party/office[/district].
func RaceKey(party, office, district string) string {
	key := party + "/" + office
	if district != "" {
		key += "/" + district
	}
	return key
}

// Key returns the race key for this race within a party ballot.
func (r Race) Key(party string) string {
	return RaceKey(party, r.Office, r.District)
}

// CandidateNames returns the names in stored order.
func (r Race) CandidateNames() []string {
	names := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		names[i] = c.Name
	}
	return names
}

// FindCandidate returns a pointer to the candidate with the exact name.
func (r *Race) FindCandidate(name string) *Candidate {
	for i := range r.Candidates {
		if r.Candidates[i].Name == name {
			return &r.Candidates[i]
		}
	}
	return nil
}

// Active reports whether the candidate is still running.
func (c Candidate) Active() bool { return !c.Withdrawn }

// Clone returns a deep copy of the candidate.
func (c Candidate) Clone() Candidate {
	out := c
	out.Summary = c.Summary.Clone()
	out.Background = c.Background.Clone()
	out.KeyPositions = slices.Clone(c.KeyPositions)
	out.Endorsements = slices.Clone(c.Endorsements)
	out.Pros = slices.Clone(c.Pros)
	out.Cons = slices.Clone(c.Cons)
	out.Sources = slices.Clone(c.Sources)
	if c.SourcesUpdatedAt != nil {
		t := *c.SourcesUpdatedAt
		out.SourcesUpdatedAt = &t
	}
	if c.Confidence != nil {
		out.Confidence = make(map[string]FieldConfidence, len(c.Confidence))
		for k, v := range c.Confidence {
			out.Confidence[k] = v
		}
	}
	if c.BalanceScore != nil {
		b := *c.BalanceScore
		out.BalanceScore = &b
	}
	return out
}

// Clone returns a deep copy of the race.
func (r Race) Clone() Race {
	out := r
	out.Candidates = make([]Candidate, len(r.Candidates))
	for i, c := range r.Candidates {
		out.Candidates[i] = c.Clone()
	}
	return out
}

// Clone returns a deep copy of the ballot.
func (b Ballot) Clone() Ballot {
	out := b
	out.Races = make([]Race, len(b.Races))
	for i, r := range b.Races {
		out.Races[i] = r.Clone()
	}
	if b.UpdatedAt != nil {
		t := *b.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}
