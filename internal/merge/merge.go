// Package merge applies research updates onto stored races.
//
// Only whitelisted content fields are written, and only when the update
// carries a non-null, non-empty value, so a null field means "no new
// information" rather than an erasure. Identity fields (name, incumbency,
// withdrawn) are never touched here.
package merge

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/sources"
)

// Whitelisted content fields.
const (
	FieldPolling      = "polling"
	FieldFundraising  = "fundraising"
	FieldEndorsements = "endorsements"
	FieldKeyPositions = "keyPositions"
	FieldPros         = "pros"
	FieldCons         = "cons"
	FieldSummary      = "summary"
	FieldBackground   = "background"
)

// Fields lists the whitelist in a stable order.
var Fields = []string{
	FieldPolling, FieldFundraising, FieldEndorsements, FieldKeyPositions,
	FieldPros, FieldCons, FieldSummary, FieldBackground,
}

// Result describes what Apply changed.
type Result struct {
	// Applied maps candidate name to the fields written, in whitelist order.
	Applied map[string][]string
	// Unmatched lists update entries naming no stored candidate.
	Unmatched    []string
	SourcesAdded int
}

// Meaningful reports whether any whitelisted field was written.
func (r Result) Meaningful() bool {
	for _, f := range r.Applied {
		if len(f) > 0 {
			return true
		}
	}
	return false
}

// FieldCount returns the total number of fields written.
func (r Result) FieldCount() int {
	n := 0
	for _, f := range r.Applied {
		n += len(f)
	}
	return n
}

// Apply merges upd into race in place. citations are call-scoped sources
// attached to every candidate that received at least one field. Sources are
// merged only for such candidates, and SourcesUpdatedAt is stamped when new
// sources land. Confidence is recomputed for every candidate.
func Apply(race *model.Race, upd model.RaceUpdate, citations []model.Source, now time.Time) Result {
	res := Result{Applied: make(map[string][]string)}
	accessDate := now.UTC().Format(time.DateOnly)
	callSources := append(append([]model.Source(nil), citations...), upd.Sources...)

	for _, cu := range upd.Candidates {
		c := race.FindCandidate(strings.TrimSpace(cu.Name))
		if c == nil {
			res.Unmatched = append(res.Unmatched, cu.Name)
			continue
		}

		applied := applyCandidate(c, cu)
		if len(applied) == 0 {
			continue
		}
		res.Applied[c.Name] = append(res.Applied[c.Name], applied...)

		incoming := append(append([]model.Source(nil), cu.Sources...), callSources...)
		merged, added := sources.Merge(c.Sources, incoming, accessDate)
		c.Sources = merged
		if added > 0 {
			t := now.UTC()
			c.SourcesUpdatedAt = &t
			res.SourcesAdded += added
		}
	}

	RecomputeConfidence(race)
	return res
}

func applyCandidate(c *model.Candidate, cu model.CandidateUpdate) []string {
	var applied []string

	if cu.Polling.Present() {
		c.Polling = strings.TrimSpace(cu.Polling.Value)
		applied = append(applied, FieldPolling)
	}
	if cu.Fundraising.Present() {
		c.Fundraising = strings.TrimSpace(cu.Fundraising.Value)
		applied = append(applied, FieldFundraising)
	}
	if e := NormalizeEndorsements(cu.Endorsements); len(e) > 0 {
		c.Endorsements = e
		applied = append(applied, FieldEndorsements)
	}
	if kp := cleanList(cu.KeyPositions); len(kp) > 0 {
		c.KeyPositions = kp
		applied = append(applied, FieldKeyPositions)
	}
	if pros := cleanList(cu.Pros); len(pros) > 0 {
		c.Pros = pros
		applied = append(applied, FieldPros)
	}
	if cons := cleanList(cu.Cons); len(cons) > 0 {
		c.Cons = cons
		applied = append(applied, FieldCons)
	}
	if cu.Summary.Present() {
		c.Summary = model.PlainText(strings.TrimSpace(cu.Summary.Value))
		applied = append(applied, FieldSummary)
	}
	if cu.Background.Present() {
		c.Background = model.PlainText(strings.TrimSpace(cu.Background.Value))
		applied = append(applied, FieldBackground)
	}
	return applied
}

// NormalizeEndorsements converts bare strings and {name, type} objects into
// model.Endorsement values. Blank names and case-insensitive duplicates are
// dropped.
func NormalizeEndorsements(raw []json.RawMessage) []model.Endorsement {
	var out []model.Endorsement
	seen := make(map[string]bool)
	for _, r := range raw {
		e, ok := decodeEndorsement(r)
		if !ok {
			continue
		}
		k := strings.ToLower(e.Name)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

func decodeEndorsement(r json.RawMessage) (model.Endorsement, bool) {
	var s string
	if json.Unmarshal(r, &s) == nil {
		s = strings.TrimSpace(s)
		return model.Endorsement{Name: s}, s != ""
	}
	var obj struct {
		Name         string `json:"name"`
		Organization string `json:"organization"`
		Endorser     string `json:"endorser"`
		Type         string `json:"type"`
	}
	if json.Unmarshal(r, &obj) != nil {
		return model.Endorsement{}, false
	}
	name := strings.TrimSpace(obj.Name)
	if name == "" {
		name = strings.TrimSpace(obj.Organization)
	}
	if name == "" {
		name = strings.TrimSpace(obj.Endorser)
	}
	return model.Endorsement{Name: name, Type: strings.TrimSpace(obj.Type)}, name != ""
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
