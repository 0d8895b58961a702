package merge

import (
	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/sources"
)

// RecomputeConfidence sets per-field confidence on every candidate in race
// from the best tier among the candidate's sources. Tiers 1-6 mark populated
// fields verified; tier 7 or no sources mark them model-inferred. Empty
// fields carry no confidence entry.
func RecomputeConfidence(race *model.Race) {
	for i := range race.Candidates {
		recomputeCandidate(&race.Candidates[i])
	}
}

func recomputeCandidate(c *model.Candidate) {
	tier, bestURL := sources.BestTier(c.Sources)
	fc := model.FieldConfidence{Level: model.ConfidenceModelInferred}
	if tier.Verified() {
		fc = model.FieldConfidence{Level: model.ConfidenceVerified, Source: bestURL}
	}

	conf := make(map[string]model.FieldConfidence, len(Fields))
	for _, f := range Fields {
		if populated(c, f) {
			conf[f] = fc
		}
	}
	if len(conf) == 0 {
		c.Confidence = nil
		return
	}
	c.Confidence = conf
}

func populated(c *model.Candidate, field string) bool {
	switch field {
	case FieldPolling:
		return c.Polling != ""
	case FieldFundraising:
		return c.Fundraising != ""
	case FieldEndorsements:
		return len(c.Endorsements) > 0
	case FieldKeyPositions:
		return len(c.KeyPositions) > 0
	case FieldPros:
		return len(c.Pros) > 0
	case FieldCons:
		return len(c.Cons) > 0
	case FieldSummary:
		return !c.Summary.IsEmpty()
	case FieldBackground:
		return !c.Background.IsEmpty()
	default:
		return false
	}
}
