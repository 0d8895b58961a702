package research

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sells-group/ballot-research/internal/balance"
	"github.com/sells-group/ballot-research/internal/model"
)

// SystemPrompt frames every research call.
const SystemPrompt = `You are a nonpartisan election researcher maintaining a voter guide.
Report only facts you can support with a source found through search.
Never invent candidates, endorsements, polling numbers, or quotes.
Respond with a single JSON object and no other text.`

const raceSchema = `{
  "candidates": [
    {
      "name": "exact name as given",
      "polling": "string or null",
      "fundraising": "string or null",
      "endorsements": [{"name": "string", "type": "string"}] or null,
      "keyPositions": ["string"] or null,
      "pros": ["string"] or null,
      "cons": ["string"] or null,
      "summary": "string or null",
      "background": "string or null",
      "sources": [{"url": "string", "title": "string"}] or null
    }
  ],
  "sources": [{"url": "string", "title": "string"}]
}`

// promptCandidate is the current data shown to the model.
type promptCandidate struct {
	Name         string              `json:"name"`
	IsIncumbent  bool                `json:"isIncumbent"`
	Withdrawn    bool                `json:"withdrawn,omitempty"`
	Summary      string              `json:"summary,omitempty"`
	Background   string              `json:"background,omitempty"`
	KeyPositions []string            `json:"keyPositions,omitempty"`
	Endorsements []model.Endorsement `json:"endorsements,omitempty"`
	Pros         []string            `json:"pros,omitempty"`
	Cons         []string            `json:"cons,omitempty"`
	Polling      string              `json:"polling,omitempty"`
	Fundraising  string              `json:"fundraising,omitempty"`
}

func toPromptCandidate(c model.Candidate) promptCandidate {
	return promptCandidate{
		Name:         c.Name,
		IsIncumbent:  c.IsIncumbent,
		Withdrawn:    c.Withdrawn,
		Summary:      c.Summary.String(),
		Background:   c.Background.String(),
		KeyPositions: c.KeyPositions,
		Endorsements: c.Endorsements,
		Pros:         c.Pros,
		Cons:         c.Cons,
		Polling:      c.Polling,
		Fundraising:  c.Fundraising,
	}
}

func describeRace(party string, race model.Race) string {
	label := race.Office
	if race.District != "" {
		label += ", District " + race.District
	}
	return fmt.Sprintf("the %s primary for %s", party, label)
}

// RacePrompt asks for updates to every candidate of race.
func RacePrompt(party string, race model.Race, today time.Time) string {
	cands := make([]promptCandidate, len(race.Candidates))
	for i, c := range race.Candidates {
		cands[i] = toPromptCandidate(c)
	}
	current, _ := json.MarshalIndent(cands, "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s. Search for news about %s since the data below was written.\n\n",
		today.UTC().Format(time.DateOnly), describeRace(party, race))
	b.WriteString("Current data:\n")
	b.Write(current)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Return every candidate listed above, using the exact same names. Do not add or remove candidates.\n")
	b.WriteString("- Use null for any field with no new, sourced information. Null means keep the current value.\n")
	b.WriteString("- When you do update pros or cons, give at least 2 of each, balanced in tone.\n")
	b.WriteString("- Endorsements must be the full current list, not only new ones.\n")
	b.WriteString("- Cite the pages you used in sources.\n\n")
	b.WriteString("Respond with JSON in exactly this shape:\n")
	b.WriteString(raceSchema)
	return b.String()
}

// maxBrokenBytes caps the broken answer echoed into a repair prompt.
const maxBrokenBytes = 12000

// RepairPrompt asks the model to reconstruct JSON from a broken answer.
func RepairPrompt(broken string) string {
	broken = truncateUTF8(broken, maxBrokenBytes)
	return "The following answer was supposed to be a single JSON object but could not be parsed. " +
		"Reconstruct the JSON object it intended, keeping every value unchanged. " +
		"Use null for anything that cannot be recovered. Respond with the JSON object only.\n\n" +
		"Expected shape:\n" + raceSchema + "\n\nBroken answer:\n" + broken
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// BalancePrompt asks for pros and/or cons for one candidate.
func BalancePrompt(req balance.Request) string {
	var want []string
	if req.NeedPros {
		want = append(want, fmt.Sprintf(`"pros": %d strengths`, balance.RequestedEntries))
	}
	if req.NeedCons {
		want = append(want, fmt.Sprintf(`"cons": %d weaknesses or criticisms`, balance.RequestedEntries))
	}
	current, _ := json.MarshalIndent(toPromptCandidate(req.Candidate), "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "%s is a candidate in %s.\n\nCurrent data:\n", req.Candidate.Name, describeRace(req.Party, req.Race))
	b.Write(current)
	fmt.Fprintf(&b, "\n\nProvide only %s, each a short factual phrase supported by a source.\n", strings.Join(want, " and "))
	b.WriteString(`Respond with JSON: {"pros": ["string"], "cons": ["string"], "sources": [{"url": "string", "title": "string"}]}`)
	b.WriteString("\nOmit or null any list you were not asked for.")
	return b.String()
}
