// Package extract pulls a JSON object out of free-form model output.
//
// Model responses wrap JSON in prose, markdown fences, or both, and
// occasionally emit a truncated object before a corrected one. Extraction runs
// an ordered chain of strategies; each proposes candidate substrings and the
// first candidate that decodes into the target type wins.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoJSON is returned when no strategy yields a decodable object.
var ErrNoJSON = eris.New("extract: no JSON object found")

// Usable is implemented by target types that can tell a meaningful decode from
// a structurally valid but empty one. A candidate whose decode reports false
// is skipped.
type Usable interface {
	Usable() bool
}

// Strategy proposes candidate JSON object substrings from text.
type Strategy struct {
	Name       string
	Candidates func(text string) []string
}

// DefaultChain is the extraction order: whole text, fenced blocks, balanced
// brace scan, then a first-to-last brace slice.
var DefaultChain = []Strategy{
	{Name: "whole", Candidates: wholeText},
	{Name: "fenced", Candidates: fencedBlocks},
	{Name: "balanced", Candidates: balancedObjects},
	{Name: "slice", Candidates: braceSlice},
}

// ExtractStructured decodes the first JSON object found in text into T.
func ExtractStructured[T any](text string) (T, error) {
	v, _, err := ExtractWith[T](text, DefaultChain)
	return v, err
}

// ExtractWith runs chain over text and reports which strategy matched.
func ExtractWith[T any](text string, chain []Strategy) (T, string, error) {
	var zero T
	if strings.TrimSpace(text) == "" {
		return zero, "", eris.Wrap(ErrNoJSON, "empty text")
	}
	for _, s := range chain {
		for _, cand := range s.Candidates(text) {
			var v T
			if err := json.Unmarshal([]byte(cand), &v); err != nil {
				continue
			}
			if u, ok := any(v).(Usable); ok && !u.Usable() {
				continue
			}
			return v, s.Name, nil
		}
	}
	return zero, "", eris.Wrapf(ErrNoJSON, "%d strategies exhausted", len(chain))
}

func wholeText(text string) []string {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "{") {
		return []string{t}
	}
	return nil
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n?(.*?)```")

func fencedBlocks(text string) []string {
	var out []string
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "{") {
			out = append(out, body)
		}
	}
	return out
}

// balancedObjects returns the top-level balanced objects in text. Scanning
// resumes after each matched span, so objects nested inside one are not
// proposed on their own. Braces inside JSON strings are ignored.
func balancedObjects(text string) []string {
	var out []string
	for start := strings.IndexByte(text, '{'); start >= 0; {
		from := start + 1
		if end := matchBrace(text, start); end > start {
			out = append(out, text[start:end+1])
			from = end + 1
		}
		next := strings.IndexByte(text[from:], '{')
		if next < 0 {
			break
		}
		start = from + next
	}
	return out
}

// matchBrace returns the index of the '}' closing the '{' at start, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func braceSlice(text string) []string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return []string{text[start : end+1]}
	}
	return nil
}
