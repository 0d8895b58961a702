// Package sources normalizes, deduplicates, and ranks candidate citations.
package sources

import (
	"net/url"
	"strings"

	"github.com/sells-group/ballot-research/internal/model"
)

// Normalize trims and canonicalizes a source URL. It reports false when the
// input is not an absolute http(s) URL with a host.
func Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if !strings.Contains(s, "://") && strings.Contains(s, ".") && !strings.ContainsAny(s, " \t") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" || !strings.Contains(u.Host, ".") {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), true
}

// Valid reports whether raw is a syntactically parseable absolute URL.
func Valid(raw string) bool {
	_, ok := Normalize(raw)
	return ok
}

// Key is the deduplication key for a URL: host without "www.", path without
// trailing slash, and query. Scheme differences do not create duplicates.
func Key(raw string) string {
	n, ok := Normalize(raw)
	if !ok {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	u, _ := url.Parse(n)
	key := strings.TrimPrefix(u.Host, "www.") + strings.TrimSuffix(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// Domain returns the lowercase host without a leading "www.", or "" when
// raw is not a valid URL.
func Domain(raw string) string {
	n, ok := Normalize(raw)
	if !ok {
		return ""
	}
	u, _ := url.Parse(n)
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// Merge appends incoming sources to existing, skipping invalid URLs and
// URLs already present. Existing entries win on duplicates and the result
// is capped at model.MaxSources. accessDate fills in missing access dates
// on new entries. It returns the merged list and the number added.
func Merge(existing, incoming []model.Source, accessDate string) ([]model.Source, int) {
	out := make([]model.Source, 0, min(len(existing)+len(incoming), model.MaxSources))
	seen := make(map[string]bool, len(existing)+len(incoming))

	for _, s := range existing {
		k := Key(s.URL)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}

	added := 0
	for _, s := range incoming {
		if len(out) >= model.MaxSources {
			break
		}
		n, ok := Normalize(s.URL)
		if !ok {
			continue
		}
		k := Key(n)
		if seen[k] {
			continue
		}
		seen[k] = true
		s.URL = n
		s.Title = strings.TrimSpace(s.Title)
		if s.AccessDate == "" {
			s.AccessDate = accessDate
		}
		out = append(out, s)
		added++
	}

	if len(out) > model.MaxSources {
		out = out[:model.MaxSources]
	}
	return out, added
}

// Dedupe removes duplicate and invalid URLs, keeping first occurrences.
func Dedupe(in []model.Source) []model.Source {
	out, _ := Merge(nil, in, "")
	return out
}
