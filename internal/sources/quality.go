package sources

import "github.com/sells-group/ballot-research/internal/model"

// LowSignalDomains are social platforms and generic blog hosts.
var LowSignalDomains = []string{
	"facebook.com", "twitter.com", "x.com", "instagram.com", "tiktok.com",
	"reddit.com", "youtube.com", "linkedin.com", "threads.net", "quora.com",
	"medium.com", "substack.com", "blogspot.com", "wordpress.com", "tumblr.com",
	"wix.com", "weebly.com",
}

// Quality summarizes the distinct citation domains of a race.
type Quality struct {
	Domains   int
	LowSignal []string
}

// Low reports whether more than half the distinct domains are low-signal.
func (q Quality) Low() bool {
	return q.Domains > 0 && len(q.LowSignal)*2 > q.Domains
}

// AssessQuality counts distinct domains across srcs and which of them are
// low-signal.
func AssessQuality(srcs []model.Source) Quality {
	seen := make(map[string]bool)
	var q Quality
	for _, s := range srcs {
		d := Domain(s.URL)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		q.Domains++
		if matchesDomain(d, LowSignalDomains) {
			q.LowSignal = append(q.LowSignal, d)
		}
	}
	return q
}
