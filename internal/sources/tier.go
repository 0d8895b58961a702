package sources

import (
	"strings"

	"github.com/sells-group/ballot-research/internal/model"
)

// Tier ranks a citation domain. Lower is more trusted.
type Tier int

const (
	TierStateAuthority Tier = iota + 1
	TierLocalAuthority
	TierCampaignSite
	TierNonpartisanReference
	TierRegionalPress
	TierWireService
	TierOther
)

// Verified reports whether a source of this tier marks fields as verified.
func (t Tier) Verified() bool { return t >= TierStateAuthority && t < TierOther }

func (t Tier) String() string {
	switch t {
	case TierStateAuthority:
		return "state_authority"
	case TierLocalAuthority:
		return "local_authority"
	case TierCampaignSite:
		return "campaign_site"
	case TierNonpartisanReference:
		return "nonpartisan_reference"
	case TierRegionalPress:
		return "regional_press"
	case TierWireService:
		return "wire_service"
	default:
		return "other"
	}
}

var (
	stateAuthorityHints = []string{"sos.", "elections.", "elect.", "vote.", "sec.state.", "secstate."}
	federalAuthorities  = []string{"fec.gov", "eac.gov"}
	campaignHints       = []string{"forgovernor", "forsenate", "forcongress", "forhouse", "forstate", "formayor", "forag", "elect", "campaign"}
	nonpartisanRefs     = []string{
		"ballotpedia.org", "vote411.org", "votesmart.org", "justfacts.votesmart.org",
		"opensecrets.org", "followthemoney.org", "wikipedia.org", "factcheck.org",
		"politifact.com", "govtrack.us", "lwv.org", "iVoterGuide.com",
	}
	wireServices = []string{"apnews.com", "ap.org", "reuters.com", "upi.com", "afp.com"}
	pressHints   = []string{
		"news", "tribune", "times", "post", "herald", "journal", "gazette",
		"chronicle", "observer", "dispatch", "register", "sentinel", "courier",
		"press", "star", "statesman", "examiner", "patch.com", "publicradio", "kut.org",
	}
)

// TierOf classifies a source URL into one of seven tiers.
func TierOf(rawURL string) Tier {
	host := Domain(rawURL)
	if host == "" {
		return TierOther
	}

	isGov := strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".us")
	switch {
	case matchesDomain(host, federalAuthorities):
		return TierStateAuthority
	case isGov && (strings.Contains(host, ".state.") || hasPrefixAny(host, stateAuthorityHints)):
		return TierStateAuthority
	case isGov && !matchesDomain(host, nonpartisanRefs):
		return TierLocalAuthority
	case matchesDomain(host, nonpartisanRefs):
		return TierNonpartisanReference
	case matchesDomain(host, wireServices):
		return TierWireService
	case strings.HasSuffix(host, ".vote") || containsAny(firstLabel(host), campaignHints):
		return TierCampaignSite
	case containsAny(host, pressHints):
		return TierRegionalPress
	default:
		return TierOther
	}
}

// BestTier returns the most trusted tier among srcs, or TierOther when
// there are none.
func BestTier(srcs []model.Source) (Tier, string) {
	best, bestURL := TierOther, ""
	for _, s := range srcs {
		if t := TierOf(s.URL); t < best {
			best, bestURL = t, s.URL
		}
	}
	return best, bestURL
}

func matchesDomain(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func hasPrefixAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstLabel(host string) string {
	if i := strings.IndexByte(host, '.'); i >= 0 {
		return host[:i]
	}
	return host
}
