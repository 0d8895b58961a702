package store

import "time"

// LogRetention is how long dated update and error logs are kept.
const LogRetention = 14 * 24 * time.Hour

// Fixed keys.
const (
	StalenessTrackerKey = "tracker:staleness"
	CountyRefreshKey    = "tracker:county-refresh"
	FallbackLogKey      = "fallback-log"
	RunLeaseKey         = "lock:update-run"
)

// Key prefixes used for listing.
const (
	BallotPrefix    = "ballot:"
	BaselinePrefix  = "baseline:"
	UpdateLogPrefix = "update-log:"
	ErrorLogPrefix  = "error-log:"
	UsagePrefix     = "usage:"
)

// BallotKey identifies a ballot by (scope, party, cycle).
func BallotKey(scope, party, cycle string) string {
	return BallotPrefix + scope + ":" + party + ":" + cycle
}

// CountyScope is the ballot scope used for a county-level ballot.
func CountyScope(county string) string {
	return "county-" + county
}

// BaselineKey identifies the verified baseline for a party.
func BaselineKey(party string) string {
	return BaselinePrefix + party
}

// ManifestKey identifies the version manifest for a cycle.
func ManifestKey(cycle string) string {
	return "manifest:" + cycle
}

// UpdateLogKey identifies the update log for a calendar day (UTC).
func UpdateLogKey(day time.Time) string {
	return UpdateLogPrefix + day.UTC().Format(time.DateOnly)
}

// ErrorLogKey identifies the structured error log for a calendar day (UTC).
func ErrorLogKey(day time.Time) string {
	return ErrorLogPrefix + day.UTC().Format(time.DateOnly)
}

// UsageKey identifies the aggregated API usage for a calendar day (UTC).
func UsageKey(day time.Time) string {
	return UsagePrefix + day.UTC().Format(time.DateOnly)
}
