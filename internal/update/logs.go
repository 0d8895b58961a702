package update

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/store"
)

// RunRecord is one run's entry in the daily update log.
type RunRecord struct {
	RunID      string    `json:"runId"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Aborted    bool      `json:"aborted,omitempty"`
	Researched int       `json:"researched"`
	Failed     int       `json:"failed"`
	Updated    []string  `json:"updated,omitempty"`
	Lines      []string  `json:"lines"`
}

// UpdateLog is the persisted update log for one UTC day.
type UpdateLog struct {
	Date string      `json:"date"`
	Runs []RunRecord `json:"runs"`
}

// LoadUpdateLog reads the update log for day. A missing log is empty.
func LoadUpdateLog(ctx context.Context, s store.Store, day time.Time) (UpdateLog, error) {
	key := store.UpdateLogKey(day)
	log, _, err := store.GetJSON[UpdateLog](ctx, s, key)
	if err != nil {
		return UpdateLog{}, eris.Wrapf(err, "update: load %s", key)
	}
	log.Date = day.UTC().Format(time.DateOnly)
	return log, nil
}

func appendUpdateLog(ctx context.Context, s store.Store, rec RunRecord, day time.Time) error {
	log, err := LoadUpdateLog(ctx, s, day)
	if err != nil {
		return err
	}
	log.Runs = append(log.Runs, rec)
	if err := store.PutJSON(ctx, s, store.UpdateLogKey(day), log, store.LogRetention); err != nil {
		return eris.Wrap(err, "update: persist update log")
	}
	return nil
}

// LoadManifest reads the manifest for cycle. A missing manifest is empty.
func LoadManifest(ctx context.Context, s store.Store, cycle string) (model.Manifest, error) {
	m, _, err := store.GetJSON[model.Manifest](ctx, s, store.ManifestKey(cycle))
	if err != nil {
		return model.Manifest{}, eris.Wrapf(err, "update: load manifest %s", cycle)
	}
	m.Cycle = cycle
	if m.Parties == nil {
		m.Parties = make(map[string]model.ManifestEntry)
	}
	return m, nil
}

// bumpManifest increments the party's version and refreshes the size metric
// from the encoded ballot.
func bumpManifest(ctx context.Context, s store.Store, cycle, party string, ballot model.Ballot, now time.Time) (model.ManifestEntry, error) {
	m, err := LoadManifest(ctx, s, cycle)
	if err != nil {
		return model.ManifestEntry{}, err
	}
	data, err := json.Marshal(ballot)
	if err != nil {
		return model.ManifestEntry{}, eris.Wrap(err, "update: encode ballot for manifest")
	}
	e := m.Parties[party]
	e.Version++
	e.SizeBytes = len(data)
	e.ApproxTokens = approxTokens(len(data))
	e.UpdatedAt = now.UTC()
	m.Parties[party] = e
	m.UpdatedAt = now.UTC()
	if err := store.PutJSON(ctx, s, store.ManifestKey(cycle), m, 0); err != nil {
		return model.ManifestEntry{}, eris.Wrap(err, "update: save manifest")
	}
	return e, nil
}

// approxTokens estimates tokens at four bytes each.
func approxTokens(n int) int {
	return (n + 3) / 4
}
