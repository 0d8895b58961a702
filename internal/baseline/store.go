package baseline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/store"
)

// FallbackLogCap is the number of entries kept in the rolling fallback log.
const FallbackLogCap = 30

// FallbackEntry is one audited reversion.
type FallbackEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Reversion
}

// Load returns the party's baseline, or nil when none has been seeded.
func Load(ctx context.Context, s store.Store, party string) (*model.VerifiedBaseline, error) {
	b, ok, err := store.GetJSON[model.VerifiedBaseline](ctx, s, store.BaselineKey(party))
	if err != nil {
		return nil, eris.Wrapf(err, "baseline: load %s", party)
	}
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// Save replaces the party's baseline. It is only called from an explicit
// seed.
func Save(ctx context.Context, s store.Store, b model.VerifiedBaseline) error {
	if b.Party == "" {
		return eris.New("baseline: party is required")
	}
	if err := store.PutJSON(ctx, s, store.BaselineKey(b.Party), b, 0); err != nil {
		return eris.Wrapf(err, "baseline: save %s", b.Party)
	}
	return nil
}

// LoadFallbackLog returns the rolling fallback log, oldest first.
func LoadFallbackLog(ctx context.Context, s store.Store) ([]FallbackEntry, error) {
	entries, _, err := store.GetJSON[[]FallbackEntry](ctx, s, store.FallbackLogKey)
	if err != nil {
		return nil, eris.Wrap(err, "baseline: load fallback log")
	}
	return entries, nil
}

// AppendFallbackLog appends reversions to the fallback log, keeping only the
// newest FallbackLogCap entries.
func AppendFallbackLog(ctx context.Context, s store.Store, revs []Reversion, now time.Time) error {
	if len(revs) == 0 {
		return nil
	}
	entries, err := LoadFallbackLog(ctx, s)
	if err != nil {
		return err
	}
	for _, r := range revs {
		entries = append(entries, FallbackEntry{Timestamp: now.UTC(), Reversion: r})
	}
	if len(entries) > FallbackLogCap {
		entries = entries[len(entries)-FallbackLogCap:]
	}
	if err := store.PutJSON(ctx, s, store.FallbackLogKey, entries, 0); err != nil {
		return eris.Wrap(err, "baseline: save fallback log")
	}
	return nil
}
