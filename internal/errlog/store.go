package errlog

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ballot-research/internal/store"
)

// DailyLog is the persisted error log for one UTC day.
type DailyLog struct {
	Date    string  `json:"date"`
	Entries []Entry `json:"entries"`
}

// Summary summarizes the day's entries.
func (d DailyLog) Summary() Summary { return Summarize(d.Entries) }

// LoadDaily reads the error log for day. A missing log is empty.
func LoadDaily(ctx context.Context, s store.Store, day time.Time) (DailyLog, error) {
	key := store.ErrorLogKey(day)
	log, _, err := store.GetJSON[DailyLog](ctx, s, key)
	if err != nil {
		return DailyLog{}, eris.Wrapf(err, "errlog: load %s", key)
	}
	if log.Date == "" {
		log.Date = day.UTC().Format(time.DateOnly)
	}
	return log, nil
}

// Persist appends entries to the day's log and refreshes its retention.
func Persist(ctx context.Context, s store.Store, entries []Entry, day time.Time) error {
	if len(entries) == 0 {
		return nil
	}
	log, err := LoadDaily(ctx, s, day)
	if err != nil {
		return err
	}
	log.Entries = append(log.Entries, entries...)
	if err := store.PutJSON(ctx, s, store.ErrorLogKey(day), log, store.LogRetention); err != nil {
		return eris.Wrap(err, "errlog: persist")
	}
	return nil
}

// LoadRange returns the logs for the days days ending at end, oldest first.
// Days without a log are omitted.
func LoadRange(ctx context.Context, s store.Store, end time.Time, days int) ([]DailyLog, error) {
	var out []DailyLog
	for i := days - 1; i >= 0; i-- {
		log, err := LoadDaily(ctx, s, end.AddDate(0, 0, -i))
		if err != nil {
			return nil, err
		}
		if len(log.Entries) > 0 {
			out = append(out, log)
		}
	}
	return out, nil
}
