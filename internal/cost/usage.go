package cost

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ballot-research/internal/store"
)

// Call purposes.
const (
	PurposeResearch = "research"
	PurposeRepair   = "repair"
	PurposeBalance  = "balance"
)

// UsageEvent is the token telemetry of one external call.
type UsageEvent struct {
	RunID            string    `json:"runId,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Purpose          string    `json:"purpose"`
	Context          string    `json:"context,omitempty"`
	InputTokens      int64     `json:"inputTokens"`
	OutputTokens     int64     `json:"outputTokens"`
	CacheWriteTokens int64     `json:"cacheWriteTokens,omitempty"`
	CacheReadTokens  int64     `json:"cacheReadTokens,omitempty"`
	WebSearches      int64     `json:"webSearches,omitempty"`
	CostUSD          float64   `json:"costUsd"`
	Timestamp        time.Time `json:"timestamp"`
}

// Recorder accepts usage telemetry. Implementations must not block the
// caller on I/O.
type Recorder interface {
	Record(ev UsageEvent)
}

// NopRecorder discards events.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(UsageEvent) {}

// Totals aggregates usage.
type Totals struct {
	Calls        int            `json:"calls"`
	InputTokens  int64          `json:"inputTokens"`
	OutputTokens int64          `json:"outputTokens"`
	WebSearches  int64          `json:"webSearches"`
	CostUSD      float64        `json:"costUsd"`
	ByPurpose    map[string]int `json:"byPurpose,omitempty"`
}

// Add folds ev into t.
func (t *Totals) Add(ev UsageEvent) {
	t.Calls++
	t.InputTokens += ev.InputTokens
	t.OutputTokens += ev.OutputTokens
	t.WebSearches += ev.WebSearches
	t.CostUSD += ev.CostUSD
	if t.ByPurpose == nil {
		t.ByPurpose = make(map[string]int)
	}
	t.ByPurpose[ev.Purpose]++
}

// DailyUsage is the persisted usage aggregate for one UTC day.
type DailyUsage struct {
	Date string `json:"date"`
	Totals
}

// LoadDailyUsage reads the aggregate for day. A missing record is empty.
func LoadDailyUsage(ctx context.Context, s store.Store, day time.Time) (DailyUsage, error) {
	key := store.UsageKey(day)
	u, _, err := store.GetJSON[DailyUsage](ctx, s, key)
	if err != nil {
		return DailyUsage{}, eris.Wrapf(err, "cost: load %s", key)
	}
	u.Date = day.UTC().Format(time.DateOnly)
	return u, nil
}

// UsageLogger prices events and folds them into the daily aggregate on a
// background goroutine. Record never blocks; when the buffer is full the
// event is dropped with a warning.
type UsageLogger struct {
	calc  *Calculator
	store store.Store
	ch    chan UsageEvent
	done  chan struct{}

	mu    sync.Mutex
	run   Totals
	close sync.Once
}

// NewUsageLogger starts a logger. A nil store keeps only in-memory run
// totals. Close must be called to flush and stop the worker.
func NewUsageLogger(calc *Calculator, st store.Store, buffer int) *UsageLogger {
	if buffer <= 0 {
		buffer = 64
	}
	l := &UsageLogger{
		calc:  calc,
		store: st,
		ch:    make(chan UsageEvent, buffer),
		done:  make(chan struct{}),
	}
	go l.loop()
	return l
}

// Record implements Recorder.
func (l *UsageLogger) Record(ev UsageEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.CostUSD == 0 && l.calc != nil {
		ev.CostUSD = l.calc.Estimate(ev)
	}

	l.mu.Lock()
	l.run.Add(ev)
	l.mu.Unlock()

	select {
	case l.ch <- ev:
	default:
		zap.L().Warn("cost: usage buffer full, dropping event",
			zap.String("purpose", ev.Purpose),
			zap.String("context", ev.Context),
		)
	}
}

// RunTotals returns the totals of every event recorded by this logger.
func (l *UsageLogger) RunTotals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.run
	out.ByPurpose = make(map[string]int, len(l.run.ByPurpose))
	for k, v := range l.run.ByPurpose {
		out.ByPurpose[k] = v
	}
	return out
}

// Close drains pending events and stops the worker.
func (l *UsageLogger) Close() {
	l.close.Do(func() { close(l.ch) })
	<-l.done
}

func (l *UsageLogger) loop() {
	defer close(l.done)
	for ev := range l.ch {
		if l.store == nil {
			continue
		}
		if err := l.persist(ev); err != nil {
			zap.L().Warn("cost: persist usage failed", zap.Error(err))
		}
	}
}

func (l *UsageLogger) persist(ev UsageEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u, err := LoadDailyUsage(ctx, l.store, ev.Timestamp)
	if err != nil {
		return err
	}
	u.Add(ev)
	return store.PutJSON(ctx, l.store, store.UsageKey(ev.Timestamp), u, store.LogRetention)
}
