// Package metrics exposes Prometheus counters for update runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/ballot-research/internal/cost"
	"github.com/sells-group/ballot-research/internal/errlog"
)

const namespace = "ballot"

// Race outcomes.
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics holds the collectors. All methods are safe on a nil receiver so
// callers can run without metrics.
type Metrics struct {
	researchCalls *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	costUSD       prometheus.Counter
	raceOutcomes  *prometheus.CounterVec
	errorEntries  *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastRun       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		researchCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "research",
			Name:      "calls_total",
			Help:      "Answered research calls by provider and purpose",
		}, []string{"provider", "purpose"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "research",
			Name:      "tokens_total",
			Help:      "Tokens consumed by direction",
		}, []string{"provider", "direction"}),
		costUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "research",
			Name:      "cost_usd_total",
			Help:      "Estimated research spend in USD",
		}),
		raceOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "races_total",
			Help:      "Races processed by party and outcome",
		}, []string{"party", "outcome"}),
		errorEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "diagnostics_total",
			Help:      "Error log entries by category",
		}, []string{"category"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "run_duration_seconds",
			Help:      "Wall time of update runs",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last update run finished",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.researchCalls, m.tokens, m.costUSD, m.raceOutcomes,
			m.errorEntries, m.runDuration, m.lastRun)
	}
	return m
}

// Record implements cost.Recorder.
func (m *Metrics) Record(ev cost.UsageEvent) {
	if m == nil {
		return
	}
	m.researchCalls.WithLabelValues(ev.Provider, ev.Purpose).Inc()
	m.tokens.WithLabelValues(ev.Provider, "input").Add(float64(ev.InputTokens))
	m.tokens.WithLabelValues(ev.Provider, "output").Add(float64(ev.OutputTokens))
	if ev.CostUSD > 0 {
		m.costUSD.Add(ev.CostUSD)
	}
}

// ObserveEntry counts one error log entry. It matches errlog.Collector's
// OnAdd hook.
func (m *Metrics) ObserveEntry(e errlog.Entry) {
	if m == nil {
		return
	}
	m.errorEntries.WithLabelValues(string(e.Category)).Inc()
}

// RaceOutcome counts one processed race.
func (m *Metrics) RaceOutcome(party, outcome string) {
	if m == nil {
		return
	}
	m.raceOutcomes.WithLabelValues(party, outcome).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
	m.lastRun.Set(float64(finished.Unix()))
}
