package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/ballot-research/internal/config"
)

// defaultCheckInterval spaces health checks while serving. Daily runs make
// anything tighter pointless.
const defaultCheckInterval = time.Hour

// Report is the outcome of one ballot-run health check.
type Report struct {
	Snapshot *MetricsSnapshot
	Alerts   []Alert
	// Sent counts alerts the webhook accepted.
	Sent int
}

// Healthy reports whether no threshold was breached.
func (r *Report) Healthy() bool { return len(r.Alerts) == 0 }

// Checker evaluates the recent update and refresh runs against the alert
// thresholds. The CLI checks once after each run; the server also checks on
// startup and then every interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration
}

// NewChecker creates a run-health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  max(cfg.LookbackDays, 1),
		interval:  interval,
	}
}

// Run checks immediately, so a restart right after a bad run still alerts,
// then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: run health checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_days", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
			log.Error("monitoring: run health check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("monitoring: run health checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check summarizes the lookback window and sends an alert per breached
// threshold.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		return nil, err
	}
	rep := &Report{Snapshot: snap, Alerts: c.alerter.Evaluate(snap)}

	fields := []zap.Field{
		zap.Int("runs", snap.Runs),
		zap.Int("aborted_runs", snap.AbortedRuns),
		zap.Int("researched", snap.Researched),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Float64("cost_usd", snap.CostUSD),
		zap.Strings("needs_attention", snap.NeedsAttention),
	}
	if rep.Healthy() {
		zap.L().Debug("monitoring: runs healthy", fields...)
		return rep, nil
	}

	rep.Sent = c.alerter.SendAlerts(ctx, rep.Alerts)
	zap.L().Warn("monitoring: run health thresholds breached",
		append(fields,
			zap.Int("alerts", len(rep.Alerts)),
			zap.Int("alerts_sent", rep.Sent),
		)...,
	)
	return rep, nil
}
