package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ballot-research/internal/config"
	"github.com/sells-group/ballot-research/internal/cost"
	"github.com/sells-group/ballot-research/internal/metrics"
	"github.com/sells-group/ballot-research/internal/monitoring"
	"github.com/sells-group/ballot-research/internal/research"
	"github.com/sells-group/ballot-research/internal/resilience"
	"github.com/sells-group/ballot-research/internal/store"
	"github.com/sells-group/ballot-research/internal/update"
	anthropicpkg "github.com/sells-group/ballot-research/pkg/anthropic"
	"github.com/sells-group/ballot-research/pkg/perplexity"
)

// updateEnv holds the store, usage sink, and orchestrator needed by the
// update/refresh/serve commands.
type updateEnv struct {
	Store        store.Store
	Orchestrator *update.Orchestrator
	Usage        *cost.UsageLogger
	Metrics      *metrics.Metrics
}

// Close flushes usage and releases the store.
func (e *updateEnv) Close() {
	if e.Usage != nil {
		e.Usage.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initUpdate validates config for mode, opens the store, and builds the
// orchestrator. reg may be nil. Callers should defer env.Close().
func initUpdate(ctx context.Context, mode string, reg prometheus.Registerer) (*updateEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	svc, err := newResearchService(cfg)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	env, err := newUpdateEnv(cfg, st, svc, reg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// newUpdateEnv wires the orchestrator over an open store.
func newUpdateEnv(c *config.Config, st store.Store, svc research.Service, reg prometheus.Registerer) (*updateEnv, error) {
	opts, err := update.OptionsFromConfig(c)
	if err != nil {
		return nil, err
	}

	calc := cost.NewCalculator(cost.RatesFromConfig(c.Pricing))
	usage := cost.NewUsageLogger(calc, st, 0)
	m := metrics.New(reg)

	breakerCfg := resilience.FromCircuitConfig(c.Research.BreakerThreshold, c.Research.BreakerResetSecs)
	breakerCfg.Name = svc.Name()
	client := research.NewClient(svc,
		research.WithRetry(resilience.ResearchRetryConfig(c.Research.MaxAttempts, c.Research.RetryDelays(), resilience.TimerSleeper{})),
		research.WithBreaker(resilience.NewCircuitBreaker(breakerCfg)),
	)

	orch := update.New(opts, st, client,
		update.WithUsage(usage),
		update.WithCalculator(calc),
		update.WithMetrics(m),
	)

	zap.L().Info("update environment ready",
		zap.String("provider", svc.Name()),
		zap.String("cycle", opts.Cycle),
		zap.Strings("parties", opts.Parties),
		zap.Int("counties", len(opts.Counties)),
	)

	return &updateEnv{
		Store:        st,
		Orchestrator: orch,
		Usage:        usage,
		Metrics:      m,
	}, nil
}

// newResearchService builds the configured research provider.
func newResearchService(c *config.Config) (research.Service, error) {
	switch c.Research.Provider {
	case "anthropic":
		client := anthropicpkg.NewClient(c.Anthropic.Key)
		return research.NewAnthropicService(client, research.AnthropicConfig{
			Model:           c.Anthropic.Model,
			RepairModel:     c.Anthropic.RepairModel,
			MaxTokens:       c.Anthropic.MaxTokens,
			RepairMaxTokens: c.Anthropic.RepairMaxTokens,
		}), nil
	case "perplexity":
		client := perplexity.NewClient(c.Perplexity.Key,
			perplexity.WithBaseURL(c.Perplexity.BaseURL),
			perplexity.WithModel(c.Perplexity.Model),
			perplexity.WithRequestsPerMinute(c.Perplexity.RequestsPerMinute),
		)
		return research.NewPerplexityService(client, c.Perplexity.Model, 0), nil
	default:
		return nil, eris.Errorf("unsupported research provider: %s", c.Research.Provider)
	}
}

// newChecker builds the monitoring checker over st.
func newChecker(c *config.Config, st store.Store) *monitoring.Checker {
	return monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(c.Monitoring), c.Monitoring)
}

// checkAfterRun evaluates alert thresholds once when a webhook is
// configured. Failures are logged, never returned.
func checkAfterRun(ctx context.Context, c *config.Config, st store.Store) {
	if c.Monitoring.WebhookURL == "" {
		return
	}
	if _, err := newChecker(c, st).Check(ctx); err != nil {
		zap.L().Warn("monitoring check failed", zap.Error(err))
	}
}
