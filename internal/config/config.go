package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Research   ResearchConfig   `yaml:"research" mapstructure:"research"`
	Election   ElectionConfig   `yaml:"election" mapstructure:"election"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the key-value backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	Model           string `yaml:"model" mapstructure:"model"`
	RepairModel     string `yaml:"repair_model" mapstructure:"repair_model"`
	MaxTokens       int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	RepairMaxTokens int64  `yaml:"repair_max_tokens" mapstructure:"repair_max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	Model             string `yaml:"model" mapstructure:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ResearchConfig controls how races are researched.
type ResearchConfig struct {
	Provider            string   `yaml:"provider" mapstructure:"provider"`
	MaxAttempts         int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelaysMs       []int    `yaml:"retry_delays_ms" mapstructure:"retry_delays_ms"`
	CallDelayMs         int      `yaml:"call_delay_ms" mapstructure:"call_delay_ms"`
	SearchBudgetHigh    int      `yaml:"search_budget_high" mapstructure:"search_budget_high"`
	SearchBudgetLow     int      `yaml:"search_budget_low" mapstructure:"search_budget_low"`
	LowPriorityKeywords []string `yaml:"low_priority_keywords" mapstructure:"low_priority_keywords"`
	BreakerThreshold    int      `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs    int      `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// RetryDelays converts the configured schedule to durations.
func (r ResearchConfig) RetryDelays() []time.Duration {
	out := make([]time.Duration, 0, len(r.RetryDelaysMs))
	for _, ms := range r.RetryDelaysMs {
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out
}

// CallDelay is the pause inserted between successive per-race calls.
func (r ResearchConfig) CallDelay() time.Duration {
	return time.Duration(r.CallDelayMs) * time.Millisecond
}

// ElectionConfig identifies the cycle being maintained.
type ElectionConfig struct {
	Cycle      string   `yaml:"cycle" mapstructure:"cycle"`
	CutoffDate string   `yaml:"cutoff_date" mapstructure:"cutoff_date"`
	Parties    []string `yaml:"parties" mapstructure:"parties"`
	Scope      string   `yaml:"scope" mapstructure:"scope"`
	Counties   []string `yaml:"counties" mapstructure:"counties"`
}

// Cutoff parses CutoffDate (YYYY-MM-DD). The zero time means no cutoff.
func (e ElectionConfig) Cutoff() (time.Time, error) {
	if e.CutoffDate == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, e.CutoffDate)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "config: parse election.cutoff_date %q", e.CutoffDate)
	}
	return t, nil
}

// PipelineConfig holds the update pipeline thresholds.
type PipelineConfig struct {
	StaleThreshold        int     `yaml:"stale_threshold" mapstructure:"stale_threshold"`
	ResearchIntervalDays  int     `yaml:"research_interval_days" mapstructure:"research_interval_days"`
	MaxBalanceCorrections int     `yaml:"max_balance_corrections" mapstructure:"max_balance_corrections"`
	SimilarityThreshold   float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	LeaseTTLSecs          int     `yaml:"lease_ttl_secs" mapstructure:"lease_ttl_secs"`
	RefreshMaxCounties    int     `yaml:"refresh_max_counties" mapstructure:"refresh_max_counties"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
	WebSearch  float64                 `yaml:"web_search_per_1k" mapstructure:"web_search_per_1k"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// MonitoringConfig configures longitudinal monitoring and alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackDays         int     `yaml:"lookback_days" mapstructure:"lookback_days"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// ServerConfig configures the ops server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BALLOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ballot.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.repair_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 8000)
	v.SetDefault("anthropic.repair_max_tokens", 4000)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("perplexity.requests_per_minute", 50)
	v.SetDefault("research.provider", "anthropic")
	v.SetDefault("research.max_attempts", 3)
	v.SetDefault("research.retry_delays_ms", []int{5000, 15000, 30000})
	v.SetDefault("research.call_delay_ms", 2000)
	v.SetDefault("research.search_budget_high", 5)
	v.SetDefault("research.search_budget_low", 2)
	v.SetDefault("research.low_priority_keywords", []string{
		"county", "city", "township", "school", "board", "commission",
		"clerk", "council", "constable", "justice of the peace", "water", "soil",
	})
	v.SetDefault("research.breaker_threshold", 5)
	v.SetDefault("research.breaker_reset_secs", 300)
	v.SetDefault("election.cycle", "2026")
	v.SetDefault("election.cutoff_date", "2026-11-03")
	v.SetDefault("election.parties", []string{"democrat", "republican"})
	v.SetDefault("election.scope", "statewide")
	v.SetDefault("pipeline.stale_threshold", 3)
	v.SetDefault("pipeline.research_interval_days", 3)
	v.SetDefault("pipeline.max_balance_corrections", 10)
	v.SetDefault("pipeline.similarity_threshold", 0.4)
	v.SetDefault("pipeline.lease_ttl_secs", 3600)
	v.SetDefault("pipeline.refresh_max_counties", 5)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("pricing.web_search_per_1k", 10.0)
	v.SetDefault("monitoring.lookback_days", 7)
	v.SetDefault("monitoring.failure_rate_threshold", 0.3)
	v.SetDefault("monitoring.cost_threshold_usd", 25.0)
	v.SetDefault("monitoring.check_interval_secs", 3600)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by a command are present.
func (c *Config) Validate(mode string) error {
	var problems []string
	switch mode {
	case "update", "refresh":
		switch c.Research.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				problems = append(problems, "anthropic.key is required")
			}
		case "perplexity":
			if c.Perplexity.Key == "" {
				problems = append(problems, "perplexity.key is required")
			}
		default:
			problems = append(problems, fmt.Sprintf("research.provider %q is not supported", c.Research.Provider))
		}
		if _, err := c.Election.Cutoff(); err != nil {
			problems = append(problems, "election.cutoff_date must be YYYY-MM-DD")
		}
		if c.Research.MaxAttempts < 1 {
			problems = append(problems, "research.max_attempts must be >= 1")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for postgres")
	}
	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
