package cost

import (
	"github.com/sells-group/ballot-research/internal/config"
)

// Provider labels, matching the research service names.
const (
	ProviderAnthropic  = "anthropic"
	ProviderPerplexity = "perplexity"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
	// WebSearchPer1K is the price of 1,000 server-side web searches.
	WebSearchPer1K float64 `yaml:"web_search_per_1k" mapstructure:"web_search_per_1k"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PerplexityRate holds Perplexity pricing.
type PerplexityRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the token cost of a Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// WebSearch computes the cost of n server-side web searches.
func (c *Calculator) WebSearch(n int64) float64 {
	return float64(n) / 1000 * c.rates.WebSearchPer1K
}

// PerplexityQuery returns the flat cost per Perplexity query.
func (c *Calculator) PerplexityQuery() float64 {
	return c.rates.Perplexity.PerQuery
}

// Estimate prices one usage event.
func (c *Calculator) Estimate(ev UsageEvent) float64 {
	switch ev.Provider {
	case ProviderAnthropic:
		return c.Claude(ev.Model, ev.InputTokens, ev.OutputTokens, ev.CacheWriteTokens, ev.CacheReadTokens) +
			c.WebSearch(ev.WebSearches)
	case ProviderPerplexity:
		return c.PerplexityQuery()
	default:
		return 0
	}
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Perplexity:     PerplexityRate{PerQuery: 0.005},
		WebSearchPer1K: 10.00,
	}
}

// RatesFromConfig overlays configured pricing onto DefaultRates.
func RatesFromConfig(p config.PricingConfig) Rates {
	rates := DefaultRates()
	for model, mp := range p.Anthropic {
		r := rates.Anthropic[model]
		r.Input, r.Output = mp.Input, mp.Output
		if r.CacheWriteMul == 0 {
			r.CacheWriteMul, r.CacheReadMul = 1.25, 0.1
		}
		rates.Anthropic[model] = r
	}
	if p.Perplexity.PerQuery > 0 {
		rates.Perplexity.PerQuery = p.Perplexity.PerQuery
	}
	if p.WebSearch > 0 {
		rates.WebSearchPer1K = p.WebSearch
	}
	return rates
}
