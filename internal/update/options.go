package update

import (
	"strings"
	"time"

	"github.com/sells-group/ballot-research/internal/balance"
	"github.com/sells-group/ballot-research/internal/baseline"
	"github.com/sells-group/ballot-research/internal/config"
	"github.com/sells-group/ballot-research/internal/staleness"
)

// Options holds the run parameters of the orchestrator.
type Options struct {
	Parties  []string
	Cycle    string
	Scope    string
	Counties []string
	// Cutoff is the election date. Runs after it are skipped. Zero disables
	// the check.
	Cutoff time.Time

	CallDelay           time.Duration
	SearchBudgetHigh    int
	SearchBudgetLow     int
	LowPriorityKeywords []string

	Staleness             staleness.Policy
	MaxBalanceCorrections int
	SimilarityThreshold   float64
	LeaseTTL              time.Duration
	RefreshMaxCounties    int
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	cutoff, err := cfg.Election.Cutoff()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Parties:             cfg.Election.Parties,
		Cycle:               cfg.Election.Cycle,
		Scope:               cfg.Election.Scope,
		Counties:            cfg.Election.Counties,
		Cutoff:              cutoff,
		CallDelay:           cfg.Research.CallDelay(),
		SearchBudgetHigh:    cfg.Research.SearchBudgetHigh,
		SearchBudgetLow:     cfg.Research.SearchBudgetLow,
		LowPriorityKeywords: cfg.Research.LowPriorityKeywords,
		Staleness: staleness.Policy{
			Threshold:    cfg.Pipeline.StaleThreshold,
			IntervalDays: cfg.Pipeline.ResearchIntervalDays,
		},
		MaxBalanceCorrections: cfg.Pipeline.MaxBalanceCorrections,
		SimilarityThreshold:   cfg.Pipeline.SimilarityThreshold,
		LeaseTTL:              time.Duration(cfg.Pipeline.LeaseTTLSecs) * time.Second,
		RefreshMaxCounties:    cfg.Pipeline.RefreshMaxCounties,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.Scope == "" {
		o.Scope = "statewide"
	}
	if o.SearchBudgetHigh <= 0 {
		o.SearchBudgetHigh = 5
	}
	if o.SearchBudgetLow <= 0 {
		o.SearchBudgetLow = 2
	}
	// Negative disables corrections.
	switch {
	case o.MaxBalanceCorrections == 0:
		o.MaxBalanceCorrections = balance.DefaultMaxCorrections
	case o.MaxBalanceCorrections < 0:
		o.MaxBalanceCorrections = 0
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = baseline.DefaultSimilarityThreshold
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = time.Hour
	}
	return o
}

// SearchBudget returns the search allowance for an office. Offices matching
// a low-priority keyword get the smaller budget.
func (o Options) SearchBudget(office string) int {
	lower := strings.ToLower(office)
	for _, kw := range o.LowPriorityKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return o.SearchBudgetLow
		}
	}
	return o.SearchBudgetHigh
}

// pastCutoff reports whether now falls on a later calendar day than the
// cutoff.
func (o Options) pastCutoff(now time.Time) bool {
	if o.Cutoff.IsZero() {
		return false
	}
	today := now.UTC().Format(time.DateOnly)
	return today > o.Cutoff.UTC().Format(time.DateOnly)
}
