package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ballot-research/internal/balance"
	"github.com/sells-group/ballot-research/internal/cost"
	"github.com/sells-group/ballot-research/internal/extract"
	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/resilience"
)

var (
	// ErrEmptyResponse is returned when the service answers with no text.
	ErrEmptyResponse = eris.New("research: empty response")
	// ErrRateLimitExhausted is returned when every attempt was rate limited.
	ErrRateLimitExhausted = eris.New("research: rate limit retries exhausted")
)

// RateLimitError is a call that was still rate limited after its last
// attempt. It matches ErrRateLimitExhausted and unwraps to the provider error.
type RateLimitError struct {
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimitExhausted }

// Client applies the retry policy, circuit breaker, extraction, and repair
// flow on top of a Service.
type Client struct {
	svc      Service
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
	recorder cost.Recorder
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithRetry replaces the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithBreaker guards calls with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithRecorder sends usage telemetry to r.
func WithRecorder(r cost.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithClock replaces the clock used in prompts and telemetry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client. The default policy is three attempts on the
// 5s/15s/30s schedule with no breaker.
func NewClient(svc Service, opts ...Option) *Client {
	c := &Client{
		svc:      svc,
		retry:    resilience.ResearchRetryConfig(3, []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}, nil),
		recorder: cost.NopRecorder{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger(svc.Name(), "research")
	}
	return c
}

// Ready reports ErrCircuitOpen, without making a call, while the breaker is
// rejecting calls. A breaker past its reset timeout is ready for a trial call.
func (c *Client) Ready() error {
	if c.breaker != nil && c.breaker.State() == resilience.CircuitOpen {
		return eris.Wrap(resilience.ErrCircuitOpen, "research")
	}
	return nil
}

// Recording returns a shallow copy of c that records usage to r.
func (c *Client) Recording(r cost.Recorder) *Client {
	cp := *c
	cp.recorder = r
	return &cp
}

// Call issues one request under the retry policy and circuit breaker. Usage
// is recorded for every answered call under purpose and label.
func (c *Client) Call(ctx context.Context, req Request, purpose, label string) (*Response, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return nil, eris.Wrapf(err, "research: %s %s", purpose, label)
		}
	}

	attempts := 0
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		attempts++
		return c.svc.Research(ctx, req)
	})
	if c.breaker != nil {
		c.breaker.Record(err)
	}
	if err != nil {
		if resilience.ClassOf(err) == resilience.ClassRateLimit && ctx.Err() == nil {
			return nil, eris.Wrapf(&RateLimitError{Attempts: attempts, Err: err}, "research: %s %s", purpose, label)
		}
		return nil, eris.Wrapf(err, "research: %s %s", purpose, label)
	}

	c.record(resp.Usage, purpose, label)
	if strings.TrimSpace(resp.Text) == "" {
		return resp, eris.Wrapf(ErrEmptyResponse, "research: %s %s", purpose, label)
	}
	return resp, nil
}

func (c *Client) record(u Usage, purpose, label string) {
	c.recorder.Record(cost.UsageEvent{
		Provider:         u.Provider,
		Model:            u.Model,
		Purpose:          purpose,
		Context:          label,
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheWriteTokens: u.CacheWriteTokens,
		CacheReadTokens:  u.CacheReadTokens,
		WebSearches:      u.WebSearches,
		Timestamp:        c.now().UTC(),
	})
}

// RaceRequest asks for an update to one race.
type RaceRequest struct {
	Party        string
	Race         model.Race
	SearchBudget int
}

// RaceResult is a parsed race update.
type RaceResult struct {
	Update    model.RaceUpdate
	Citations []model.Source
	// Strategy names the extraction strategy that matched.
	Strategy string
	Repaired bool
	// NoSearchResults is set when search was enabled but nothing was cited.
	NoSearchResults bool
}

// ResearchRace researches req.Race and extracts a RaceUpdate, issuing at most
// one repair call when the answer does not parse.
func (c *Client) ResearchRace(ctx context.Context, req RaceRequest) (*RaceResult, error) {
	key := req.Race.Key(req.Party)
	resp, err := c.Call(ctx, Request{
		System:       SystemPrompt,
		Prompt:       RacePrompt(req.Party, req.Race, c.now()),
		SearchBudget: req.SearchBudget,
	}, cost.PurposeResearch, key)
	if err != nil {
		return nil, err
	}

	res := &RaceResult{
		Citations:       resp.Citations,
		NoSearchResults: req.SearchBudget > 0 && len(resp.Citations) == 0,
	}

	upd, strategy, err := extract.ExtractWith[model.RaceUpdate](resp.Text, extract.DefaultChain)
	if err == nil {
		res.Update, res.Strategy = upd, strategy
		return res, nil
	}

	zap.L().Info("research: extraction failed, repairing",
		zap.String("race", key),
		zap.Int("text_len", len(resp.Text)),
	)
	upd, strategy, err = c.repair(ctx, resp.Text, key)
	if err != nil {
		return nil, err
	}
	res.Update, res.Strategy, res.Repaired = upd, strategy, true
	return res, nil
}

func (c *Client) repair(ctx context.Context, broken, key string) (model.RaceUpdate, string, error) {
	resp, err := c.Call(ctx, Request{Prompt: RepairPrompt(broken), Repair: true}, cost.PurposeRepair, key)
	if err != nil {
		if errors.Is(err, ErrEmptyResponse) {
			return model.RaceUpdate{}, "", eris.Wrapf(extract.ErrNoJSON, "research: repair of %s returned nothing", key)
		}
		return model.RaceUpdate{}, "", err
	}
	upd, strategy, err := extract.ExtractWith[model.RaceUpdate](resp.Text, extract.DefaultChain)
	if err != nil {
		return model.RaceUpdate{}, "", eris.Wrapf(err, "research: repair of %s", key)
	}
	return upd, strategy, nil
}

// ResearchBalance implements balance.Researcher. Balance calls search with a
// small fixed budget.
func (c *Client) ResearchBalance(ctx context.Context, req balance.Request) (*model.BalanceUpdate, []model.Source, error) {
	key := req.Race.Key(req.Party) + "#" + req.Candidate.Name
	resp, err := c.Call(ctx, Request{
		System:       SystemPrompt,
		Prompt:       BalancePrompt(req),
		SearchBudget: 2,
	}, cost.PurposeBalance, key)
	if err != nil {
		return nil, nil, err
	}
	upd, err := extract.ExtractStructured[model.BalanceUpdate](resp.Text)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "research: balance %s", key)
	}
	return &upd, resp.Citations, nil
}
