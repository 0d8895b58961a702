package research

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/sources"
	"github.com/sells-group/ballot-research/pkg/perplexity"
)

// PerplexityService researches with Perplexity's online models. The search
// budget only toggles search on or off; Perplexity has no per-call limit.
type PerplexityService struct {
	client    perplexity.Client
	model     string
	maxTokens int
}

// NewPerplexityService wraps client. An empty model uses the client default.
func NewPerplexityService(client perplexity.Client, model string, maxTokens int) *PerplexityService {
	return &PerplexityService{client: client, model: model, maxTokens: maxTokens}
}

// Name implements Service.
func (s *PerplexityService) Name() string { return perplexity.Provider }

// Research implements Service.
func (s *PerplexityService) Research(ctx context.Context, req Request) (*Response, error) {
	cr := perplexity.ChatCompletionRequest{
		Model:         s.model,
		DisableSearch: req.Repair || req.SearchBudget <= 0,
	}
	if req.System != "" {
		cr.Messages = append(cr.Messages, perplexity.Message{Role: "system", Content: req.System})
	}
	cr.Messages = append(cr.Messages, perplexity.Message{Role: "user", Content: req.Prompt})
	if !cr.DisableSearch {
		cr.SearchRecencyFilter = "month"
	}
	maxTokens := s.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int(req.MaxTokens)
	}
	if maxTokens > 0 {
		cr.MaxTokens = &maxTokens
	}

	resp, err := s.client.ChatCompletion(ctx, cr)
	if err != nil {
		return nil, eris.Wrap(err, "research: perplexity completion")
	}

	var cites []model.Source
	for _, r := range resp.SearchResults {
		cites = append(cites, model.Source{URL: r.URL, Title: r.Title})
	}
	for _, u := range resp.Citations {
		cites = append(cites, model.Source{URL: u})
	}
	var searches int64
	if !cr.DisableSearch {
		searches = 1
	}
	return &Response{
		Text:      resp.Text(),
		Citations: sources.Dedupe(cites),
		Usage: Usage{
			Provider:     perplexity.Provider,
			Model:        resp.Model,
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
			WebSearches:  searches,
		},
	}, nil
}
