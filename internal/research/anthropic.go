package research

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/sources"
	"github.com/sells-group/ballot-research/pkg/anthropic"
)

// AnthropicConfig selects models and token budgets.
type AnthropicConfig struct {
	Model           string
	RepairModel     string
	MaxTokens       int64
	RepairMaxTokens int64
}

// AnthropicService researches with Claude and the server-side web search
// tool.
type AnthropicService struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicService wraps client.
func NewAnthropicService(client anthropic.Client, cfg AnthropicConfig) *AnthropicService {
	if cfg.RepairModel == "" {
		cfg.RepairModel = cfg.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8000
	}
	if cfg.RepairMaxTokens <= 0 {
		cfg.RepairMaxTokens = 4000
	}
	return &AnthropicService{client: client, cfg: cfg}
}

// Name implements Service.
func (s *AnthropicService) Name() string { return anthropic.Provider }

// Research implements Service.
func (s *AnthropicService) Research(ctx context.Context, req Request) (*Response, error) {
	mr := anthropic.MessageRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: req.Prompt}},
	}
	if req.System != "" {
		mr.System = []anthropic.SystemBlock{{Text: req.System}}
	}
	if req.Repair {
		mr.Model = s.cfg.RepairModel
		mr.MaxTokens = s.cfg.RepairMaxTokens
	} else if req.SearchBudget > 0 {
		mr.WebSearchMaxUses = int64(req.SearchBudget)
	}
	if req.MaxTokens > 0 {
		mr.MaxTokens = req.MaxTokens
	}

	resp, err := s.client.CreateMessage(ctx, mr)
	if err != nil {
		return nil, eris.Wrap(err, "research: anthropic message")
	}

	var cites []model.Source
	for _, c := range resp.Citations() {
		cites = append(cites, model.Source{URL: c.URL, Title: c.Title})
	}
	modelName := resp.Model
	if modelName == "" {
		modelName = mr.Model
	}
	return &Response{
		Text:      resp.Text(),
		Citations: sources.Dedupe(cites),
		Usage: Usage{
			Provider:         anthropic.Provider,
			Model:            modelName,
			InputTokens:      resp.Usage.InputTokens,
			OutputTokens:     resp.Usage.OutputTokens,
			CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
			CacheReadTokens:  resp.Usage.CacheReadInputTokens,
			WebSearches:      resp.Usage.WebSearchRequests,
		},
	}, nil
}
