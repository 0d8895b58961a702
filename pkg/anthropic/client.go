package anthropic

import (
	"context"
	"encoding/json"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ballot-research/internal/resilience"
)

// Provider is the provider label used in errors and cost records.
const Provider = "anthropic"

// Client defines the Anthropic API operations used by the pipeline.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is our own request type for CreateMessage.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64

	// WebSearchMaxUses enables the server-side web search tool with this
	// many searches allowed. Zero sends no tools.
	WebSearchMaxUses int64
}

// SystemBlock represents a system prompt block, optionally with cache control.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl configures caching for a content block.
type CacheControl struct {
	TTL string // "5m" or "1h"
}

// Message represents a single conversational message.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse is our own response type from CreateMessage.
type MessageResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	Usage        TokenUsage
	StopSequence string

	// SearchResults lists every page returned by web search tool calls.
	SearchResults []Citation
}

// ContentBlock represents a block of content in a response.
type ContentBlock struct {
	Type      string
	Text      string
	Citations []Citation
}

// Citation is a web page referenced by a response.
type Citation struct {
	URL   string
	Title string
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
	WebSearchRequests        int64
}

// Text concatenates all text blocks in order.
func (r *MessageResponse) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// Citations returns text-block citations followed by search results,
// in response order. Duplicates are left for the caller to merge.
func (r *MessageResponse) Citations() []Citation {
	var out []Citation
	for _, b := range r.Content {
		out = append(out, b.Citations...)
	}
	return append(out, r.SearchResults...)
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
}

// NewClient creates a new Anthropic client backed by the SDK. SDK-level
// retries are disabled; callers own the retry policy.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	return &sdkClient{
		client: sdk.NewClient(append(base, opts...)...),
	}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}

	if len(req.System) > 0 {
		params.System = toSDKSystemBlocks(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.WebSearchMaxUses > 0 {
		params.Tools = []sdk.ToolUnionParam{{
			OfWebSearchTool20250305: &sdk.WebSearchTool20250305Param{
				MaxUses: sdk.Int(req.WebSearchMaxUses),
			},
		}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(classify(err), "anthropic: create message")
	}

	return fromSDKMessage(msg), nil
}

// classify converts SDK API errors into resilience.StatusError so callers
// can branch on auth, rate limit, and overload.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return resilience.NewStatusError(Provider, apiErr.StatusCode, apiErr.Error(), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return resilience.NewStatusError(Provider, 0, err.Error(), err)
}

// --- SDK type conversion helpers ---

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			out[i] = sdk.NewAssistantMessage(block)
		default:
			out[i] = sdk.NewUserMessage(block)
		}
	}
	return out
}

func toSDKSystemBlocks(blocks []SystemBlock) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i] = sdk.TextBlockParam{
			Text: b.Text,
		}
		if b.CacheControl != nil {
			cc := sdk.NewCacheControlEphemeralParam()
			if b.CacheControl.TTL != "" {
				cc.TTL = sdk.CacheControlEphemeralTTL(b.CacheControl.TTL)
			}
			out[i].CacheControl = cc
		}
	}
	return out
}

// rawBlock is the subset of a content block's wire form needed for
// citations. Decoding the raw JSON keeps this independent of the SDK's
// union accessors for server tool blocks.
type rawBlock struct {
	Type      string          `json:"type"`
	Citations []rawCitation   `json:"citations"`
	Content   json.RawMessage `json:"content"`
}

type rawCitation struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type rawUsage struct {
	Usage struct {
		ServerToolUse struct {
			WebSearchRequests int64 `json:"web_search_requests"`
		} `json:"server_tool_use"`
	} `json:"usage"`
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		StopSequence: msg.StopSequence,
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}

	if raw := msg.RawJSON(); raw != "" {
		var u rawUsage
		if json.Unmarshal([]byte(raw), &u) == nil {
			resp.Usage.WebSearchRequests = u.Usage.ServerToolUse.WebSearchRequests
		}
	}

	resp.Content = make([]ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		block := ContentBlock{Type: b.Type, Text: b.Text}
		var rb rawBlock
		if raw := b.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &rb) == nil {
			block.Citations = parseCitations(rb.Citations)
			if rb.Type == "web_search_tool_result" {
				resp.SearchResults = append(resp.SearchResults, parseSearchResults(rb.Content)...)
			}
		}
		resp.Content = append(resp.Content, block)
	}

	return resp
}

func parseCitations(in []rawCitation) []Citation {
	var out []Citation
	for _, c := range in {
		if c.URL == "" {
			continue
		}
		out = append(out, Citation{URL: c.URL, Title: c.Title})
	}
	return out
}

// parseSearchResults decodes a web_search_tool_result content field. An
// error result is an object rather than an array and yields nothing.
func parseSearchResults(content json.RawMessage) []Citation {
	var results []rawCitation
	if err := json.Unmarshal(content, &results); err != nil {
		return nil
	}
	var out []Citation
	for _, r := range results {
		if r.Type == "web_search_result" && r.URL != "" {
			out = append(out, Citation{URL: r.URL, Title: r.Title})
		}
	}
	return out
}
