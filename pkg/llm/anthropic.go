package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
)

// anthropicMaxTokens caps completion length. Stage outputs are compact
// JSON documents; this is generous headroom.
const anthropicMaxTokens = 8192

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	baseURL string
}

// NewAnthropicClient creates a client. baseURL is optional.
func NewAnthropicClient(baseURL string) *AnthropicClient {
	return &AnthropicClient{baseURL: baseURL}
}

// Complete issues a single message call. Anthropic has no JSON response
// format switch; the stage prompts instruct JSON output and the stage
// parsers enforce it.
func (c *AnthropicClient) Complete(ctx context.Context, apiKey string, req *Request) (*Response, error) {
	if apiKey == "" {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	client := anthropic.NewClient(opts...)

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: anthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: req.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	})
	if err != nil {
		return nil, mapAnthropicError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := sb.String()
	if content == "" {
		return nil, pipeline.NewError(pipeline.KindUpstreamInvalidResponse, "message returned no text content")
	}

	usage := models.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return &Response{
		Content: content,
		Usage:   usage,
		Cost:    CostFor(req.Model, usage),
	}, nil
}

// mapAnthropicError converts SDK errors into the pipeline taxonomy.
func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &pipeline.Error{
				Kind:       pipeline.KindUpstreamRateLimited,
				Message:    "Anthropic rate limit",
				RetryAfter: 30 * time.Second,
				Err:        err,
			}
		case apiErr.StatusCode >= 500:
			return pipeline.WrapError(pipeline.KindUpstreamUnavailable, err, "Anthropic server error (%d)", apiErr.StatusCode)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return pipeline.WrapError(pipeline.KindInvalidInput, err, "Anthropic rejected credentials")
		case apiErr.StatusCode == http.StatusBadRequest && strings.Contains(err.Error(), "safety"):
			return pipeline.WrapError(pipeline.KindContentPolicy, err, "Anthropic rejected content")
		default:
			return pipeline.WrapError(pipeline.KindUpstreamInvalidResponse, err, "Anthropic request failed (%d)", apiErr.StatusCode)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return pipeline.WrapError(pipeline.KindCancellation, err, "LLM call cancelled")
	}
	return pipeline.WrapError(pipeline.KindUpstreamUnavailable, err, "Anthropic unreachable")
}
