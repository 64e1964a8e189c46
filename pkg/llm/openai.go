package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
)

// OpenAIClient talks to OpenAI or any OpenAI-compatible endpoint.
type OpenAIClient struct {
	baseURL string
}

// NewOpenAIClient creates a client. baseURL is optional.
func NewOpenAIClient(baseURL string) *OpenAIClient {
	return &OpenAIClient{baseURL: baseURL}
}

// Complete issues a single chat completion. The underlying SDK client is
// built per call so the API key is never retained.
func (c *OpenAIClient) Complete(ctx context.Context, apiKey string, req *Request) (*Response, error) {
	if apiKey == "" {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "missing API key")
	}
	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	client := openai.NewClientWithConfig(cfg)

	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	}
	if req.JSONResponse {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, pipeline.NewError(pipeline.KindUpstreamInvalidResponse, "completion returned no choices")
	}

	usage := models.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return &Response{
		Content: resp.Choices[0].Message.Content,
		Usage:   usage,
		Cost:    CostFor(req.Model, usage),
	}, nil
}

// mapOpenAIError converts SDK errors into the pipeline taxonomy.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &pipeline.Error{
				Kind:       pipeline.KindUpstreamRateLimited,
				Message:    apiErr.Message,
				RetryAfter: 30 * time.Second,
				Err:        err,
			}
		case apiErr.HTTPStatusCode >= 500:
			return pipeline.WrapError(pipeline.KindUpstreamUnavailable, err, "LLM provider error (%d)", apiErr.HTTPStatusCode)
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return pipeline.WrapError(pipeline.KindInvalidInput, err, "LLM provider rejected credentials")
		case isContentPolicyCode(apiErr.Code):
			return pipeline.WrapError(pipeline.KindContentPolicy, err, "LLM provider rejected content")
		default:
			return pipeline.WrapError(pipeline.KindUpstreamInvalidResponse, err, "LLM provider request failed (%d)", apiErr.HTTPStatusCode)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return pipeline.WrapError(pipeline.KindCancellation, err, "LLM call cancelled")
	}
	return pipeline.WrapError(pipeline.KindUpstreamUnavailable, err, "LLM provider unreachable")
}

// isContentPolicyCode recognizes the provider's moderation error codes.
// The code field is loosely typed in the API; compare as string.
func isContentPolicyCode(code any) bool {
	s, ok := code.(string)
	if !ok {
		return false
	}
	return strings.Contains(s, "content_filter") || strings.Contains(s, "content_policy")
}
