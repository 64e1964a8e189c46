// Package llm provides the JSON-mode chat-completion clients the stage
// executors call. Two providers are supported: any OpenAI-compatible
// endpoint and Anthropic. Provider errors are mapped into the pipeline
// error taxonomy before crossing the stage boundary.
package llm

import (
	"context"

	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
)

// Request is one stage-level completion call. The user prompt is already
// hydrated; the client only transports it.
type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string

	// JSONResponse requests the provider's JSON object response format.
	// All pipeline stages set it.
	JSONResponse bool
}

// Response carries the raw completion text plus the usage/cost envelope.
type Response struct {
	Content string
	Usage   models.Usage
	Cost    float64
}

// Client is the stage-facing completion interface. The API key is passed
// per call and never retained.
type Client interface {
	Complete(ctx context.Context, apiKey string, req *Request) (*Response, error)
}

// Provider identifiers accepted by NewClient.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewClient selects a provider implementation. baseURL overrides the
// provider's default endpoint (OpenAI-compatible proxies, test servers).
func NewClient(provider, baseURL string) (Client, error) {
	switch provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient(baseURL), nil
	case ProviderAnthropic:
		return NewAnthropicClient(baseURL), nil
	default:
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "unknown LLM provider %q", provider)
	}
}
