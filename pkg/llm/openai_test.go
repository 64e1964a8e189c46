package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeliberation/weaver/pkg/pipeline"
)

func TestNewClient(t *testing.T) {
	c, err := NewClient(ProviderOpenAI, "")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	c, err = NewClient("", "")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	c, err = NewClient(ProviderAnthropic, "")
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	_, err = NewClient("llama-at-home", "")
	require.Error(t, err)
	assert.Equal(t, pipeline.KindInvalidInput, pipeline.KindOf(err))
}

func TestOpenAICompleteRequiresAPIKey(t *testing.T) {
	client := NewOpenAIClient("")
	_, err := client.Complete(context.Background(), "", &Request{Model: "gpt-4o-mini"})
	require.Error(t, err)
	assert.Equal(t, pipeline.KindInvalidInput, pipeline.KindOf(err))
}

func TestMapOpenAIErrorRateLimited(t *testing.T) {
	err := mapOpenAIError(&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"})
	assert.Equal(t, pipeline.KindUpstreamRateLimited, pipeline.KindOf(err))

	var pe *pipeline.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 30*time.Second, pe.RetryAfter)
}

func TestMapOpenAIErrorServerError(t *testing.T) {
	for _, status := range []int{500, 502, 503} {
		err := mapOpenAIError(&openai.APIError{HTTPStatusCode: status})
		assert.Equal(t, pipeline.KindUpstreamUnavailable, pipeline.KindOf(err), "status %d", status)
	}
}

func TestMapOpenAIErrorBadCredentials(t *testing.T) {
	err := mapOpenAIError(&openai.APIError{HTTPStatusCode: http.StatusUnauthorized})
	assert.Equal(t, pipeline.KindInvalidInput, pipeline.KindOf(err))
}

func TestMapOpenAIErrorContentPolicy(t *testing.T) {
	err := mapOpenAIError(&openai.APIError{HTTPStatusCode: http.StatusBadRequest, Code: "content_filter"})
	assert.Equal(t, pipeline.KindContentPolicy, pipeline.KindOf(err))

	// Non-string codes never classify as content policy.
	err = mapOpenAIError(&openai.APIError{HTTPStatusCode: http.StatusBadRequest, Code: 42})
	assert.Equal(t, pipeline.KindUpstreamInvalidResponse, pipeline.KindOf(err))
}

func TestMapOpenAIErrorCancellation(t *testing.T) {
	assert.Equal(t, pipeline.KindCancellation, pipeline.KindOf(mapOpenAIError(context.Canceled)))
	assert.Equal(t, pipeline.KindCancellation, pipeline.KindOf(mapOpenAIError(context.DeadlineExceeded)))
}

func TestMapOpenAIErrorTransport(t *testing.T) {
	err := mapOpenAIError(errors.New("dial tcp: connection refused"))
	assert.Equal(t, pipeline.KindUpstreamUnavailable, pipeline.KindOf(err))
}
