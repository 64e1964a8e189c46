package stages

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opendeliberation/weaver/pkg/llm"
	"github.com/opendeliberation/weaver/pkg/models"
)

// fakeLLM is a scriptable llm.Client. Every request is recorded; respond
// decides the reply.
type fakeLLM struct {
	mu       sync.Mutex
	requests []*llm.Request
	respond  func(req *llm.Request) (*llm.Response, error)
}

func (f *fakeLLM) Complete(_ context.Context, _ string, req *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeLLM) recorded() []*llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*llm.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// jsonReply wraps a JSON document in the standard response envelope.
func jsonReply(content string) (*llm.Response, error) {
	return &llm.Response{
		Content: content,
		Usage:   models.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		Cost:    0.01,
	}, nil
}

func TestNewSuiteDefaults(t *testing.T) {
	s := NewSuite(&fakeLLM{}, 0)
	assert.Equal(t, DefaultClaimsConcurrency, s.claimsConcurrency)

	s = NewSuite(&fakeLLM{}, 8)
	assert.Equal(t, 8, s.claimsConcurrency)
}
