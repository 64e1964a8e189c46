package stages

import (
	"github.com/opendeliberation/weaver/pkg/llm"
)

// Suite bundles the five stage executors over one LLM client. It
// implements pipeline.StageExecutors.
type Suite struct {
	llm llm.Client

	// claimsConcurrency bounds the per-comment claim extraction fan-out.
	claimsConcurrency int
}

// DefaultClaimsConcurrency is the per-comment extraction fan-out bound.
const DefaultClaimsConcurrency = 4

// NewSuite creates the stage executor set. claimsConcurrency <= 0 selects
// the default.
func NewSuite(client llm.Client, claimsConcurrency int) *Suite {
	if claimsConcurrency <= 0 {
		claimsConcurrency = DefaultClaimsConcurrency
	}
	return &Suite{llm: client, claimsConcurrency: claimsConcurrency}
}
