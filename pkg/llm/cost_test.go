package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opendeliberation/weaver/pkg/models"
)

func TestCostFor(t *testing.T) {
	usage := models.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}

	assert.InDelta(t, 12.50, CostFor("gpt-4o", usage), 1e-9)
	assert.InDelta(t, 0.75, CostFor("gpt-4o-mini", usage), 1e-9)
	assert.InDelta(t, 18.00, CostFor("claude-sonnet-4", usage), 1e-9)
}

func TestCostForLongestPrefixWins(t *testing.T) {
	usage := models.Usage{InputTokens: 1_000_000}

	// gpt-4o-mini-2024-07-18 matches both gpt-4o and gpt-4o-mini; the
	// longer prefix must price it.
	assert.InDelta(t, 0.15, CostFor("gpt-4o-mini-2024-07-18", usage), 1e-9)
	assert.InDelta(t, 2.50, CostFor("gpt-4o-2024-08-06", usage), 1e-9)
}

func TestCostForUnknownModelUsesDefault(t *testing.T) {
	usage := models.Usage{InputTokens: 2_000_000, OutputTokens: 500_000}
	assert.InDelta(t, 2*3.00+0.5*15.00, CostFor("some-local-model", usage), 1e-9)
}

func TestCostForZeroUsage(t *testing.T) {
	assert.Zero(t, CostFor("gpt-4o", models.Usage{}))
}
