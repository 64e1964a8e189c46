package llm

import (
	"strings"

	"github.com/opendeliberation/weaver/pkg/models"
)

// modelPricing is USD per million tokens.
type modelPricing struct {
	inputPerM  float64
	outputPerM float64
}

// pricing holds the per-model rates used for cost accounting. Unknown
// models fall back to defaultPricing so cost is an estimate rather than
// silently zero. Matched by prefix so dated snapshots price like their
// base model.
var pricing = map[string]modelPricing{
	"gpt-4o":            {inputPerM: 2.50, outputPerM: 10.00},
	"gpt-4o-mini":       {inputPerM: 0.15, outputPerM: 0.60},
	"gpt-4-turbo":       {inputPerM: 10.00, outputPerM: 30.00},
	"claude-sonnet-4":   {inputPerM: 3.00, outputPerM: 15.00},
	"claude-haiku-3-5":  {inputPerM: 0.80, outputPerM: 4.00},
	"claude-3-5-sonnet": {inputPerM: 3.00, outputPerM: 15.00},
	"claude-3-5-haiku":  {inputPerM: 0.80, outputPerM: 4.00},
}

var defaultPricing = modelPricing{inputPerM: 3.00, outputPerM: 15.00}

// CostFor computes the dollar cost of a usage envelope for a model.
func CostFor(model string, usage models.Usage) float64 {
	p := defaultPricing
	best := 0
	for prefix, rates := range pricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			p = rates
			best = len(prefix)
		}
	}
	return float64(usage.InputTokens)/1e6*p.inputPerM + float64(usage.OutputTokens)/1e6*p.outputPerM
}
