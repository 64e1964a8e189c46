package pipeline

import (
	"encoding/json"

	"github.com/opendeliberation/weaver/pkg/models"
)

// Structural contracts for cached stage results. Cached values are opaque
// JSON; the runner only asserts the envelope shape before trusting them.
// This protects resumed runs against silent schema drift and partial
// writes.

// requiredKeys maps each step to the keys its cached result must carry in
// addition to the universal usage/cost envelope.
var requiredKeys = map[models.StepName][]string{
	models.StepClustering: {"data"},
	models.StepClaims:     {"data"},
	models.StepSort:       {"data"},
	models.StepSummaries:  {"data"},
	models.StepCruxes:     {"subtopicCruxes", "topicScores", "speakerCruxMatrix"},
}

// ValidateCachedResult checks a recovered cached result against the
// structural contract for its step.
func ValidateCachedResult(step models.StepName, raw json.RawMessage) error {
	if len(raw) == 0 {
		return NewError(KindCorruptedState, "cached result for step %s is empty", step)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return WrapError(KindCorruptedState, err, "cached result for step %s is not a JSON object", step)
	}
	for _, key := range []string{"usage", "cost"} {
		if _, ok := doc[key]; !ok {
			return NewError(KindCorruptedState, "cached result for step %s is missing %q", step, key)
		}
	}
	extra, ok := requiredKeys[step]
	if !ok {
		return NewError(KindInternal, "unknown step %s", step)
	}
	for _, key := range extra {
		if _, ok := doc[key]; !ok {
			return NewError(KindCorruptedState, "cached result for step %s is missing %q", step, key)
		}
	}
	return nil
}
