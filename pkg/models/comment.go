// Package models defines the shared data shapes that flow through the
// report pipeline: comments in, taxonomy/claims/summaries/cruxes out, and
// the durable PipelineState record in between.
package models

import (
	"fmt"
	"strings"
)

// Comment is one participant utterance. Immutable pipeline input.
type Comment struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

// ValidateComments checks the pipeline input invariants: non-empty batch,
// unique IDs, non-empty text.
func ValidateComments(comments []Comment) error {
	if len(comments) == 0 {
		return fmt.Errorf("comment batch is empty")
	}
	seen := make(map[string]struct{}, len(comments))
	for i, c := range comments {
		if c.ID == "" {
			return fmt.Errorf("comment at index %d has no id", i)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("duplicate comment id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("comment %q has empty text", c.ID)
		}
	}
	return nil
}

// LLMConfig is the per-stage LLM configuration. UserPrompt is a template
// with stage-specific ${placeholder} variables.
type LLMConfig struct {
	ModelName    string `json:"modelName" yaml:"model_name"`
	SystemPrompt string `json:"systemPrompt" yaml:"system_prompt"`
	UserPrompt   string `json:"userPrompt" yaml:"user_prompt"`
}
