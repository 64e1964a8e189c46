// Package stages implements the five pipeline stage executors. Each one
// hydrates a prompt template, issues a JSON-mode LLM call, parses and
// validates the response, and returns a typed output with the uniform
// {usage, cost} analytics envelope. Failures are tagged pipeline errors;
// nothing panics across the stage boundary.
package stages

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/opendeliberation/weaver/pkg/pipeline"
)

// placeholderPattern matches ${name} template variables.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z][A-Za-z0-9_]*)\}`)

// hydrateTemplate substitutes the named placeholders into a user prompt
// template. Each stage accepts a closed set of placeholders; a template
// referencing anything else is rejected as invalid input at stage entry.
func hydrateTemplate(tpl string, vars map[string]string) (string, error) {
	var badName string
	out := placeholderPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		val, ok := vars[name]
		if !ok {
			if badName == "" {
				badName = name
			}
			return m
		}
		return val
	})
	if badName != "" {
		return "", pipeline.NewError(pipeline.KindInvalidInput, "prompt template references unknown placeholder ${%s}", badName)
	}
	return out, nil
}

// templateUses reports whether the template references the placeholder.
func templateUses(tpl, name string) bool {
	for _, m := range placeholderPattern.FindAllStringSubmatch(tpl, -1) {
		if m[1] == name {
			return true
		}
	}
	return false
}

// decodeJSONResponse parses an LLM completion into v. Providers without a
// native JSON response format occasionally wrap the document in markdown
// fences; strip those before giving up.
func decodeJSONResponse(content string, v any) error {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return pipeline.WrapError(pipeline.KindUpstreamInvalidResponse, err, "LLM response is not the expected JSON shape")
	}
	return nil
}

// mustJSON marshals a known-serializable value for template hydration.
func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// Only reachable with unserializable inputs, which the models
		// package does not produce.
		return "null"
	}
	return string(raw)
}
