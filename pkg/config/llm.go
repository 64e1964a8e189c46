package config

// Stage identifiers used as keys in the stages section of weaver.yaml.
const (
	StageClustering = "clustering"
	StageClaims     = "claims"
	StageDedup      = "sort_and_deduplicate"
	StageSummaries  = "summaries"
	StageCruxes     = "cruxes"
)

// StageNames lists the configurable stages in pipeline order.
var StageNames = []string{StageClustering, StageClaims, StageDedup, StageSummaries, StageCruxes}

// LLMProviderConfig selects the upstream LLM provider for all stages.
type LLMProviderConfig struct {
	// Provider is "openai" or "anthropic".
	Provider string `yaml:"provider" validate:"required,oneof=openai anthropic"`

	// BaseURL overrides the provider endpoint, for proxies and
	// compatible gateways. Empty selects the provider default.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in YAML or in durable state.
	APIKeyEnv string `yaml:"api_key_env"`
}

// DefaultLLMProviderConfig returns the built-in provider defaults.
func DefaultLLMProviderConfig() *LLMProviderConfig {
	return &LLMProviderConfig{
		Provider:  "openai",
		APIKeyEnv: "OPENAI_API_KEY",
	}
}

// StageLLMConfig is the model and prompt pair for one pipeline stage.
// Empty fields fall back to the built-in stage configuration.
type StageLLMConfig struct {
	ModelName    string `yaml:"model_name"`
	SystemPrompt string `yaml:"system_prompt"`
	UserPrompt   string `yaml:"user_prompt"`
}
