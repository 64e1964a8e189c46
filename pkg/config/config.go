package config

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Server    *ServerConfig
	Redis     *RedisConfig
	Pipeline  *PipelineConfig
	Queue     *QueueConfig
	Retention *RetentionConfig
	LLM       *LLMProviderConfig

	// Stages maps stage name to its resolved model and prompts
	// (built-in merged with user overrides).
	Stages map[string]StageLLMConfig
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stage retrieves the resolved LLM configuration for a stage name.
func (c *Config) Stage(name string) (StageLLMConfig, error) {
	stage, ok := c.Stages[name]
	if !ok {
		return StageLLMConfig{}, ErrStageNotFound
	}
	return stage, nil
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Stages          int
	OverriddenStage int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{Stages: len(c.Stages)}
	builtin := GetBuiltinConfig()
	for name, stage := range c.Stages {
		if b, ok := builtin.Stages[name]; ok && stage != b {
			s.OverriddenStage++
		}
	}
	return s
}
