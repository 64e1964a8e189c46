package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// WeaverYAMLConfig represents the complete weaver.yaml file structure
type WeaverYAMLConfig struct {
	Server    *ServerConfig             `yaml:"server"`
	Redis     *RedisConfig              `yaml:"redis"`
	Pipeline  *PipelineConfig           `yaml:"pipeline"`
	Queue     *QueueConfig              `yaml:"queue"`
	Retention *RetentionConfig          `yaml:"retention"`
	LLM       *LLMProviderConfig        `yaml:"llm"`
	Stages    map[string]StageLLMConfig `yaml:"stages"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load weaver.yaml from configDir
//  2. Expand environment variables ({{.VAR}} syntax)
//  3. Merge user sections over built-in defaults
//  4. Merge user stage overrides over built-in stage prompts
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"stages", stats.Stages,
		"overridden_stages", stats.OverriddenStage,
		"provider", cfg.LLM.Provider)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	weaverConfig, err := loader.loadWeaverYAML()
	if err != nil {
		return nil, NewLoadError("weaver.yaml", err)
	}

	server, err := mergeSection(DefaultServerConfig(), weaverConfig.Server, "server")
	if err != nil {
		return nil, err
	}
	redisCfg, err := mergeSection(DefaultRedisConfig(), weaverConfig.Redis, "redis")
	if err != nil {
		return nil, err
	}
	pipelineCfg, err := mergeSection(DefaultPipelineConfig(), weaverConfig.Pipeline, "pipeline")
	if err != nil {
		return nil, err
	}
	queueCfg, err := mergeSection(DefaultQueueConfig(), weaverConfig.Queue, "queue")
	if err != nil {
		return nil, err
	}
	retentionCfg, err := mergeSection(DefaultRetentionConfig(), weaverConfig.Retention, "retention")
	if err != nil {
		return nil, err
	}
	llmCfg, err := mergeSection(DefaultLLMProviderConfig(), weaverConfig.LLM, "llm")
	if err != nil {
		return nil, err
	}

	return &Config{
		configDir: configDir,
		Server:    server,
		Redis:     redisCfg,
		Pipeline:  pipelineCfg,
		Queue:     queueCfg,
		Retention: retentionCfg,
		LLM:       llmCfg,
		Stages:    mergeStages(GetBuiltinConfig().Stages, weaverConfig.Stages),
	}, nil
}

// mergeSection merges a user-provided YAML section into its built-in
// defaults. Non-zero user values override defaults; unset values keep them.
func mergeSection[T any](defaults *T, user *T, section string) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge %s config: %w", section, err)
	}
	return defaults, nil
}

// mergeStages merges user stage overrides over the built-in prompts,
// field by field. Unknown stage names pass through so validation can
// reject them with a clear message.
func mergeStages(builtin, user map[string]StageLLMConfig) map[string]StageLLMConfig {
	merged := make(map[string]StageLLMConfig, len(builtin))
	for name, stage := range builtin {
		merged[name] = stage
	}
	for name, override := range user {
		stage := merged[name]
		if override.ModelName != "" {
			stage.ModelName = override.ModelName
		}
		if override.SystemPrompt != "" {
			stage.SystemPrompt = override.SystemPrompt
		}
		if override.UserPrompt != "" {
			stage.UserPrompt = override.UserPrompt
		}
		merged[name] = stage
	}
	return merged
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadWeaverYAML() (*WeaverYAMLConfig, error) {
	var config WeaverYAMLConfig
	config.Stages = make(map[string]StageLLMConfig)

	if err := l.loadYAML("weaver.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}
