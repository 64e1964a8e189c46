package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWeaverYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weaver.yaml"), []byte(content), 0644))
	return dir
}

func TestInitializeDefaults(t *testing.T) {
	configDir := writeWeaverYAML(t, "")

	cfg, err := Initialize(context.Background(), configDir)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.Timeout)
	assert.Equal(t, 3, cfg.Pipeline.ValidationFailureCeiling)
	assert.Equal(t, "claims-desc", cfg.Pipeline.DefaultSortStrategy)
	assert.Equal(t, 4, cfg.Queue.WorkerCount)
	assert.Equal(t, 7, cfg.Retention.ReportRetentionDays)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnv)

	// All five stages resolve to built-in prompts.
	assert.Len(t, cfg.Stages, len(StageNames))
	for _, name := range StageNames {
		stage, err := cfg.Stage(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, stage.ModelName, name)
		assert.NotEmpty(t, stage.UserPrompt, name)
	}

	stats := cfg.Stats()
	assert.Equal(t, len(StageNames), stats.Stages)
	assert.Equal(t, 0, stats.OverriddenStage)
}

func TestInitializeUserOverrides(t *testing.T) {
	configDir := writeWeaverYAML(t, `
server:
  listen_addr: ":9999"
redis:
  addr: "redis.internal:6379"
  db: 2
pipeline:
  timeout: 10m
  claims_concurrency: 8
llm:
  provider: anthropic
  api_key_env: ANTHROPIC_API_KEY
stages:
  clustering:
    model_name: claude-sonnet-4-20250514
`)

	cfg, err := Initialize(context.Background(), configDir)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.Timeout)
	assert.Equal(t, 8, cfg.Pipeline.ClaimsConcurrency)
	// Unset fields keep their defaults.
	assert.Equal(t, 3, cfg.Pipeline.ValidationFailureCeiling)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)

	clustering, err := cfg.Stage(StageClustering)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", clustering.ModelName)
	// Prompt fields not overridden fall back to the built-ins.
	assert.NotEmpty(t, clustering.UserPrompt)
	assert.Equal(t, 1, cfg.Stats().OverriddenStage)
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "hunter2")
	configDir := writeWeaverYAML(t, `
redis:
  password: "{{.TEST_REDIS_PASSWORD}}"
`)

	cfg, err := Initialize(context.Background(), configDir)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
}

func TestInitializeConfigNotFound(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeInvalidYAML(t *testing.T) {
	configDir := writeWeaverYAML(t, "{{{")
	_, err := Initialize(context.Background(), configDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeUnknownStage(t *testing.T) {
	configDir := writeWeaverYAML(t, `
stages:
  sentiment:
    model_name: gpt-4o-mini
    user_prompt: "score ${comments}"
`)
	_, err := Initialize(context.Background(), configDir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "sentiment")
}

func TestInitializeBadSortStrategy(t *testing.T) {
	configDir := writeWeaverYAML(t, `
pipeline:
  default_sort_strategy: alphabetical
`)
	_, err := Initialize(context.Background(), configDir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestInitializeBadProvider(t *testing.T) {
	configDir := writeWeaverYAML(t, `
llm:
  provider: bedrock
`)
	_, err := Initialize(context.Background(), configDir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestMergeStagesFieldGranularity(t *testing.T) {
	builtin := map[string]StageLLMConfig{
		"clustering": {ModelName: "gpt-4o-mini", SystemPrompt: "sys", UserPrompt: "user ${comments}"},
	}
	user := map[string]StageLLMConfig{
		"clustering": {SystemPrompt: "custom sys"},
	}

	merged := mergeStages(builtin, user)

	assert.Equal(t, "gpt-4o-mini", merged["clustering"].ModelName)
	assert.Equal(t, "custom sys", merged["clustering"].SystemPrompt)
	assert.Equal(t, "user ${comments}", merged["clustering"].UserPrompt)
}

func TestStageNotFound(t *testing.T) {
	cfg := &Config{Stages: map[string]StageLLMConfig{}}
	_, err := cfg.Stage("clustering")
	assert.ErrorIs(t, err, ErrStageNotFound)
}
