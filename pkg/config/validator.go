package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/opendeliberation/weaver/pkg/models"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg      *Config
	validate *validator.Validate
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateStructs(); err != nil {
		return err
	}
	if err := v.validatePipeline(); err != nil {
		return err
	}
	if err := v.validateQueue(); err != nil {
		return err
	}
	if err := v.validateStages(); err != nil {
		return err
	}
	return nil
}

// validateStructs runs the tag-driven checks (required, oneof, gte).
func (v *ConfigValidator) validateStructs() error {
	for section, target := range map[string]any{
		"server": v.cfg.Server,
		"redis":  v.cfg.Redis,
		"llm":    v.cfg.LLM,
	} {
		if err := v.validate.Struct(target); err != nil {
			return NewValidationError(section, "", err)
		}
	}
	return nil
}

func (v *ConfigValidator) validatePipeline() error {
	p := v.cfg.Pipeline
	if p.Timeout <= 0 {
		return NewValidationError("pipeline", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.ValidationFailureCeiling < 1 {
		return NewValidationError("pipeline", "validation_failure_ceiling", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if p.LockLease <= 0 {
		return NewValidationError("pipeline", "lock_lease", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.StateTTL <= 0 {
		return NewValidationError("pipeline", "state_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.ClaimsConcurrency < 1 {
		return NewValidationError("pipeline", "claims_concurrency", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if !models.KnownSortStrategy(p.DefaultSortStrategy) {
		return NewValidationError("pipeline", "default_sort_strategy", fmt.Errorf("%w: unknown strategy '%s'", ErrInvalidValue, p.DefaultSortStrategy))
	}
	if p.DefaultTopK < 0 {
		return NewValidationError("pipeline", "default_top_k", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount < 1 {
		return NewValidationError("queue", "worker_count", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.PollIntervalJitter < 0 {
		return NewValidationError("queue", "poll_interval_jitter", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateStages() error {
	known := make(map[string]bool, len(StageNames))
	for _, name := range StageNames {
		known[name] = true
	}

	for name, stage := range v.cfg.Stages {
		if !known[name] {
			return NewValidationError("stages", name, fmt.Errorf("%w: unknown stage", ErrInvalidValue))
		}
		if stage.ModelName == "" {
			return NewValidationError("stages", name, fmt.Errorf("%w: model_name is required", ErrInvalidValue))
		}
		if stage.UserPrompt == "" {
			return NewValidationError("stages", name, fmt.Errorf("%w: user_prompt is required", ErrInvalidValue))
		}
	}

	// Every pipeline stage must resolve to a configuration.
	for _, name := range StageNames {
		if _, ok := v.cfg.Stages[name]; !ok {
			return NewValidationError("stages", name, ErrStageNotFound)
		}
	}
	return nil
}
