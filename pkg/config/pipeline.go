package config

import "time"

// PipelineConfig controls the report pipeline runner.
type PipelineConfig struct {
	// Timeout is the wall-clock budget for one pipeline run, cold or
	// resumed. Exceeding it fails the run with a cancellation error.
	Timeout time.Duration `yaml:"timeout"`

	// ValidationFailureCeiling is the number of consecutive corrupted
	// cached-result detections tolerated per report before the run is
	// abandoned instead of retried.
	ValidationFailureCeiling int `yaml:"validation_failure_ceiling"`

	// LockLease is the per-report lock TTL. Each successful lock
	// verification refreshes it.
	LockLease time.Duration `yaml:"lock_lease"`

	// StateTTL is how long durable pipeline state lives in Redis.
	StateTTL time.Duration `yaml:"state_ttl"`

	// ClaimsConcurrency bounds the per-comment fan-out of the claims stage.
	ClaimsConcurrency int `yaml:"claims_concurrency"`

	// DefaultSortStrategy applies when a job omits sort_strategy.
	DefaultSortStrategy string `yaml:"default_sort_strategy"`

	// DefaultTopK applies when a cruxes-enabled job omits top_k.
	DefaultTopK int `yaml:"default_top_k"`
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Timeout:                  30 * time.Minute,
		ValidationFailureCeiling: 3,
		LockLease:                60 * time.Second,
		StateTTL:                 7 * 24 * time.Hour,
		ClaimsConcurrency:        4,
		DefaultSortStrategy:      "claims-desc",
		DefaultTopK:              10,
	}
}
