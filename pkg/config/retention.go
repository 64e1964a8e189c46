package config

import "time"

// RetentionConfig controls durable state retention and cleanup behavior.
type RetentionConfig struct {
	// ReportRetentionDays is how many days to keep terminal pipeline
	// state before the cleanup loop deletes it. Redis key TTLs handle
	// the normal case; this is a safety net for refreshed keys.
	ReportRetentionDays int `yaml:"report_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ReportRetentionDays: 7,
		CleanupInterval:     12 * time.Hour,
	}
}
