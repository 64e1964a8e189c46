package config

import "time"

// QueueConfig contains job queue and worker pool configuration.
// These values control how report jobs are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently pops and processes report jobs.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the blocking-pop timeout per queue poll. Workers
	// re-poll immediately after a job; this bounds idle wakeups.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added between empty polls
	// so replicas do not synchronize against Redis.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// pipelines to complete during shutdown. Should match the pipeline
	// timeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for orphaned reports.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long an in-progress report can go without a
	// state write before it is considered orphaned, provided its lock
	// lease has also expired.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             4,
		PollInterval:            2 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Minute,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
	}
}
