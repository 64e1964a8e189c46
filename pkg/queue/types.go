// Package queue provides the report job queue and worker pool.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/opendeliberation/weaver/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates no pending jobs are in the queue.
	ErrNoJobsAvailable = errors.New("no jobs available")
)

// ReportJob is one enqueued report generation request. The LLM API key
// is never part of the payload; workers resolve it from the environment
// at execution time.
type ReportJob struct {
	ReportID     string           `json:"reportId"`
	UserID       string           `json:"userId"`
	Comments     []models.Comment `json:"comments"`
	SortStrategy string           `json:"sortStrategy"`
	EnableCruxes bool             `json:"enableCruxes"`
	TopK         int              `json:"topK"`
	Resume       bool             `json:"resume"`
	EnqueuedAt   time.Time        `json:"enqueuedAt"`
}

// JobExecutor is the interface for report processing.
//
// The executor owns the entire pipeline lifecycle internally: lock
// acquisition, state resume, stage execution, and terminal persistence.
// The worker only handles popping jobs, job-level cancellation, and
// health tracking.
type JobExecutor interface {
	Execute(ctx context.Context, job *ReportJob) *ExecutionResult
}

// ExecutionResult is lightweight, just the terminal view. All durable
// state was already written by the executor during processing.
type ExecutionResult struct {
	Status models.PipelineStatus
	Error  error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	RedisReachable   bool           `json:"redis_reachable"`
	RedisError       string         `json:"redis_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"` // "idle" or "working"
	CurrentReportID string    `json:"current_report_id,omitempty"`
	JobsProcessed   int       `json:"jobs_processed"`
	LastActivity    time.Time `json:"last_activity"`
}
