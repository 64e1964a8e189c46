package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/opendeliberation/weaver/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that pops and processes report jobs.
type Worker struct {
	id       string
	podID    string
	queue    *JobQueue
	config   *config.QueueConfig
	executor JobExecutor
	pool     JobRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu              sync.RWMutex
	status          WorkerStatus
	currentReportID string
	jobsProcessed   int
	lastActivity    time.Time
}

// JobRegistry is the subset of WorkerPool used by Worker for job registration.
type JobRegistry interface {
	RegisterJob(reportID string, cancel context.CancelFunc)
	UnregisterJob(reportID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, queue *JobQueue, cfg *config.QueueConfig, executor JobExecutor, pool JobRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		queue:        queue,
		config:       cfg,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:              w.id,
		Status:          string(w.status),
		CurrentReportID: w.currentReportID,
		JobsProcessed:   w.jobsProcessed,
		LastActivity:    w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) {
					w.sleep(w.jitter())
					continue
				}
				if errors.Is(err, context.Canceled) {
					continue
				}
				log.Error("Error processing job", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess pops one job and runs it to a terminal state. The
// blocking pop doubles as the poll interval.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.queue.Dequeue(ctx, w.config.PollInterval)
	if err != nil {
		return err
	}

	log := slog.With("report_id", job.ReportID, "worker_id", w.id)
	log.Info("Job claimed", "queued_for", time.Since(job.EnqueuedAt).Round(time.Millisecond))

	w.setStatus(WorkerStatusWorking, job.ReportID)
	defer w.setStatus(WorkerStatusIdle, "")

	// The pipeline runner enforces its own wall-clock budget; this
	// context only carries API-triggered and shutdown cancellation.
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	w.pool.RegisterJob(job.ReportID, cancelJob)
	defer w.pool.UnregisterJob(job.ReportID)

	result := w.executor.Execute(jobCtx, job)
	if result == nil {
		result = &ExecutionResult{Error: errors.New("executor returned nil result")}
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	if result.Error != nil {
		log.Warn("Job finished with error", "status", result.Status, "error", result.Error)
	} else {
		log.Info("Job processing complete", "status", result.Status)
	}
	return nil
}

// jitter returns a randomized pause between empty polls.
// Range: [0, 2*jitter] on top of the blocking pop that just expired.
func (w *Worker) jitter() time.Duration {
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(2 * jitter)))
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, reportID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentReportID = reportID
	w.lastActivity = time.Now()
}
