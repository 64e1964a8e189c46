package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeliberation/weaver/pkg/config"
	"github.com/opendeliberation/weaver/pkg/models"
)

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             2,
		PollInterval:            100 * time.Millisecond,
		PollIntervalJitter:      50 * time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Second,
		OrphanDetectionInterval: 0, // disabled for worker tests
		OrphanThreshold:         5 * time.Minute,
	}
}

// recordingExecutor captures executed jobs and replies with a fixed result.
type recordingExecutor struct {
	mu   sync.Mutex
	jobs []*ReportJob
	done chan string
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{done: make(chan string, 16)}
}

func (e *recordingExecutor) Execute(_ context.Context, job *ReportJob) *ExecutionResult {
	e.mu.Lock()
	e.jobs = append(e.jobs, job)
	e.mu.Unlock()
	e.done <- job.ReportID
	return &ExecutionResult{Status: models.PipelineStatusCompleted}
}

func (e *recordingExecutor) executed() []*ReportJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*ReportJob, len(e.jobs))
	copy(out, e.jobs)
	return out
}

func TestWorkerJitterBounds(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("w-0", "pod-1", nil, cfg, nil, nil)

	for i := 0; i < 100; i++ {
		d := w.jitter()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 2*cfg.PollIntervalJitter)
	}
}

func TestWorkerJitterDisabled(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollIntervalJitter = 0
	w := NewWorker("w-0", "pod-1", nil, cfg, nil, nil)
	assert.Equal(t, time.Duration(0), w.jitter())
}

func TestWorkerHealth(t *testing.T) {
	w := NewWorker("w-0", "pod-1", nil, testQueueConfig(), nil, nil)

	h := w.Health()
	assert.Equal(t, "w-0", h.ID)
	assert.Equal(t, "idle", h.Status)
	assert.Empty(t, h.CurrentReportID)
	assert.Equal(t, 0, h.JobsProcessed)

	w.setStatus(WorkerStatusWorking, "report-1")
	h = w.Health()
	assert.Equal(t, "working", h.Status)
	assert.Equal(t, "report-1", h.CurrentReportID)

	w.setStatus(WorkerStatusIdle, "")
	assert.Equal(t, "idle", w.Health().Status)
}

func TestWorkerPoolProcessesJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	executor := newRecordingExecutor()
	pool := NewWorkerPool("pod-1", client, testQueueConfig(), executor)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	require.NoError(t, pool.Queue().Enqueue(ctx, testJob("report-1")))
	require.NoError(t, pool.Queue().Enqueue(ctx, testJob("report-2")))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-executor.done:
			seen[id] = true
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for jobs to execute")
		}
	}
	assert.True(t, seen["report-1"])
	assert.True(t, seen["report-2"])
}

func TestWorkerPoolStartIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pool := NewWorkerPool("pod-1", client, testQueueConfig(), newRecordingExecutor())
	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	assert.Len(t, pool.workers, testQueueConfig().WorkerCount)
}

func TestWorkerPoolCancelRegistry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pool := NewWorkerPool("pod-1", client, testQueueConfig(), newRecordingExecutor())

	cancelled := false
	pool.RegisterJob("report-1", func() { cancelled = true })

	assert.False(t, pool.CancelJob("other-report"))
	assert.True(t, pool.CancelJob("report-1"))
	assert.True(t, cancelled)

	pool.UnregisterJob("report-1")
	assert.False(t, pool.CancelJob("report-1"))
}

func TestWorkerPoolHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pool := NewWorkerPool("pod-1", client, testQueueConfig(), newRecordingExecutor())
	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	require.NoError(t, pool.Queue().Enqueue(ctx, testJob("queued-1")))

	h := pool.Health()
	assert.True(t, h.RedisReachable)
	assert.Equal(t, "pod-1", h.PodID)
	assert.Equal(t, 2, h.TotalWorkers)
	assert.Len(t, h.WorkerStats, 2)
}
