package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobQueueKey is the Redis list backing the report job queue. Producers
// LPUSH, workers BRPOP, so jobs are processed FIFO.
const JobQueueKey = "pipeline:queue:jobs"

// JobQueue is a Redis-list job queue shared by all replicas.
type JobQueue struct {
	client redis.UniversalClient
}

// NewJobQueue creates a queue over the given Redis client.
func NewJobQueue(client redis.UniversalClient) *JobQueue {
	return &JobQueue{client: client}
}

// Enqueue appends a job to the queue.
func (q *JobQueue) Enqueue(ctx context.Context, job *ReportJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	if err := q.client.LPush(ctx, JobQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueuing job: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job. Returns
// ErrNoJobsAvailable when the wait expires empty.
func (q *JobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*ReportJob, error) {
	res, err := q.client.BRPop(ctx, timeout, JobQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("dequeuing job: %w", err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}

	var job ReportJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job: %w", err)
	}
	return &job, nil
}

// Depth returns the number of pending jobs.
func (q *JobQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, JobQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("querying queue depth: %w", err)
	}
	return int(n), nil
}
