package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeliberation/weaver/pkg/models"
)

func newTestQueue(t *testing.T) (*JobQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewJobQueue(client), mr
}

func testJob(reportID string) *ReportJob {
	return &ReportJob{
		ReportID:     reportID,
		UserID:       "user-1",
		Comments:     []models.Comment{{ID: "c1", Text: "More buses", Speaker: "alice"}},
		SortStrategy: models.SortStrategyClaimsDesc,
		TopK:         10,
	}
}

func TestJobQueueEnqueueDequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("report-1")))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "report-1", job.ReportID)
	assert.Equal(t, "user-1", job.UserID)
	assert.Len(t, job.Comments, 1)
	assert.Equal(t, models.SortStrategyClaimsDesc, job.SortStrategy)
	assert.False(t, job.EnqueuedAt.IsZero(), "Enqueue stamps the job")

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestJobQueueFIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("first")))
	require.NoError(t, q.Enqueue(ctx, testJob("second")))
	require.NoError(t, q.Enqueue(ctx, testJob("third")))

	for _, want := range []string{"first", "second", "third"} {
		job, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, job.ReportID)
	}
}

func TestJobQueueDequeueEmpty(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestJobQueueDequeueCorruptPayload(t *testing.T) {
	q, mr := newTestQueue(t)
	_, err := mr.Lpush(JobQueueKey, "{not json")
	require.NoError(t, err)

	_, err = q.Dequeue(context.Background(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshaling job")
}

func TestJobQueuePreservesEnqueuedAt(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	stamp := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	job := testJob("report-1")
	job.EnqueuedAt = stamp
	require.NoError(t, q.Enqueue(ctx, job))

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, got.EnqueuedAt.Equal(stamp), "an explicit timestamp is not overwritten")
}
