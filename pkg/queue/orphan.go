package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for orphaned reports.
// All pods run this independently; operations are idempotent.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	if p.config.OrphanDetectionInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("Orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans finds in-progress reports whose lock lease has
// expired and whose state has gone stale, and marks them failed. A live
// holder refreshes its lease on every step, so a missing lock plus a
// stale state means the worker died mid-run.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	pattern := pipeline.StateKey("*")
	prefix := pipeline.StateKey("")
	staleBefore := models.EpochMillis(time.Now().Add(-p.config.OrphanThreshold))

	recovered := 0
	iter := p.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		reportID := strings.TrimPrefix(iter.Val(), prefix)
		ok, err := p.recoverIfOrphaned(ctx, reportID, staleBefore)
		if err != nil {
			slog.Error("Failed to recover orphaned report",
				"report_id", reportID,
				"error", err)
			continue
		}
		if ok {
			recovered++
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan for orphaned reports: %w", err)
	}

	if recovered > 0 {
		slog.Warn("Recovered orphaned reports", "count", recovered)
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	return nil
}

// recoverIfOrphaned marks a single report failed when it is provably
// abandoned. Reports whose lock still exists are left alone.
func (p *WorkerPool) recoverIfOrphaned(ctx context.Context, reportID string, staleBefore int64) (bool, error) {
	raw, err := p.client.Get(ctx, pipeline.StateKey(reportID)).Bytes()
	if err == redis.Nil {
		return false, nil // expired between scan and read
	}
	if err != nil {
		return false, fmt.Errorf("failed to read state: %w", err)
	}

	var state models.PipelineState
	if err := json.Unmarshal(raw, &state); err != nil {
		return false, fmt.Errorf("state document is not valid JSON: %w", err)
	}
	if state.Status != models.PipelineStatusRunning || state.UpdatedAt >= staleBefore {
		return false, nil
	}

	held, err := p.client.Exists(ctx, pipeline.LockKey(reportID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock: %w", err)
	}
	if held > 0 {
		return false, nil // someone still owns it
	}

	lastWrite := time.UnixMilli(state.UpdatedAt).Format(time.RFC3339)
	state.Status = models.PipelineStatusFailed
	state.Error = &models.ErrorRecord{
		Message: fmt.Sprintf("orphaned: no state write since %s and no lock holder", lastWrite),
		Name:    string(pipeline.KindInternal),
	}
	if step := state.InProgressStep(); step != "" {
		state.Error.Step = step
		ss := state.Step(step)
		ss.Status = models.StepStatusFailed
		ss.CompletedAt = models.EpochMillis(time.Now())
	}
	state.UpdatedAt = models.EpochMillis(time.Now())

	updated, err := json.Marshal(&state)
	if err != nil {
		return false, fmt.Errorf("failed to encode state: %w", err)
	}
	if err := p.client.Set(ctx, pipeline.StateKey(reportID), updated, redis.KeepTTL).Err(); err != nil {
		return false, fmt.Errorf("failed to write state: %w", err)
	}

	slog.Warn("Orphaned report marked as failed",
		"report_id", reportID,
		"last_write", lastWrite)
	return true, nil
}
