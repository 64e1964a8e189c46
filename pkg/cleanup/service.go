// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opendeliberation/weaver/pkg/config"
	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
)

// Service periodically enforces retention policies:
//   - Deletes terminal pipeline state past the retention window
//
// Key TTLs handle the normal case; the loop catches keys whose TTL was
// refreshed by late writes. All operations are idempotent and safe to
// run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	client redis.UniversalClient
	store  pipeline.StateStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, client redis.UniversalClient, store pipeline.StateStore) *Service {
	return &Service{
		config: cfg,
		client: client,
		store:  store,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"report_retention_days", s.config.ReportRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.deleteExpiredReports(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.deleteExpiredReports(ctx)
		}
	}
}

// deleteExpiredReports removes terminal state older than the retention
// window. Running reports are never touched regardless of age; the
// orphan detector owns those.
func (s *Service) deleteExpiredReports(ctx context.Context) {
	cutoff := models.EpochMillis(time.Now().AddDate(0, 0, -s.config.ReportRetentionDays))
	prefix := pipeline.StateKey("")

	deleted := 0
	iter := s.client.Scan(ctx, 0, pipeline.StateKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		reportID := strings.TrimPrefix(iter.Val(), prefix)

		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			slog.Error("Retention: failed to read state", "report_id", reportID, "error", err)
			continue
		}

		var state models.PipelineState
		if err := json.Unmarshal(raw, &state); err != nil {
			// Undecodable state is garbage at any age.
			slog.Warn("Retention: deleting undecodable state", "report_id", reportID, "error", err)
			if err := s.store.Delete(ctx, reportID); err != nil {
				slog.Error("Retention: delete failed", "report_id", reportID, "error", err)
			} else {
				deleted++
			}
			continue
		}

		if !state.Terminal() || state.UpdatedAt >= cutoff {
			continue
		}
		if err := s.store.Delete(ctx, reportID); err != nil {
			slog.Error("Retention: delete failed", "report_id", reportID, "error", err)
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		slog.Error("Retention: state scan failed", "error", err)
		return
	}

	if deleted > 0 {
		slog.Info("Retention: deleted expired reports", "count", deleted)
	}
}
