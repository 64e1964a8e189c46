package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/opendeliberation/weaver/pkg/models"
)

// Sentinel errors for state store operations.
var (
	// ErrStateNotFound indicates no state record exists for the report.
	ErrStateNotFound = errors.New("pipeline state not found")

	// ErrLockHeld indicates another worker currently holds the pipeline lock.
	ErrLockHeld = errors.New("pipeline lock held by another worker")
)

// StateStore is the durable per-report store backing the runner. The
// backing store provides TTL on lock keys and abandoned state records;
// the runner cannot continue when the store is unreachable.
type StateStore interface {
	// Get loads the state for a report. Returns ErrStateNotFound when absent.
	Get(ctx context.Context, reportID string) (*models.PipelineState, error)

	// Save atomically replaces the whole state record.
	Save(ctx context.Context, state *models.PipelineState) error

	// Delete removes the state record. Deleting a missing record is not
	// an error.
	Delete(ctx context.Context, reportID string) error

	// IncrementValidationFailure atomically bumps the corruption-retry
	// counter for a step and returns the new count. Single round trip,
	// never read-modify-write.
	IncrementValidationFailure(ctx context.Context, reportID string, step models.StepName) (int, error)

	// ResetValidationFailures zeroes the counter for a step. Called on
	// every completed write of that step.
	ResetValidationFailures(ctx context.Context, reportID string, step models.StepName) error

	// AcquirePipelineLock takes a best-effort exclusive, self-expiring
	// lease over the report. Returns ErrLockHeld when another worker owns
	// it.
	AcquirePipelineLock(ctx context.Context, reportID string, lease time.Duration) (string, error)

	// VerifyPipelineLock reports whether the lease still belongs to the
	// holder of token. A successful verify refreshes the lease.
	VerifyPipelineLock(ctx context.Context, reportID, token string) (bool, error)

	// ReleasePipelineLock releases the lease. No-op if the lease already
	// expired or was stolen.
	ReleasePipelineLock(ctx context.Context, reportID, token string) error
}
