package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/opendeliberation/weaver/pkg/models"
)

// Redis key layout. State is a single JSON document; validation counters
// live in a sibling hash so increments are a single HINCRBY round trip;
// the lock key holds an opaque lease token with TTL.
const (
	stateKeyPrefix      = "pipeline:state:"
	validationKeyPrefix = "pipeline:validation:"
	lockKeyPrefix       = "pipeline:lock:"
)

// verifyLockScript refreshes the lease iff the caller still owns it.
var verifyLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	redis.call("pexpire", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// releaseLockScript deletes the lease iff the caller still owns it.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// DefaultLockLease is the default pipeline lock lease. Successful
// verifies refresh the lease, so it must exceed the longest expected
// interval between state writes, not the longest stage.
const DefaultLockLease = 60 * time.Second

// RedisStore is the Redis-backed StateStore.
type RedisStore struct {
	client    redis.UniversalClient
	stateTTL  time.Duration
	lockLease time.Duration
}

// NewRedisStore creates a store over an existing Redis client. stateTTL
// bounds retention of abandoned state records; zero means no expiry.
// lockLease is the lease applied on refresh; zero selects DefaultLockLease.
func NewRedisStore(client redis.UniversalClient, stateTTL, lockLease time.Duration) *RedisStore {
	if lockLease <= 0 {
		lockLease = DefaultLockLease
	}
	return &RedisStore{client: client, stateTTL: stateTTL, lockLease: lockLease}
}

// StateKey returns the Redis key holding the state document for a report.
func StateKey(reportID string) string { return stateKeyPrefix + reportID }

// LockKey returns the Redis key holding the pipeline lock for a report.
func LockKey(reportID string) string { return lockKeyPrefix + reportID }

func validationKey(reportID string) string { return validationKeyPrefix + reportID }

// Get loads and decodes the state document.
func (s *RedisStore) Get(ctx context.Context, reportID string) (*models.PipelineState, error) {
	raw, err := s.client.Get(ctx, StateKey(reportID)).Bytes()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, WrapError(KindStateUnavailable, err, "failed to read state for report %s", reportID)
	}
	var state models.PipelineState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, WrapError(KindCorruptedState, err, "state document for report %s is not valid JSON", reportID)
	}
	return &state, nil
}

// Save writes the whole state document, refreshing its TTL.
func (s *RedisStore) Save(ctx context.Context, state *models.PipelineState) error {
	state.UpdatedAt = models.EpochMillis(time.Now())
	raw, err := json.Marshal(state)
	if err != nil {
		return WrapError(KindInternal, err, "failed to encode state for report %s", state.ReportID)
	}
	if err := s.client.Set(ctx, StateKey(state.ReportID), raw, s.stateTTL).Err(); err != nil {
		return WrapError(KindStateUnavailable, err, "failed to write state for report %s", state.ReportID)
	}
	return nil
}

// Delete removes the state document and its validation counters.
func (s *RedisStore) Delete(ctx context.Context, reportID string) error {
	if err := s.client.Del(ctx, StateKey(reportID), validationKey(reportID)).Err(); err != nil {
		return WrapError(KindStateUnavailable, err, "failed to delete state for report %s", reportID)
	}
	return nil
}

// IncrementValidationFailure bumps the per-step corruption counter in a
// single HINCRBY round trip.
func (s *RedisStore) IncrementValidationFailure(ctx context.Context, reportID string, step models.StepName) (int, error) {
	count, err := s.client.HIncrBy(ctx, validationKey(reportID), string(step), 1).Result()
	if err != nil {
		return 0, WrapError(KindStateUnavailable, err, "failed to increment validation failures for report %s step %s", reportID, step)
	}
	if s.stateTTL > 0 {
		// Keep the counter hash on the same retention as the state document.
		if err := s.client.Expire(ctx, validationKey(reportID), s.stateTTL).Err(); err != nil {
			return 0, WrapError(KindStateUnavailable, err, "failed to refresh validation counter TTL for report %s", reportID)
		}
	}
	return int(count), nil
}

// ResetValidationFailures zeroes the per-step corruption counter.
func (s *RedisStore) ResetValidationFailures(ctx context.Context, reportID string, step models.StepName) error {
	if err := s.client.HDel(ctx, validationKey(reportID), string(step)).Err(); err != nil {
		return WrapError(KindStateUnavailable, err, "failed to reset validation failures for report %s step %s", reportID, step)
	}
	return nil
}

// AcquirePipelineLock takes the lease with SET NX PX and a fresh token.
func (s *RedisStore) AcquirePipelineLock(ctx context.Context, reportID string, lease time.Duration) (string, error) {
	if lease <= 0 {
		lease = s.lockLease
	}
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, LockKey(reportID), token, lease).Result()
	if err != nil {
		return "", WrapError(KindStateUnavailable, err, "failed to acquire lock for report %s", reportID)
	}
	if !ok {
		return "", fmt.Errorf("report %s: %w", reportID, ErrLockHeld)
	}
	return token, nil
}

// VerifyPipelineLock checks lease ownership and, when still owned,
// refreshes the lease so long stages do not outlive it.
func (s *RedisStore) VerifyPipelineLock(ctx context.Context, reportID, token string) (bool, error) {
	res, err := verifyLockScript.Run(ctx, s.client, []string{LockKey(reportID)}, token, s.lockLease.Milliseconds()).Int()
	if err != nil {
		return false, WrapError(KindStateUnavailable, err, "failed to verify lock for report %s", reportID)
	}
	return res == 1, nil
}

// BreakPipelineLock forcibly deletes the lease regardless of owner. Used
// by cancellation: the running worker's next verify fails and the run
// aborts with lock_lost.
func (s *RedisStore) BreakPipelineLock(ctx context.Context, reportID string) error {
	if err := s.client.Del(ctx, LockKey(reportID)).Err(); err != nil {
		return WrapError(KindStateUnavailable, err, "failed to break lock for report %s", reportID)
	}
	return nil
}

// ReleasePipelineLock deletes the lease iff still owned by token.
func (s *RedisStore) ReleasePipelineLock(ctx context.Context, reportID, token string) error {
	if err := releaseLockScript.Run(ctx, s.client, []string{LockKey(reportID)}, token).Err(); err != nil {
		return WrapError(KindStateUnavailable, err, "failed to release lock for report %s", reportID)
	}
	return nil
}
