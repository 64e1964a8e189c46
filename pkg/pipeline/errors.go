// Package pipeline implements the report pipeline core: the idempotent,
// resumable, distributedly-locked runner that walks the stage DAG, the
// step-execution wrapper, and the Redis-backed state store and lock.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/opendeliberation/weaver/pkg/models"
)

// ErrorKind is the closed taxonomy of pipeline failures. Downstream code
// switches on Kind, never on error type identity.
type ErrorKind string

// Error kind constants.
const (
	KindInvalidInput            ErrorKind = "invalid_input"
	KindUpstreamUnavailable     ErrorKind = "upstream_unavailable"
	KindUpstreamRateLimited     ErrorKind = "upstream_rate_limited"
	KindUpstreamInvalidResponse ErrorKind = "upstream_invalid_response"
	KindContentPolicy           ErrorKind = "content_policy"
	KindLockLost                ErrorKind = "lock_lost"
	KindStateUnavailable        ErrorKind = "state_unavailable"
	KindCorruptedState          ErrorKind = "corrupted_state"
	KindMissingDependency       ErrorKind = "missing_dependency"
	KindMissingOutput           ErrorKind = "missing_output"
	KindCancellation            ErrorKind = "cancellation"
	KindInternal                ErrorKind = "internal"

	// Resume-specific kinds surfaced by the runner entry point.
	KindNoStateToResume  ErrorKind = "no_state_to_resume"
	KindAlreadyCompleted ErrorKind = "already_completed"
)

// Error is a tagged pipeline failure. Stage executors map provider errors
// into these and return them through the normal error channel; nothing
// panics across the stage contract boundary.
type Error struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration // optional hint, rate-limit failures only
	Err        error         // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a tagged pipeline error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError tags an underlying error with a kind.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from an error chain. Untagged errors are
// classified as internal.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// StepError is the failure envelope produced by the step-execution
// wrapper. It carries the failed step, the underlying error, and the
// post-failure state so the caller can resume.
type StepError struct {
	Step  models.StepName
	State *models.PipelineState
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ErrorRecordFor converts an error into the durable state representation.
func ErrorRecordFor(err error, step models.StepName) *models.ErrorRecord {
	return &models.ErrorRecord{
		Message: err.Error(),
		Name:    string(KindOf(err)),
		Step:    step,
	}
}
