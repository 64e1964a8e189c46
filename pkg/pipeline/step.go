package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/opendeliberation/weaver/pkg/models"
)

// runContext carries the mutable per-run state through the DAG walk.
// state belongs to the walk goroutine once the walk starts; reportID,
// userID, and token are immutable and safe to read from the timeout
// path.
type runContext struct {
	state          *models.PipelineState
	reportID       string
	userID         string
	token          string
	onStepUpdate   func(models.StepName, models.StepStatus)
	onProgress     func(Progress)
	totalSteps     int
	completedSteps int
}

// stepAnalytics is the uniform {usage, cost} envelope extracted from a
// stage result.
type stepAnalytics struct {
	Usage models.Usage `json:"usage"`
	Cost  float64      `json:"cost"`
}

// executeStep is the generic harness around one stage: verify the lease,
// transition to in_progress, invoke and time the executor, validate the
// analytics shape, cache the result, aggregate totals, persist, and fire
// callbacks. Returns the raw cached result on success and a *StepError on
// failure.
func (r *Runner) executeStep(
	ctx context.Context,
	rc *runContext,
	step models.StepName,
	invoke func(context.Context) (any, error),
) (json.RawMessage, error) {
	logger := slog.With("report_id", rc.state.ReportID, "step", step)

	// 1. Re-verify the lease before touching state. Lost lease means
	// another worker has taken over; our writes would corrupt state.
	if err := r.checkLock(ctx, rc); err != nil {
		return nil, err
	}

	// 2. Transition to in_progress and persist before invoking.
	now := models.EpochMillis(time.Now())
	st := rc.state.Step(step)
	st.Status = models.StepStatusInProgress
	st.StartedAt = now
	st.Error = ""
	rc.state.CurrentStep = step
	if err := r.persist(ctx, rc); err != nil {
		return nil, err
	}
	rc.notifyStep(step, models.StepStatusInProgress)
	logger.Info("Step started")

	// 3. Invoke the executor, measuring wall-clock duration with a 1ms
	// floor so extremely fast (mocked) stages still register.
	start := time.Now()
	result, invokeErr := invoke(ctx)
	durationMs := time.Since(start).Milliseconds()
	if durationMs < 1 {
		durationMs = 1
	}

	// 4. The run was cancelled while the stage drained. The timeout path
	// owns the failure record, and the shared state is no longer this
	// goroutine's to write.
	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Info("Step interrupted by cancellation", "duration_ms", durationMs)
		return nil, WrapError(KindCancellation, ctxErr, "step %s interrupted", step)
	}

	// 5. Failure path: mark the step failed, persist, propagate.
	if invokeErr != nil {
		logger.Error("Step failed", "duration_ms", durationMs, "error", invokeErr)
		st.Status = models.StepStatusFailed
		st.DurationMs = durationMs
		st.Error = invokeErr.Error()
		rc.state.Status = models.PipelineStatusFailed
		rc.state.CurrentStep = ""
		rc.state.Error = ErrorRecordFor(invokeErr, step)
		if err := r.persist(ctx, rc); err != nil {
			// Lock lost or store down during the failure write: the
			// persistence error wins, it is the reason no state was written.
			return nil, err
		}
		rc.notifyStep(step, models.StepStatusFailed)
		return nil, &StepError{Step: step, State: rc.state, Err: invokeErr}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, &StepError{Step: step, State: rc.state,
			Err: WrapError(KindInternal, err, "step %s result is not serializable", step)}
	}

	// 6. Validate the analytics envelope. Missing analytics is a warning,
	// not a failure; the step proceeds with zeros.
	analytics := extractAnalytics(step, raw, logger)

	// 7. Cache the result, mark completed, aggregate totals, persist,
	// reset the corruption counter, fire callbacks.
	if rc.state.CompletedResults == nil {
		rc.state.CompletedResults = make(map[models.StepName]json.RawMessage)
	}
	rc.state.CompletedResults[step] = raw
	st.Status = models.StepStatusCompleted
	st.CompletedAt = models.EpochMillis(time.Now())
	st.DurationMs = durationMs
	st.InputTokens = analytics.Usage.InputTokens
	st.OutputTokens = analytics.Usage.OutputTokens
	st.TotalTokens = analytics.Usage.TotalTokens
	st.Cost = analytics.Cost
	if rc.state.ValidationFailures == nil {
		rc.state.ValidationFailures = make(map[models.StepName]int)
	}
	rc.state.ValidationFailures[step] = 0
	rc.state.CurrentStep = ""
	rc.state.RecomputeTotals()

	if err := r.persist(ctx, rc); err != nil {
		return nil, err
	}
	// Only after the lock-verified persist: a worker whose lease was
	// stolen must not zero the new holder's counter. Reset failure
	// leaves counter and state in disagreement until the next completed
	// write; the ceiling then over-counts, never under-counts.
	if err := r.store.ResetValidationFailures(ctx, rc.reportID, step); err != nil {
		logger.Warn("Failed to reset validation failure counter", "error", err)
	}

	rc.notifyStep(step, models.StepStatusCompleted)
	rc.completedSteps++
	rc.notifyProgress(Progress{
		CurrentStep:     step,
		TotalSteps:      rc.totalSteps,
		CompletedSteps:  rc.completedSteps,
		PercentComplete: int(math.Round(float64(rc.completedSteps) / float64(rc.totalSteps) * 100)),
	})
	logger.Info("Step completed",
		"duration_ms", durationMs,
		"total_tokens", analytics.Usage.TotalTokens,
		"cost", analytics.Cost)
	return raw, nil
}

// extractAnalytics pulls the {usage, cost} envelope out of a marshalled
// stage result. Absent keys log a warning and yield zeros.
func extractAnalytics(step models.StepName, raw json.RawMessage, logger *slog.Logger) stepAnalytics {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Warn("Step result is not a JSON object, recording zero analytics", "error", err)
		return stepAnalytics{}
	}
	_, hasUsage := doc["usage"]
	_, hasCost := doc["cost"]
	if !hasUsage || !hasCost {
		logger.Warn("Step result is missing analytics envelope, recording zeros",
			"has_usage", hasUsage, "has_cost", hasCost)
	}
	var analytics stepAnalytics
	if err := json.Unmarshal(raw, &analytics); err != nil {
		logger.Warn("Failed to decode step analytics, recording zeros", "error", err)
		return stepAnalytics{}
	}
	return analytics
}

// checkLock verifies lease ownership. Lost leases are fatal for the
// run. Reads only immutable runContext fields, so it is safe from the
// timeout path.
func (r *Runner) checkLock(ctx context.Context, rc *runContext) error {
	ok, err := r.store.VerifyPipelineLock(ctx, rc.reportID, rc.token)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(KindLockLost, "pipeline lock for report %s expired or was taken by another worker", rc.reportID)
	}
	return nil
}

// persist writes the state, re-verifying the lease first. Every state
// write goes through here.
func (r *Runner) persist(ctx context.Context, rc *runContext) error {
	if err := r.checkLock(ctx, rc); err != nil {
		return err
	}
	return r.store.Save(ctx, rc.state)
}

// notifyStep invokes the OnStepUpdate callback inside a panic guard.
// Callbacks are ports, not hooks: they must never break the pipeline.
func (rc *runContext) notifyStep(step models.StepName, status models.StepStatus) {
	if rc.onStepUpdate == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("OnStepUpdate callback panicked",
				"report_id", rc.state.ReportID, "step", step, "status", status, "panic", p)
		}
	}()
	rc.onStepUpdate(step, status)
}

// notifyProgress invokes the OnProgress callback inside a panic guard.
func (rc *runContext) notifyProgress(p Progress) {
	if rc.onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("OnProgress callback panicked",
				"report_id", rc.state.ReportID, "panic", r)
		}
	}()
	rc.onProgress(p)
}
