package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opendeliberation/weaver/pkg/models"
)

// Runner is the top-level pipeline state machine. It initializes or
// resumes state, validates recovered cached results, walks the stage DAG
// skipping completed stages, races the run against a wall-clock budget,
// and finalizes status. One pipeline per report runs on one worker at a
// time; the lock enforces it.
type Runner struct {
	store  StateStore
	stages StageExecutors
	cfg    RunnerConfig
}

// NewRunner creates a pipeline runner.
func NewRunner(store StateStore, stages StageExecutors, cfg RunnerConfig) *Runner {
	return &Runner{store: store, stages: stages, cfg: cfg.withDefaults()}
}

// RunPipeline executes or resumes the report pipeline. It never panics
// across this boundary; all failures come back in the Result.
func (r *Runner) RunPipeline(ctx context.Context, input *Input, runCfg *RunConfig) *Result {
	logger := slog.With("report_id", runCfg.ReportID, "resume", runCfg.ResumeFromState)
	logger.Info("Pipeline run requested", "comments", len(input.Comments), "cruxes_enabled", input.EnableCruxes)

	if err := validateInput(input); err != nil {
		return &Result{Error: err}
	}

	// Acquire (or adopt) the lease. At most one worker advances a
	// pipeline at a time.
	token := runCfg.LockValue
	ownLock := token == ""
	if ownLock {
		acquired, err := r.store.AcquirePipelineLock(ctx, runCfg.ReportID, r.cfg.LockLease)
		if err != nil {
			if errors.Is(err, ErrLockHeld) {
				return &Result{Error: WrapError(KindLockLost, err, "report %s is being processed by another worker", runCfg.ReportID)}
			}
			return &Result{Error: err}
		}
		token = acquired
	}
	// Release on every exit path. Token-guarded: a stolen or expired
	// lease makes this a no-op.
	if ownLock {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.store.ReleasePipelineLock(releaseCtx, runCfg.ReportID, token); err != nil {
				logger.Warn("Failed to release pipeline lock", "error", err)
			}
		}()
	}

	rc := &runContext{
		reportID:     runCfg.ReportID,
		userID:       runCfg.UserID,
		token:        token,
		onStepUpdate: runCfg.OnStepUpdate,
		onProgress:   runCfg.OnProgress,
	}

	// Initialize or recover state.
	if err := r.prepareState(ctx, rc, runCfg); err != nil {
		return &Result{State: rc.state, Error: err}
	}

	rc.totalSteps = len(models.StepOrder) - 1 // cruxes excluded
	if input.EnableCruxes {
		rc.totalSteps = len(models.StepOrder)
	}
	for _, step := range models.StepOrder {
		// A cruxes result recovered from a cruxes-enabled run does not
		// count toward a run that has cruxes disabled.
		if step == models.StepCruxes && !input.EnableCruxes {
			continue
		}
		if rc.state.Step(step).Status == models.StepStatusCompleted {
			rc.completedSteps++
		}
	}

	// Race the DAG walk against the wall-clock budget. Cancelling the
	// run cancels the timer; the deferred cancel prevents a leak.
	walkCtx, cancelWalk := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancelWalk()

	done := make(chan *Result, 1)
	go func() {
		done <- r.walk(walkCtx, rc, input)
	}()

	select {
	case res := <-done:
		// The walk can lose the race narrowly: its in-flight stage
		// drained right after expiry and it bailed with a cancellation
		// error without persisting anything. Record the expiry durably.
		if werr := walkCtx.Err(); werr != nil && KindOf(res.Error) == KindCancellation {
			return r.failExpired(ctx, rc, werr)
		}
		return res
	case <-walkCtx.Done():
		// Mid-flight stage calls may still complete; their outputs will
		// not persist because every store write goes through walkCtx.
		return r.failExpired(ctx, rc, walkCtx.Err())
	}
}

// prepareState creates a fresh state or recovers and validates a stored
// one, then marks the run as running.
func (r *Runner) prepareState(ctx context.Context, rc *runContext, runCfg *RunConfig) error {
	if runCfg.ResumeFromState {
		state, err := r.store.Get(ctx, runCfg.ReportID)
		if errors.Is(err, ErrStateNotFound) {
			return NewError(KindNoStateToResume, "no stored state for report %s", runCfg.ReportID)
		}
		if err != nil {
			return err
		}
		if state.Status == models.PipelineStatusCompleted {
			rc.state = state
			return NewError(KindAlreadyCompleted, "report %s already completed", runCfg.ReportID)
		}
		rc.state = state
		if err := r.validateRecoveredResults(ctx, rc); err != nil {
			return err
		}
	} else {
		rc.state = models.NewPipelineState(runCfg.ReportID, runCfg.UserID)
	}

	rc.state.Status = models.PipelineStatusRunning
	rc.state.Error = nil
	rc.state.CurrentStep = ""
	// A recovered in_progress step never finished; re-run it.
	for _, st := range rc.state.Steps {
		if st.Status == models.StepStatusInProgress || st.Status == models.StepStatusFailed {
			st.Status = models.StepStatusPending
			st.Error = ""
		}
	}
	return r.persist(ctx, rc)
}

// validateRecoveredResults checks every cached stage result against its
// structural contract. Invalid entries are discarded and re-executed;
// repeated corruption past the ceiling fails the pipeline permanently.
func (r *Runner) validateRecoveredResults(ctx context.Context, rc *runContext) error {
	logger := slog.With("report_id", rc.state.ReportID)
	for _, step := range models.StepOrder {
		raw, ok := rc.state.CompletedResults[step]
		if !ok {
			continue
		}
		if err := ValidateCachedResult(step, raw); err == nil {
			continue
		} else {
			logger.Warn("Cached result failed validation", "step", step, "error", err)
		}

		count, err := r.store.IncrementValidationFailure(ctx, rc.state.ReportID, step)
		if err != nil {
			return err
		}
		if rc.state.ValidationFailures == nil {
			rc.state.ValidationFailures = make(map[models.StepName]int)
		}
		rc.state.ValidationFailures[step] = count
		if count > r.cfg.ValidationFailureCeiling {
			failure := NewError(KindCorruptedState,
				"cached result for step %s failed validation %d times (ceiling %d)",
				step, count, r.cfg.ValidationFailureCeiling)
			r.recordFailure(ctx, rc, failure, step)
			return failure
		}

		// Discard the corrupt entry; the walk re-executes the stage.
		delete(rc.state.CompletedResults, step)
		rc.state.Step(step).Status = models.StepStatusPending
		logger.Info("Discarded corrupt cached result, stage will re-run",
			"step", step, "validation_failures", count)
	}
	return nil
}

// walk advances the DAG in order, skipping cached stages. Dependencies
// are explicit: a missing prerequisite after validation indicates state
// corruption the validator missed and fails permanently.
func (r *Runner) walk(ctx context.Context, rc *runContext, input *Input) *Result {
	stageCtx := models.StageContext{ReportID: rc.state.ReportID, UserID: rc.state.UserID, APIKey: input.APIKey}

	// clustering
	clustering, err := stepOutput[models.ClusteringOutput](r, ctx, rc, models.StepClustering, func(ctx context.Context) (any, error) {
		return r.stages.Clustering(ctx, &models.ClusteringInput{
			StageContext: stageCtx,
			Comments:     input.Comments,
			Config:       input.ClusteringConfig,
		})
	})
	if err != nil {
		return &Result{State: rc.state, Error: err}
	}

	// claims: requires clustering data
	if len(clustering.Data) == 0 {
		return r.dependencyFailure(ctx, rc, models.StepClaims, "clustering produced no topics")
	}
	claims, err := stepOutput[models.ClaimsOutput](r, ctx, rc, models.StepClaims, func(ctx context.Context) (any, error) {
		return r.stages.Claims(ctx, &models.ClaimsInput{
			StageContext: stageCtx,
			Comments:     input.Comments,
			Taxonomy:     clustering.Data,
			Config:       input.ClaimsConfig,
		})
	})
	if err != nil {
		return &Result{State: rc.state, Error: err}
	}

	// sort_and_deduplicate: requires claims data
	if claims.Data == nil {
		return r.dependencyFailure(ctx, rc, models.StepSort, "claims output has no data")
	}
	sorted, err := stepOutput[models.SortOutput](r, ctx, rc, models.StepSort, func(ctx context.Context) (any, error) {
		return r.stages.SortAndDeduplicate(ctx, &models.SortInput{
			StageContext: stageCtx,
			Tree:         claims.Data,
			Config:       input.DedupConfig,
			SortStrategy: input.SortStrategy,
		})
	})
	if err != nil {
		return &Result{State: rc.state, Error: err}
	}

	// summaries: requires the full sort output
	if sorted.Data == nil {
		return r.dependencyFailure(ctx, rc, models.StepSummaries, "sort output has no data")
	}
	summaries, err := stepOutput[models.SummariesOutput](r, ctx, rc, models.StepSummaries, func(ctx context.Context) (any, error) {
		return r.stages.Summaries(ctx, &models.SummariesInput{
			StageContext: stageCtx,
			Tree:         sorted.Data,
			Config:       input.SummariesConfig,
		})
	})
	if err != nil {
		return &Result{State: rc.state, Error: err}
	}

	// cruxes: conditional tail; requires clustering and claims data
	var cruxes *models.CruxesOutput
	if input.EnableCruxes {
		cruxCfg := models.LLMConfig{}
		if input.CruxesConfig != nil {
			cruxCfg = *input.CruxesConfig
		}
		cruxes, err = stepOutput[models.CruxesOutput](r, ctx, rc, models.StepCruxes, func(ctx context.Context) (any, error) {
			return r.stages.Cruxes(ctx, &models.CruxesInput{
				StageContext: stageCtx,
				Tree:         claims.Data,
				Topics:       clustering.Data,
				Config:       cruxCfg,
				TopK:         input.TopK,
			})
		})
		if err != nil {
			return &Result{State: rc.state, Error: err}
		}
	} else if st := rc.state.Step(models.StepCruxes); st.Status != models.StepStatusSkipped {
		st.Status = models.StepStatusSkipped
		if err := r.persist(ctx, rc); err != nil {
			return &Result{State: rc.state, Error: err}
		}
		rc.notifyStep(models.StepCruxes, models.StepStatusSkipped)
	}

	return r.finalize(ctx, rc, input, &Outputs{
		TopicTree:  clustering.Data,
		ClaimsTree: claims.Data,
		SortedTree: sorted.Data,
		Summaries:  summaries.Data,
		Cruxes:     cruxes,
	})
}

// stepOutput returns the typed output for a step: the cached result when
// present (validated at recovery time), otherwise the freshly executed
// one.
func stepOutput[T any](r *Runner, ctx context.Context, rc *runContext, step models.StepName, invoke func(context.Context) (any, error)) (*T, error) {
	raw, cached := rc.state.CompletedResults[step]
	if !cached {
		executed, err := r.executeStep(ctx, rc, step, invoke)
		if err != nil {
			return nil, err
		}
		raw = executed
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		failure := WrapError(KindCorruptedState, err, "cached result for step %s does not decode", step)
		r.recordFailure(ctx, rc, failure, step)
		return nil, failure
	}
	return &out, nil
}

// finalize marks the run completed after asserting every required
// artifact is present. A "successful" walk with a missing artifact is
// reported as missing_output rather than returning undefined data.
func (r *Runner) finalize(ctx context.Context, rc *runContext, input *Input, outputs *Outputs) *Result {
	missing := ""
	switch {
	case outputs.TopicTree == nil:
		missing = "topicTree"
	case outputs.ClaimsTree == nil:
		missing = "claimsTree"
	case outputs.SortedTree == nil:
		missing = "sortedTree"
	case outputs.Summaries == nil:
		missing = "summaries"
	case input.EnableCruxes && outputs.Cruxes == nil:
		missing = "cruxes"
	}
	if missing != "" {
		failure := NewError(KindMissingOutput, "pipeline finished without required output %q", missing)
		r.recordFailure(ctx, rc, failure, "")
		return &Result{State: rc.state, Error: failure}
	}

	rc.state.Status = models.PipelineStatusCompleted
	rc.state.CurrentStep = ""
	rc.state.Error = nil
	if err := r.persist(ctx, rc); err != nil {
		return &Result{State: rc.state, Error: err}
	}
	slog.Info("Pipeline completed",
		"report_id", rc.state.ReportID,
		"total_tokens", rc.state.TotalTokens,
		"total_cost", rc.state.TotalCost,
		"total_duration_ms", rc.state.TotalDurationMs)
	return &Result{Success: true, State: rc.state, Outputs: outputs}
}

// dependencyFailure fails the run because a prerequisite stage's output
// is absent at runtime.
func (r *Runner) dependencyFailure(ctx context.Context, rc *runContext, step models.StepName, detail string) *Result {
	failure := NewError(KindMissingDependency, "step %s cannot run: %s", step, detail)
	r.recordFailure(ctx, rc, failure, step)
	return &Result{State: rc.state, Error: failure}
}

// failExpired handles wall-clock expiry or caller cancellation: reload
// the durable state, record the cancellation error, return a failure.
// The walk goroutine may still be draining an in-flight stage and
// holding rc.state, so the failure record is written onto a detached
// copy loaded from the store; rc.state is never touched here. The
// walk's own writes cannot persist because every store write goes
// through its cancelled context.
func (r *Runner) failExpired(parent context.Context, rc *runContext, cause error) *Result {
	message := "pipeline cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		message = fmt.Sprintf("pipeline timeout after %s", r.cfg.Timeout)
	}
	failure := &Error{Kind: KindCancellation, Message: message, Err: cause}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
	defer cancel()
	state, err := r.store.Get(writeCtx, rc.reportID)
	if err != nil {
		slog.Warn("Failed to load state for cancellation record",
			"report_id", rc.reportID, "error", err)
		state = models.NewPipelineState(rc.reportID, rc.userID)
	}
	state.Status = models.PipelineStatusFailed
	state.Error = ErrorRecordFor(failure, state.CurrentStep)
	if err := r.checkLock(writeCtx, rc); err != nil {
		slog.Warn("Skipping cancellation record write, lock no longer held",
			"report_id", rc.reportID, "error", err)
	} else if err := r.store.Save(writeCtx, state); err != nil {
		slog.Warn("Failed to persist cancellation record",
			"report_id", rc.reportID, "error", err)
	}
	return &Result{State: state, Error: failure}
}

// recordFailure writes a terminal failure into state, best-effort. Lock
// or store loss here is logged, not propagated; the original failure is
// what the caller needs to see.
func (r *Runner) recordFailure(ctx context.Context, rc *runContext, failure error, step models.StepName) {
	rc.state.Status = models.PipelineStatusFailed
	rc.state.Error = ErrorRecordFor(failure, step)
	if err := r.persist(ctx, rc); err != nil {
		slog.Warn("Failed to persist failure record",
			"report_id", rc.state.ReportID, "failure", failure, "error", err)
	}
}

// validateInput checks the run payload before any state is touched.
func validateInput(input *Input) error {
	if err := models.ValidateComments(input.Comments); err != nil {
		return WrapError(KindInvalidInput, err, "invalid comment batch")
	}
	if !models.KnownSortStrategy(input.SortStrategy) {
		return NewError(KindInvalidInput, "unknown sort strategy %q", input.SortStrategy)
	}
	if input.EnableCruxes && input.CruxesConfig == nil {
		return NewError(KindInvalidInput, "cruxes enabled but no cruxes LLM config provided")
	}
	return nil
}

// GetPipelineStatus loads the durable state for a report. Returns
// ErrStateNotFound when no run was recorded.
func GetPipelineStatus(ctx context.Context, reportID string, store StateStore) (*models.PipelineState, error) {
	return store.Get(ctx, reportID)
}

// CancelPipeline marks a non-terminal run failed with a cancellation
// error and breaks the lease so the running worker's next state write
// aborts with lock_lost. Advisory: in-flight stage calls finish, their
// outputs are not persisted. Returns false when there is nothing to
// cancel.
func CancelPipeline(ctx context.Context, reportID string, store StateStore) (bool, error) {
	state, err := store.Get(ctx, reportID)
	if errors.Is(err, ErrStateNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if state.Terminal() {
		return false, nil
	}

	state.Status = models.PipelineStatusFailed
	state.Error = &models.ErrorRecord{
		Message: "pipeline cancelled",
		Name:    string(KindCancellation),
		Step:    state.CurrentStep,
	}
	state.CurrentStep = ""
	if err := store.Save(ctx, state); err != nil {
		return false, err
	}
	if breaker, ok := store.(LockBreaker); ok {
		if err := breaker.BreakPipelineLock(ctx, reportID); err != nil {
			slog.Warn("Failed to break pipeline lock on cancel", "report_id", reportID, "error", err)
		}
	}
	return true, nil
}

// LockBreaker is implemented by stores that can forcibly invalidate the
// holder's lease, making an advisory cancel take effect at the worker's
// next write.
type LockBreaker interface {
	BreakPipelineLock(ctx context.Context, reportID string) error
}

// CleanupPipelineState deletes the durable state for a report.
func CleanupPipelineState(ctx context.Context, reportID string, store StateStore) error {
	return store.Delete(ctx, reportID)
}
