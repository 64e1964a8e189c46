package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/opendeliberation/weaver/pkg/config"
	"github.com/opendeliberation/weaver/pkg/events"
	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
	"github.com/opendeliberation/weaver/pkg/queue"
)

// SubmitReportInput contains the domain-level data needed to enqueue a
// report. Transformed from the HTTP request by the handler.
type SubmitReportInput struct {
	ReportID     string // optional; generated when empty
	UserID       string
	Comments     []models.Comment
	SortStrategy string // optional; falls back to the configured default
	EnableCruxes bool
	TopK         int // optional; falls back to the configured default
}

// JobCanceller is the subset of the worker pool used for in-process
// cancellation. May be nil when no pool runs in this process.
type JobCanceller interface {
	CancelJob(reportID string) bool
}

// ReportService handles report submission, status, cancellation, and
// deletion, and executes queued jobs through the pipeline runner.
type ReportService struct {
	cfg       *config.Config
	store     pipeline.StateStore
	runner    *pipeline.Runner
	queue     *queue.JobQueue
	pool      JobCanceller
	publisher *events.Publisher
}

// NewReportService creates a new ReportService. pool and publisher may
// be nil (API-only replicas, events disabled).
func NewReportService(cfg *config.Config, store pipeline.StateStore, runner *pipeline.Runner, jobQueue *queue.JobQueue, pool JobCanceller, publisher *events.Publisher) *ReportService {
	if cfg == nil {
		panic("NewReportService: cfg must not be nil")
	}
	if store == nil {
		panic("NewReportService: store must not be nil")
	}
	if runner == nil {
		panic("NewReportService: runner must not be nil")
	}
	if jobQueue == nil {
		panic("NewReportService: jobQueue must not be nil")
	}
	return &ReportService{
		cfg:       cfg,
		store:     store,
		runner:    runner,
		queue:     jobQueue,
		pool:      pool,
		publisher: publisher,
	}
}

// SubmitReport validates the batch and enqueues a report job. The job
// starts from fresh state; resubmitting an id with live state fails
// with ErrAlreadyExists.
func (s *ReportService) SubmitReport(ctx context.Context, input SubmitReportInput) (string, error) {
	if err := models.ValidateComments(input.Comments); err != nil {
		return "", NewValidationError("comments", err.Error())
	}

	strategy := input.SortStrategy
	if strategy == "" {
		strategy = s.cfg.Pipeline.DefaultSortStrategy
	}
	if !models.KnownSortStrategy(strategy) {
		return "", NewValidationError("sortStrategy", fmt.Sprintf("unknown sort strategy '%s'", strategy))
	}

	topK := input.TopK
	if topK == 0 {
		topK = s.cfg.Pipeline.DefaultTopK
	}
	if topK < 0 {
		return "", NewValidationError("topK", "must not be negative")
	}

	reportID := input.ReportID
	if reportID == "" {
		reportID = uuid.New().String()
	} else if state, err := s.store.Get(ctx, reportID); err == nil && !state.Terminal() {
		return "", fmt.Errorf("report %s: %w", reportID, ErrAlreadyExists)
	}

	job := &queue.ReportJob{
		ReportID:     reportID,
		UserID:       input.UserID,
		Comments:     input.Comments,
		SortStrategy: strategy,
		EnableCruxes: input.EnableCruxes,
		TopK:         topK,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue report: %w", err)
	}

	slog.Info("Report submitted",
		"report_id", reportID,
		"user_id", input.UserID,
		"comments", len(input.Comments),
		"cruxes", input.EnableCruxes)
	return reportID, nil
}

// ResumeReport enqueues a resume job for a report with existing state.
// The original comment batch must be supplied again; only stage results
// live in the state store.
func (s *ReportService) ResumeReport(ctx context.Context, input SubmitReportInput) error {
	if input.ReportID == "" {
		return NewValidationError("reportId", "required for resume")
	}
	if err := models.ValidateComments(input.Comments); err != nil {
		return NewValidationError("comments", err.Error())
	}

	state, err := s.store.Get(ctx, input.ReportID)
	if err != nil {
		if errors.Is(err, pipeline.ErrStateNotFound) {
			return fmt.Errorf("report %s: %w", input.ReportID, ErrNotFound)
		}
		return err
	}
	if state.Status == models.PipelineStatusCompleted {
		return NewValidationError("reportId", "report already completed")
	}

	strategy := input.SortStrategy
	if strategy == "" {
		strategy = s.cfg.Pipeline.DefaultSortStrategy
	}

	job := &queue.ReportJob{
		ReportID:     input.ReportID,
		UserID:       input.UserID,
		Comments:     input.Comments,
		SortStrategy: strategy,
		EnableCruxes: input.EnableCruxes,
		TopK:         input.TopK,
		Resume:       true,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue resume: %w", err)
	}

	slog.Info("Report resume enqueued", "report_id", input.ReportID)
	return nil
}

// GetReport returns the durable pipeline state for a report.
func (s *ReportService) GetReport(ctx context.Context, reportID string) (*models.PipelineState, error) {
	state, err := pipeline.GetPipelineStatus(ctx, reportID, s.store)
	if err != nil {
		if errors.Is(err, pipeline.ErrStateNotFound) {
			return nil, fmt.Errorf("report %s: %w", reportID, ErrNotFound)
		}
		return nil, err
	}
	return state, nil
}

// CancelReport cancels a running report. The durable state is marked
// failed and the holder's lock is broken; if the job runs on this pod
// its context is cancelled immediately as well.
func (s *ReportService) CancelReport(ctx context.Context, reportID string) (bool, error) {
	cancelled, err := pipeline.CancelPipeline(ctx, reportID, s.store)
	if err != nil {
		if errors.Is(err, pipeline.ErrStateNotFound) {
			return false, fmt.Errorf("report %s: %w", reportID, ErrNotFound)
		}
		return false, err
	}

	if s.pool != nil && s.pool.CancelJob(reportID) {
		slog.Info("Cancelled in-process job", "report_id", reportID)
	}
	return cancelled, nil
}

// DeleteReport removes all durable state for a report. Running reports
// must be cancelled first.
func (s *ReportService) DeleteReport(ctx context.Context, reportID string) error {
	state, err := s.store.Get(ctx, reportID)
	if err != nil {
		if errors.Is(err, pipeline.ErrStateNotFound) {
			return fmt.Errorf("report %s: %w", reportID, ErrNotFound)
		}
		return err
	}
	if state.Status == models.PipelineStatusRunning {
		return NewValidationError("reportId", "report is running; cancel it first")
	}
	return pipeline.CleanupPipelineState(ctx, reportID, s.store)
}

// Execute runs one queued job through the pipeline. Implements
// queue.JobExecutor.
func (s *ReportService) Execute(ctx context.Context, job *queue.ReportJob) *queue.ExecutionResult {
	input, err := s.buildInput(job)
	if err != nil {
		slog.Error("Failed to build pipeline input", "report_id", job.ReportID, "error", err)
		return &queue.ExecutionResult{Status: models.PipelineStatusFailed, Error: err}
	}

	result := s.runner.RunPipeline(ctx, input, &pipeline.RunConfig{
		ReportID:        job.ReportID,
		UserID:          job.UserID,
		ResumeFromState: job.Resume,
		OnStepUpdate: func(step models.StepName, status models.StepStatus) {
			s.publisher.PublishStepStatus(ctx, job.ReportID, step, status)
		},
		OnProgress: func(p pipeline.Progress) {
			s.publisher.PublishProgress(ctx, job.ReportID, p.CurrentStep, p.TotalSteps, p.CompletedSteps, p.PercentComplete)
		},
	})

	status := models.PipelineStatusFailed
	if result.State != nil {
		status = result.State.Status
	}
	var errMsg string
	if result.Error != nil {
		errMsg = result.Error.Error()
	}
	s.publisher.PublishReportStatus(context.WithoutCancel(ctx), job.ReportID, status, errMsg)
	return &queue.ExecutionResult{Status: status, Error: result.Error}
}

// buildInput assembles the pipeline input from the job and the resolved
// stage configurations. The API key is read from the environment here,
// at execution time, and flows by value only.
func (s *ReportService) buildInput(job *queue.ReportJob) (*pipeline.Input, error) {
	apiKey := os.Getenv(s.cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key environment variable %s is empty", s.cfg.LLM.APIKeyEnv)
	}

	stageLLM := func(name string) (models.LLMConfig, error) {
		stage, err := s.cfg.Stage(name)
		if err != nil {
			return models.LLMConfig{}, fmt.Errorf("stage %s: %w", name, err)
		}
		return models.LLMConfig{
			ModelName:    stage.ModelName,
			SystemPrompt: stage.SystemPrompt,
			UserPrompt:   stage.UserPrompt,
		}, nil
	}

	clustering, err := stageLLM(config.StageClustering)
	if err != nil {
		return nil, err
	}
	claims, err := stageLLM(config.StageClaims)
	if err != nil {
		return nil, err
	}
	dedup, err := stageLLM(config.StageDedup)
	if err != nil {
		return nil, err
	}
	summaries, err := stageLLM(config.StageSummaries)
	if err != nil {
		return nil, err
	}

	input := &pipeline.Input{
		Comments:         job.Comments,
		APIKey:           apiKey,
		ClusteringConfig: clustering,
		ClaimsConfig:     claims,
		DedupConfig:      dedup,
		SummariesConfig:  summaries,
		SortStrategy:     job.SortStrategy,
		EnableCruxes:     job.EnableCruxes,
		TopK:             job.TopK,
	}
	if job.EnableCruxes {
		cruxes, err := stageLLM(config.StageCruxes)
		if err != nil {
			return nil, err
		}
		input.CruxesConfig = &cruxes
	}
	return input, nil
}
