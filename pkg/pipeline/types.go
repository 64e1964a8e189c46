package pipeline

import (
	"context"
	"time"

	"github.com/opendeliberation/weaver/pkg/models"
)

// StageExecutors is the set of stage adapters the runner drives. Each
// adapter wraps a call to an LLM-backed service; failures come back as
// tagged *Error values through the normal error channel.
type StageExecutors interface {
	Clustering(ctx context.Context, in *models.ClusteringInput) (*models.ClusteringOutput, error)
	Claims(ctx context.Context, in *models.ClaimsInput) (*models.ClaimsOutput, error)
	SortAndDeduplicate(ctx context.Context, in *models.SortInput) (*models.SortOutput, error)
	Summaries(ctx context.Context, in *models.SummariesInput) (*models.SummariesOutput, error)
	Cruxes(ctx context.Context, in *models.CruxesInput) (*models.CruxesOutput, error)
}

// Input is the full payload for one pipeline run. The API key flows
// through function parameters only; it is never persisted in state.
type Input struct {
	Comments         []models.Comment
	APIKey           string
	ClusteringConfig models.LLMConfig
	ClaimsConfig     models.LLMConfig
	DedupConfig      models.LLMConfig
	SummariesConfig  models.LLMConfig
	CruxesConfig     *models.LLMConfig
	SortStrategy     string
	EnableCruxes     bool
	TopK             int
}

// Progress is the payload of the OnProgress callback. CompletedSteps
// increments monotonically; PercentComplete is rounded.
type Progress struct {
	CurrentStep     models.StepName `json:"currentStep"`
	TotalSteps      int             `json:"totalSteps"`
	CompletedSteps  int             `json:"completedSteps"`
	PercentComplete int             `json:"percentComplete"`
}

// RunConfig is the per-run coordination configuration.
type RunConfig struct {
	ReportID        string
	UserID          string
	ResumeFromState bool

	// LockValue is an already-held lease token. When empty the runner
	// acquires (and releases) its own lease.
	LockValue string

	// OnStepUpdate and OnProgress are one-way message sinks. Panics in
	// either are swallowed with a warning; they never break the pipeline.
	OnStepUpdate func(step models.StepName, status models.StepStatus)
	OnProgress   func(p Progress)
}

// Outputs bundles the artifacts of a completed run.
type Outputs struct {
	TopicTree  []models.PartialTopic `json:"topicTree"`
	ClaimsTree models.ClaimsTree     `json:"claimsTree"`
	SortedTree models.SortedTree     `json:"sortedTree"`
	Summaries  []models.TopicSummary `json:"summaries"`
	Cruxes     *models.CruxesOutput  `json:"cruxes,omitempty"`
}

// Result is what RunPipeline returns. No errors leak across this
// boundary as panics; Error is non-nil iff Success is false.
type Result struct {
	Success bool
	State   *models.PipelineState
	Outputs *Outputs
	Error   error
}

// RunnerConfig holds the runner's operational limits.
type RunnerConfig struct {
	// Timeout is the wall-clock budget for a whole run.
	Timeout time.Duration

	// ValidationFailureCeiling is the number of times a cached result may
	// fail structural validation before the pipeline fails permanently.
	ValidationFailureCeiling int

	// LockLease is the lease duration requested on lock acquisition.
	LockLease time.Duration
}

// Runner defaults, applied when the corresponding config value is unset.
const (
	DefaultTimeout                  = 30 * time.Minute
	DefaultValidationFailureCeiling = 3
)

// withDefaults fills unset fields.
func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ValidationFailureCeiling <= 0 {
		c.ValidationFailureCeiling = DefaultValidationFailureCeiling
	}
	if c.LockLease <= 0 {
		c.LockLease = DefaultLockLease
	}
	return c
}
