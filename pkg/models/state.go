package models

import (
	"encoding/json"
	"time"
)

// PipelineStatus is the overall run status of a report pipeline.
type PipelineStatus string

// Pipeline status constants.
const (
	PipelineStatusPending   PipelineStatus = "pending"
	PipelineStatusRunning   PipelineStatus = "running"
	PipelineStatusCompleted PipelineStatus = "completed"
	PipelineStatusFailed    PipelineStatus = "failed"
)

// StepStatus is the lifecycle status of a single pipeline step.
type StepStatus string

// Step status constants.
const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusSkipped    StepStatus = "skipped"
	StepStatusFailed     StepStatus = "failed"
)

// StepName identifies one of the five pipeline stages.
type StepName string

// Step name constants, in execution order.
const (
	StepClustering StepName = "clustering"
	StepClaims     StepName = "claims"
	StepSort       StepName = "sort_and_deduplicate"
	StepSummaries  StepName = "summaries"
	StepCruxes     StepName = "cruxes"
)

// StepOrder is the fixed walk order of the pipeline DAG. Cruxes is the
// single conditional tail.
var StepOrder = []StepName{StepClustering, StepClaims, StepSort, StepSummaries, StepCruxes}

// StepState is the durable lifecycle record of one step.
type StepState struct {
	Status       StepStatus `json:"status"`
	StartedAt    int64      `json:"startedAt,omitempty"`   // epoch ms UTC
	CompletedAt  int64      `json:"completedAt,omitempty"` // epoch ms UTC
	DurationMs   int64      `json:"durationMs,omitempty"`
	InputTokens  int        `json:"inputTokens,omitempty"`
	OutputTokens int        `json:"outputTokens,omitempty"`
	TotalTokens  int        `json:"totalTokens,omitempty"`
	Cost         float64    `json:"cost,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// ErrorRecord is the error detail persisted into state so a later status
// query reveals why a run failed.
type ErrorRecord struct {
	Message string   `json:"message"`
	Name    string   `json:"name"`
	Step    StepName `json:"step,omitempty"`
}

// PipelineState is the durable per-report record. It is mutated only by
// the worker holding the pipeline lock and persisted as a single JSON
// document per reportId.
type PipelineState struct {
	ReportID           string                       `json:"reportId"`
	UserID             string                       `json:"userId"`
	Status             PipelineStatus               `json:"status"`
	CurrentStep        StepName                     `json:"currentStep,omitempty"`
	Steps              map[StepName]*StepState      `json:"steps"`
	CompletedResults   map[StepName]json.RawMessage `json:"completedResults,omitempty"`
	ValidationFailures map[StepName]int             `json:"validationFailures,omitempty"`
	TotalDurationMs    int64                        `json:"totalDurationMs"`
	TotalTokens        int                          `json:"totalTokens"`
	TotalCost          float64                      `json:"totalCost"`
	Error              *ErrorRecord                 `json:"error,omitempty"`
	CreatedAt          int64                        `json:"createdAt"` // epoch ms UTC
	UpdatedAt          int64                        `json:"updatedAt"` // epoch ms UTC
}

// NewPipelineState creates a fresh state with every step pending.
func NewPipelineState(reportID, userID string) *PipelineState {
	now := EpochMillis(time.Now())
	steps := make(map[StepName]*StepState, len(StepOrder))
	for _, name := range StepOrder {
		steps[name] = &StepState{Status: StepStatusPending}
	}
	return &PipelineState{
		ReportID:           reportID,
		UserID:             userID,
		Status:             PipelineStatusPending,
		Steps:              steps,
		CompletedResults:   make(map[StepName]json.RawMessage),
		ValidationFailures: make(map[StepName]int),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Step returns the state of the named step, creating a pending record if
// the map entry is missing (recovered states may be sparse).
func (s *PipelineState) Step(name StepName) *StepState {
	if s.Steps == nil {
		s.Steps = make(map[StepName]*StepState)
	}
	st, ok := s.Steps[name]
	if !ok {
		st = &StepState{Status: StepStatusPending}
		s.Steps[name] = st
	}
	return st
}

// InProgressStep returns the name of the step currently in progress, or ""
// if none. At most one step may be in progress at a time.
func (s *PipelineState) InProgressStep() StepName {
	for name, st := range s.Steps {
		if st.Status == StepStatusInProgress {
			return name
		}
	}
	return ""
}

// RecomputeTotals re-derives the aggregate analytics from completed steps.
// Invariant: totals equal the sum over completed steps.
func (s *PipelineState) RecomputeTotals() {
	s.TotalDurationMs = 0
	s.TotalTokens = 0
	s.TotalCost = 0
	for _, st := range s.Steps {
		if st.Status != StepStatusCompleted {
			continue
		}
		s.TotalDurationMs += st.DurationMs
		s.TotalTokens += st.TotalTokens
		s.TotalCost += st.Cost
	}
}

// Terminal reports whether the pipeline reached a terminal status.
func (s *PipelineState) Terminal() bool {
	return s.Status == PipelineStatusCompleted || s.Status == PipelineStatusFailed
}

// EpochMillis converts a time to epoch milliseconds UTC, the timestamp
// format used throughout the durable state.
func EpochMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}
