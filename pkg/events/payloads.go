package events

import "github.com/opendeliberation/weaver/pkg/models"

// StepStatusPayload is the payload for step.status events. Published on
// every step lifecycle transition.
type StepStatusPayload struct {
	Type      string            `json:"type"`      // always EventTypeStepStatus
	ReportID  string            `json:"report_id"` // report UUID
	Step      models.StepName   `json:"step"`
	Status    models.StepStatus `json:"status"`
	Timestamp string            `json:"timestamp"` // RFC3339Nano
}

// ProgressPayload is the payload for report.progress events.
type ProgressPayload struct {
	Type            string          `json:"type"`      // always EventTypeProgress
	ReportID        string          `json:"report_id"` // report UUID
	CurrentStep     models.StepName `json:"current_step"`
	TotalSteps      int             `json:"total_steps"`
	CompletedSteps  int             `json:"completed_steps"`
	PercentComplete int             `json:"percent_complete"`
	Timestamp       string          `json:"timestamp"` // RFC3339Nano
}

// ReportStatusPayload is the payload for report.status events. Published
// when a report reaches a terminal status, to both the report channel
// and the global channel.
type ReportStatusPayload struct {
	Type      string                `json:"type"`      // always EventTypeReportStatus
	ReportID  string                `json:"report_id"` // report UUID
	Status    models.PipelineStatus `json:"status"`
	Error     string                `json:"error,omitempty"`
	Timestamp string                `json:"timestamp"` // RFC3339Nano
}
