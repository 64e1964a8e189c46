// Package events publishes pipeline progress events over Redis pub/sub
// for live delivery to report viewers.
package events

// Event type constants.
const (
	EventTypeStepStatus   = "step.status"
	EventTypeProgress     = "report.progress"
	EventTypeReportStatus = "report.status"
)

// reportChannelPrefix namespaces per-report channels alongside the other
// pipeline keys.
const reportChannelPrefix = "pipeline:events:"

// GlobalReportsChannel carries report status events for all reports, for
// list views that watch everything.
const GlobalReportsChannel = "pipeline:events:all"

// ReportChannel returns the pub/sub channel for one report.
func ReportChannel(reportID string) string {
	return reportChannelPrefix + reportID
}
