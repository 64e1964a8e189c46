package api

// CreateReportResponse is the body returned by POST /api/v1/reports.
type CreateReportResponse struct {
	ReportID string `json:"reportId"`
	Status   string `json:"status"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
