package api

import "github.com/opendeliberation/weaver/pkg/models"

// CreateReportRequest is the body of POST /api/v1/reports.
type CreateReportRequest struct {
	ReportID     string           `json:"reportId"`
	UserID       string           `json:"userId" binding:"required"`
	Comments     []models.Comment `json:"comments" binding:"required"`
	SortStrategy string           `json:"sortStrategy"`
	EnableCruxes bool             `json:"enableCruxes"`
	TopK         int              `json:"topK"`
}

// ResumeReportRequest is the body of POST /api/v1/reports/:id/resume.
// The comment batch must be resupplied; only stage results are durable.
type ResumeReportRequest struct {
	UserID       string           `json:"userId" binding:"required"`
	Comments     []models.Comment `json:"comments" binding:"required"`
	SortStrategy string           `json:"sortStrategy"`
	EnableCruxes bool             `json:"enableCruxes"`
	TopK         int              `json:"topK"`
}
