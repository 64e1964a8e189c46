package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opendeliberation/weaver/pkg/services"
)

// createReportHandler handles POST /api/v1/reports.
func (s *Server) createReportHandler(c *gin.Context) {
	var req CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	reportID, err := s.reports.SubmitReport(c.Request.Context(), services.SubmitReportInput{
		ReportID:     req.ReportID,
		UserID:       req.UserID,
		Comments:     req.Comments,
		SortStrategy: req.SortStrategy,
		EnableCruxes: req.EnableCruxes,
		TopK:         req.TopK,
	})
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, CreateReportResponse{ReportID: reportID, Status: "queued"})
}

// getReportHandler handles GET /api/v1/reports/:id.
func (s *Server) getReportHandler(c *gin.Context) {
	reportID := c.Param("id")
	if reportID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "report id is required"})
		return
	}

	state, err := s.reports.GetReport(c.Request.Context(), reportID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// resumeReportHandler handles POST /api/v1/reports/:id/resume.
func (s *Server) resumeReportHandler(c *gin.Context) {
	reportID := c.Param("id")
	if reportID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "report id is required"})
		return
	}

	var req ResumeReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	err := s.reports.ResumeReport(c.Request.Context(), services.SubmitReportInput{
		ReportID:     reportID,
		UserID:       req.UserID,
		Comments:     req.Comments,
		SortStrategy: req.SortStrategy,
		EnableCruxes: req.EnableCruxes,
		TopK:         req.TopK,
	})
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, CreateReportResponse{ReportID: reportID, Status: "queued"})
}

// cancelReportHandler handles POST /api/v1/reports/:id/cancel.
func (s *Server) cancelReportHandler(c *gin.Context) {
	reportID := c.Param("id")
	if reportID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "report id is required"})
		return
	}

	cancelled, err := s.reports.CancelReport(c.Request.Context(), reportID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "report is not in a cancellable state"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// deleteReportHandler handles DELETE /api/v1/reports/:id.
func (s *Server) deleteReportHandler(c *gin.Context) {
	reportID := c.Param("id")
	if reportID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "report id is required"})
		return
	}

	if err := s.reports.DeleteReport(c.Request.Context(), reportID); err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
