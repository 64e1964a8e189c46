// Package api exposes the report pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opendeliberation/weaver/pkg/config"
	"github.com/opendeliberation/weaver/pkg/queue"
	"github.com/opendeliberation/weaver/pkg/services"
)

// PoolHealthReporter is the subset of the worker pool used by the health
// endpoint. May be nil (API-only replicas).
type PoolHealthReporter interface {
	Health() *queue.PoolHealth
}

// Server represents the API server.
type Server struct {
	cfg     *config.ServerConfig
	reports *services.ReportService
	pool    PoolHealthReporter

	httpServer *http.Server
}

// NewServer creates a new API server. pool may be nil.
func NewServer(cfg *config.ServerConfig, reports *services.ReportService, pool PoolHealthReporter) *Server {
	return &Server{
		cfg:     cfg,
		reports: reports,
		pool:    pool,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), corsMiddleware(s.cfg.AllowedOrigins))

	router.GET("/health", s.healthHandler)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/reports", s.createReportHandler)
		v1.GET("/reports/:id", s.getReportHandler)
		v1.POST("/reports/:id/resume", s.resumeReportHandler)
		v1.POST("/reports/:id/cancel", s.cancelReportHandler)
		v1.DELETE("/reports/:id", s.deleteReportHandler)
	}

	return router
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
