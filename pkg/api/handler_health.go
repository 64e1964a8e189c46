package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// healthHandler handles GET /health. Pool health is included when this
// replica runs workers.
func (s *Server) healthHandler(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.pool != nil {
		body["pool"] = s.pool.Health()
	}
	c.JSON(http.StatusOK, body)
}
