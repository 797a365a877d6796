package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// healthHandler handles GET /health. The backend probe is the only external
// check; database trouble surfaces through the job write-through warnings,
// not here.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	modelPreloaded := false
	if s.connector != nil {
		modelPreloaded = s.connector.CheckHealth(ctx)
	}

	active := 0
	if s.connManager != nil {
		active = s.connManager.ActiveConnections()
	}

	stats := s.manager.Statistics()
	return c.JSON(http.StatusOK, &HealthResponse{
		Status:           "healthy",
		ModelPreloaded:   modelPreloaded,
		QueueSize:        s.manager.QueueDepth(),
		ActiveWebsockets: active,
		JobsInMemory:     stats.Total,
	})
}
