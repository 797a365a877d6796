package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// qualityHandler handles GET /api/quality/:job_id: the stored gate results
// and recommendations for one job.
func (s *Server) qualityHandler(c *echo.Context) error {
	jobID := c.Param("job_id")
	if !validID(jobID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	feedback, err := s.store.GetQualityByJob(c.Request().Context(), jobID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, feedback)
}

// rebuildIndexHandler handles POST /api/index/rebuild. The rebuild runs
// synchronously; incremental=true skips rows already indexed.
func (s *Server) rebuildIndexHandler(c *echo.Context) error {
	if s.rebuilder == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reference index not configured")
	}
	incremental := c.QueryParam("incremental") == "true"
	stats, err := s.rebuilder.Rebuild(c.Request().Context(), incremental)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
