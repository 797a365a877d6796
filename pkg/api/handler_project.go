package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/renderloom/loom/pkg/catalog"
)

// createProjectHandler handles POST /api/anime/projects.
func (s *Server) createProjectHandler(c *echo.Context) error {
	var req CreateProjectRequest
	if err := bindStrict(c, &req); err != nil {
		return err
	}

	project, err := s.store.UpsertProject(c.Request().Context(), &catalog.Project{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		DefaultStyle: req.DefaultStyle,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, project)
}

// listProjectsHandler handles GET /api/anime/projects.
func (s *Server) listProjectsHandler(c *echo.Context) error {
	projects, err := s.store.ListProjects(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"projects": projects})
}

// getProjectHandler handles GET /api/anime/projects/:id.
func (s *Server) getProjectHandler(c *echo.Context) error {
	id := c.Param("id")
	if !validID(id) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid project id")
	}
	project, err := s.store.GetProject(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, project)
}

// projectStatsHandler handles GET /api/anime/projects/:id/stats.
func (s *Server) projectStatsHandler(c *echo.Context) error {
	id := c.Param("id")
	if !validID(id) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid project id")
	}
	stats, err := s.store.GetProjectStats(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
