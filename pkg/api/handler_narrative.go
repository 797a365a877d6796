package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/renderloom/loom/pkg/catalog"
)

// sceneStatesHandler handles GET /api/narrative/state/:scene_id.
func (s *Server) sceneStatesHandler(c *echo.Context) error {
	sceneID, err := sceneIDParam(c)
	if err != nil {
		return err
	}
	states, err := s.engine.GetSceneStates(c.Request().Context(), sceneID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"scene_id": sceneID,
		"states":   states,
	})
}

// getStateHandler handles GET /api/narrative/state/:scene_id/:slug.
func (s *Server) getStateHandler(c *echo.Context) error {
	sceneID, slug, err := stateParams(c)
	if err != nil {
		return err
	}
	state, err := s.engine.GetState(c.Request().Context(), sceneID, slug)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, state)
}

// putStateHandler handles PUT /api/narrative/state/:scene_id/:slug: a manual
// override. Absent fields keep their stored values; the write bumps the
// version and triggers forward propagation.
func (s *Server) putStateHandler(c *echo.Context) error {
	sceneID, slug, err := stateParams(c)
	if err != nil {
		return err
	}
	var req PutStateRequest
	if err := bindStrict(c, &req); err != nil {
		return err
	}

	partial := &catalog.CharacterSceneState{
		Clothing:            req.Clothing,
		HairState:           req.HairState,
		Injuries:            req.Injuries,
		Accessories:         req.Accessories,
		BodyState:           req.BodyState,
		EmotionalState:      req.EmotionalState,
		EnergyLevel:         req.EnergyLevel,
		RelationshipContext: req.RelationshipContext,
		LocationInScene:     req.LocationInScene,
		Carrying:            req.Carrying,
	}
	state, err := s.engine.SetState(c.Request().Context(), sceneID, slug, partial, catalog.StateSourceManual)
	if err != nil {
		return mapServiceError(err)
	}

	if s.hooks != nil {
		if err := s.hooks.StateUpdated(c.Request().Context(), sceneID, catalog.StateSourceManual); err != nil {
			s.logger.Warn("State propagation after manual override failed",
				"scene_id", sceneID, "error", err)
		}
	}
	return c.JSON(http.StatusOK, state)
}

// deleteStateHandler handles DELETE /api/narrative/state/:scene_id/:slug.
func (s *Server) deleteStateHandler(c *echo.Context) error {
	sceneID, slug, err := stateParams(c)
	if err != nil {
		return err
	}
	if err := s.engine.DeleteState(c.Request().Context(), sceneID, slug); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// initializeStatesHandler handles POST /api/narrative/state/:scene_id/initialize.
func (s *Server) initializeStatesHandler(c *echo.Context) error {
	sceneID, err := sceneIDParam(c)
	if err != nil {
		return err
	}
	scene, err := s.store.GetScene(c.Request().Context(), sceneID)
	if err != nil {
		return mapServiceError(err)
	}
	states, err := s.engine.InitializeFromDescription(c.Request().Context(), sceneID, scene.ProjectID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"scene_id":    sceneID,
		"initialized": len(states),
		"states":      states,
	})
}

// propagateStatesHandler handles POST /api/narrative/state/:scene_id/propagate.
func (s *Server) propagateStatesHandler(c *echo.Context) error {
	sceneID, err := sceneIDParam(c)
	if err != nil {
		return err
	}
	scene, err := s.store.GetScene(c.Request().Context(), sceneID)
	if err != nil {
		return mapServiceError(err)
	}
	written, err := s.engine.PropagateForward(c.Request().Context(), sceneID, scene.ProjectID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"source_scene_id": sceneID,
		"written":         len(written),
		"states":          written,
	})
}

// timelineHandler handles GET /api/narrative/timeline/:project_id/:slug.
func (s *Server) timelineHandler(c *echo.Context) error {
	projectID := c.Param("project_id")
	slug := c.Param("slug")
	if !validID(projectID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid project id")
	}
	if !validSlug(slug) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid character slug")
	}
	timeline, err := s.store.GetStateTimeline(c.Request().Context(), projectID, slug)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"project_id":     projectID,
		"character_slug": slug,
		"timeline":       timeline,
	})
}

// regenerationQueueHandler handles GET /api/narrative/regeneration-queue/:project_id.
func (s *Server) regenerationQueueHandler(c *echo.Context) error {
	projectID := c.Param("project_id")
	if !validID(projectID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid project id")
	}
	entries, err := s.store.ListRegenerationPending(c.Request().Context(), projectID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"project_id": projectID,
		"pending":    entries,
	})
}

func sceneIDParam(c *echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("scene_id"), 10, 64)
	if err != nil || id < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "scene id must be a positive integer")
	}
	return id, nil
}

func stateParams(c *echo.Context) (int64, string, error) {
	sceneID, err := sceneIDParam(c)
	if err != nil {
		return 0, "", err
	}
	slug := c.Param("slug")
	if !validSlug(slug) {
		return 0, "", echo.NewHTTPError(http.StatusBadRequest, "invalid character slug")
	}
	return sceneID, slug, nil
}
