package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/renderloom/loom/pkg/catalog"
)

// createCharacterHandler handles POST /api/anime/characters. The slug is
// derived from the name.
func (s *Server) createCharacterHandler(c *echo.Context) error {
	var req CreateCharacterRequest
	if err := bindStrict(c, &req); err != nil {
		return err
	}

	character, err := s.store.UpsertCharacter(c.Request().Context(), &catalog.Character{
		ProjectID:    req.ProjectID,
		Name:         req.Name,
		DesignPrompt: req.DesignPrompt,
		Appearance:   req.Appearance,
		Personality:  req.Personality,
		Background:   req.Background,
		Role:         req.Role,
		LoraPath:     req.LoraPath,
		LoraTrigger:  req.LoraTrigger,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, character)
}

// getCharacterHandler handles GET /api/anime/characters/:id.
func (s *Server) getCharacterHandler(c *echo.Context) error {
	id, err := characterID(c)
	if err != nil {
		return err
	}
	character, err := s.store.GetCharacterByID(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, character)
}

// characterBibleHandler handles GET /api/anime/characters/:id/bible: the
// character's full creative reference, grouped the way the frontend renders
// it.
func (s *Server) characterBibleHandler(c *echo.Context) error {
	id, err := characterID(c)
	if err != nil {
		return err
	}
	ch, err := s.store.GetCharacterByID(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"character_id": ch.ID,
		"project_id":   ch.ProjectID,
		"name":         ch.Name,
		"slug":         ch.Slug,
		"visual": map[string]any{
			"design_prompt": ch.DesignPrompt,
			"appearance":    ch.Appearance,
			"lora_path":     ch.LoraPath,
			"lora_trigger":  ch.LoraTrigger,
		},
		"story": map[string]any{
			"personality":      ch.Personality,
			"personality_tags": ch.PersonalityTags,
			"background":       ch.Background,
			"role":             ch.Role,
			"relationships":    ch.Relationships,
		},
		"voice_profile": ch.VoiceProfile,
	})
}

// patchCharacterHandler handles PATCH /api/story/characters/:slug. The owning
// project comes from the project_id query parameter; only whitelisted fields
// are applied.
func (s *Server) patchCharacterHandler(c *echo.Context) error {
	slug := c.Param("slug")
	if !validSlug(slug) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid character slug")
	}
	projectID := c.QueryParam("project_id")
	if !validID(projectID) {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id query parameter is required")
	}

	var req PatchCharacterRequest
	if err := bindStrict(c, &req); err != nil {
		return err
	}

	character, err := s.store.PatchCharacter(c.Request().Context(), projectID, slug, patchFields(&req))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, character)
}

// characterDetailHandler handles GET /api/story/characters/:slug/detail.
func (s *Server) characterDetailHandler(c *echo.Context) error {
	slug := c.Param("slug")
	if !validSlug(slug) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid character slug")
	}
	projectID := c.QueryParam("project_id")
	if !validID(projectID) {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id query parameter is required")
	}

	character, err := s.store.GetCharacterBySlug(c.Request().Context(), projectID, slug)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, character)
}

func characterID(c *echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "character id must be a positive integer")
	}
	return id, nil
}

// patchFields flattens the set fields of a patch request into the store's
// whitelist map. Absent pointers and nil maps are skipped so stored values
// survive.
func patchFields(req *PatchCharacterRequest) map[string]any {
	fields := map[string]any{}
	if req.DesignPrompt != nil {
		fields["design_prompt"] = *req.DesignPrompt
	}
	if req.Appearance != nil {
		fields["appearance"] = req.Appearance
	}
	if req.Personality != nil {
		fields["personality"] = *req.Personality
	}
	if req.Background != nil {
		fields["background"] = *req.Background
	}
	if req.Role != nil {
		fields["role"] = *req.Role
	}
	if req.PersonalityTags != nil {
		fields["personality_tags"] = req.PersonalityTags
	}
	if req.Relationships != nil {
		fields["relationships"] = req.Relationships
	}
	if req.VoiceProfile != nil {
		fields["voice_profile"] = req.VoiceProfile
	}
	if req.LoraPath != nil {
		fields["lora_path"] = *req.LoraPath
	}
	if req.LoraTrigger != nil {
		fields["lora_trigger"] = *req.LoraTrigger
	}
	return fields
}
