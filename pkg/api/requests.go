package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	echo "github.com/labstack/echo/v5"

	"github.com/renderloom/loom/pkg/catalog"
	"github.com/renderloom/loom/pkg/organizer"
	"github.com/renderloom/loom/pkg/workflow"
)

// maxPromptLength is the hard cap on user prompts.
const maxPromptLength = 1000

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	// resourceid enforces the shared id contract: ^[a-zA-Z0-9-]{1,50}$.
	_ = v.RegisterValidation("resourceid", func(fl validator.FieldLevel) bool {
		return organizer.ValidateID(fl.Field().String())
	})
	return v
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	Prompt         string  `json:"prompt" validate:"required"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          *int    `json:"width"`
	Height         *int    `json:"height"`
	Duration       *int    `json:"duration" validate:"omitempty,min=1,max=300"`
	ProjectID      *string `json:"project_id" validate:"omitempty,resourceid"`
	CharacterID    *int64  `json:"character_id"`
	StylePreset    string  `json:"style_preset"`
}

// CreateProjectRequest is the body of POST /api/anime/projects.
type CreateProjectRequest struct {
	ID           string  `json:"id" validate:"required,resourceid"`
	Name         string  `json:"name" validate:"required"`
	Description  string  `json:"description"`
	DefaultStyle *string `json:"default_style"`
}

// CreateCharacterRequest is the body of POST /api/anime/characters.
type CreateCharacterRequest struct {
	ProjectID    string         `json:"project_id" validate:"required,resourceid"`
	Name         string         `json:"name" validate:"required"`
	DesignPrompt string         `json:"design_prompt"`
	Appearance   map[string]any `json:"appearance"`
	Personality  string         `json:"personality"`
	Background   string         `json:"background"`
	Role         string         `json:"role"`
	LoraPath     *string        `json:"lora_path"`
	LoraTrigger  *string        `json:"lora_trigger"`
}

// PatchCharacterRequest carries the whitelisted merge-update fields of
// PATCH /api/story/characters/{slug}. Absent fields leave stored values
// untouched.
type PatchCharacterRequest struct {
	DesignPrompt    *string        `json:"design_prompt"`
	Appearance      map[string]any `json:"appearance"`
	Personality     *string        `json:"personality"`
	Background      *string        `json:"background"`
	Role            *string        `json:"role"`
	PersonalityTags []string       `json:"personality_tags"`
	Relationships   map[string]any `json:"relationships"`
	VoiceProfile    map[string]any `json:"voice_profile"`
	LoraPath        *string        `json:"lora_path"`
	LoraTrigger     *string        `json:"lora_trigger"`
}

// PutStateRequest is the manual state override body of
// PUT /api/narrative/state/{scene_id}/{slug}.
type PutStateRequest struct {
	Clothing            *string          `json:"clothing"`
	HairState           *string          `json:"hair_state"`
	Injuries            []catalog.Injury `json:"injuries"`
	Accessories         []string         `json:"accessories"`
	BodyState           *string          `json:"body_state"`
	EmotionalState      *string          `json:"emotional_state"`
	EnergyLevel         *string          `json:"energy_level"`
	RelationshipContext map[string]any   `json:"relationship_context"`
	LocationInScene     *string          `json:"location_in_scene"`
	Carrying            []string         `json:"carrying"`
}

// bindStrict decodes the request body into dst, rejecting unknown fields.
func bindStrict(c *echo.Context, dst any) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return echo.NewHTTPError(http.StatusBadRequest, "request body is required")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := requestValidator.Struct(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", strings.ToLower(fe.Field()))
	case "resourceid":
		return fmt.Sprintf("%s must match ^[a-zA-Z0-9-]{1,50}$", strings.ToLower(fe.Field()))
	case "min", "max":
		return fmt.Sprintf("%s is out of range", strings.ToLower(fe.Field()))
	}
	return fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
}

// validID applies the shared id contract to path parameters.
func validID(id string) bool {
	return organizer.ValidateID(id)
}

var slugRe = regexp.MustCompile(`^[a-z0-9_-]{1,50}$`)

// validSlug checks a character slug. Slugs allow underscores, unlike project
// and job ids.
func validSlug(slug string) bool {
	return slugRe.MatchString(slug)
}

// sanitizePrompt strips NUL bytes and non-printable control characters,
// keeping newline and tab.
func sanitizePrompt(prompt string) string {
	var b strings.Builder
	b.Grow(len(prompt))
	for _, r := range prompt {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// validatePrompt sanitizes and bounds-checks a prompt.
func validatePrompt(prompt string) (string, error) {
	clean := sanitizePrompt(prompt)
	if clean == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}
	if len([]rune(clean)) > maxPromptLength {
		return "", echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("prompt exceeds %d characters", maxPromptLength))
	}
	return clean, nil
}

// validateResolution checks a dimension is within [64, 2048] and rounds it
// down to the nearest multiple of 64.
func validateResolution(name string, v int) (int, error) {
	if v < 64 || v > 2048 {
		return 0, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("%s must be between 64 and 2048", name))
	}
	return workflow.SnapResolution(v), nil
}
