package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UpsertCharacter inserts or updates a character, deriving the slug from the
// name when it is empty.
func (s *Store) UpsertCharacter(ctx context.Context, c *Character) (*Character, error) {
	if c.Name == "" {
		return nil, NewValidationError("name", "character name is required")
	}
	slug := c.Slug
	if slug == "" {
		slug = Slugify(c.Name)
	}

	var out Character
	err := s.withRetry(ctx, func() error {
		err := s.db.GetContext(ctx, &out, `
			INSERT INTO characters
				(project_id, name, slug, design_prompt, appearance, personality,
				 background, role, personality_tags, relationships, voice_profile,
				 lora_path, lora_trigger)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (project_id, slug) DO UPDATE SET
				name = EXCLUDED.name,
				design_prompt = EXCLUDED.design_prompt,
				appearance = EXCLUDED.appearance,
				personality = EXCLUDED.personality,
				background = EXCLUDED.background,
				role = EXCLUDED.role,
				personality_tags = EXCLUDED.personality_tags,
				relationships = EXCLUDED.relationships,
				voice_profile = EXCLUDED.voice_profile,
				lora_path = EXCLUDED.lora_path,
				lora_trigger = EXCLUDED.lora_trigger,
				updated_at = now()
			RETURNING *`,
			c.ProjectID, c.Name, slug, c.DesignPrompt, c.Appearance, c.Personality,
			c.Background, c.Role, c.PersonalityTags, c.Relationships, c.VoiceProfile,
			c.LoraPath, c.LoraTrigger)
		return translateError(err)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCharacterBySlug fetches one character by its addressing key.
func (s *Store) GetCharacterBySlug(ctx context.Context, projectID, slug string) (*Character, error) {
	var out Character
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out,
			`SELECT * FROM characters WHERE project_id = $1 AND slug = $2`,
			projectID, slug))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCharacterByID fetches one character by numeric id.
func (s *Store) GetCharacterByID(ctx context.Context, id int64) (*Character, error) {
	var out Character
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out,
			`SELECT * FROM characters WHERE id = $1`, id))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCharacters returns all characters of a project ordered by name.
func (s *Store) ListCharacters(ctx context.Context, projectID string) ([]Character, error) {
	out := []Character{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &out,
			`SELECT * FROM characters WHERE project_id = $1 ORDER BY name`, projectID))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SearchCharactersByName finds characters by name, case-insensitively, with
// exact matches ranked first. The catalog is queried directly — the reference
// index is never consulted for character identity.
func (s *Store) SearchCharactersByName(ctx context.Context, name string, limit int) ([]Character, error) {
	if limit <= 0 {
		limit = 5
	}
	out := []Character{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &out, `
			SELECT * FROM characters
			WHERE name ILIKE '%' || $1 || '%' OR slug = $2
			ORDER BY (lower(name) = lower($1)) DESC, name
			LIMIT $3`,
			name, Slugify(name), limit))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// characterPatchColumns whitelists the fields PatchCharacter accepts, mapping
// field name to column and whether the value is JSON-typed.
var characterPatchColumns = map[string]struct {
	column string
	isJSON bool
}{
	"name":             {"name", false},
	"design_prompt":    {"design_prompt", false},
	"appearance":       {"appearance", true},
	"personality":      {"personality", false},
	"background":       {"background", false},
	"role":             {"role", false},
	"personality_tags": {"personality_tags", true},
	"relationships":    {"relationships", true},
	"voice_profile":    {"voice_profile", true},
	"lora_path":        {"lora_path", false},
	"lora_trigger":     {"lora_trigger", false},
}

// PatchCharacter merge-updates a character. Only whitelisted fields are
// applied; JSON-valued fields are cast explicitly; updated_at is always
// touched. A patch with zero valid fields is a validation error.
func (s *Store) PatchCharacter(ctx context.Context, projectID, slug string, fields map[string]any) (*Character, error) {
	sets := make([]string, 0, len(fields))
	args := []any{projectID, slug}
	for name, value := range fields {
		col, ok := characterPatchColumns[name]
		if !ok {
			continue
		}
		args = append(args, patchValue(col.isJSON, value))
		if col.isJSON {
			sets = append(sets, fmt.Sprintf("%s = $%d::jsonb", col.column, len(args)))
		} else {
			sets = append(sets, fmt.Sprintf("%s = $%d", col.column, len(args)))
		}
	}
	if len(sets) == 0 {
		return nil, NewValidationError("fields", "no valid fields to update")
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf(
		`UPDATE characters SET %s WHERE project_id = $1 AND slug = $2 RETURNING *`,
		strings.Join(sets, ", "))

	var out Character
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out, query, args...))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// patchValue normalizes a patch value for binding: JSON fields are marshaled
// to text for the ::jsonb cast, scalars pass through.
func patchValue(isJSON bool, value any) any {
	if !isJSON {
		return value
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(b)
}
