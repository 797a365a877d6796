package catalog

import (
	"context"
	"encoding/json"
)

// StateTimelineEntry is one step of a character's state across a project.
type StateTimelineEntry struct {
	CharacterSceneState
	SceneNumber int    `db:"scene_number" json:"scene_number"`
	SceneTitle  string `db:"scene_title" json:"scene_title"`
}

// jsonOrNil marshals v for a nullable JSONB bind: nil input stays SQL NULL so
// COALESCE keeps the stored value.
func jsonOrNil(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

// UpsertCharacterSceneState merge-updates one (scene, character) state row.
// NULL fields in the partial state leave existing values untouched; any write
// bumps version; source is stored verbatim.
func (s *Store) UpsertCharacterSceneState(ctx context.Context, st *CharacterSceneState) (*CharacterSceneState, error) {
	if st.CharacterSlug == "" {
		return nil, NewValidationError("character_slug", "character slug is required")
	}
	if st.StateSource == "" {
		st.StateSource = StateSourceAuto
	}

	var injuries, accessories, carrying, relCtx any
	if st.Injuries != nil {
		injuries = jsonOrNil(st.Injuries)
	}
	if st.Accessories != nil {
		accessories = jsonOrNil(st.Accessories)
	}
	if st.Carrying != nil {
		carrying = jsonOrNil(st.Carrying)
	}
	if st.RelationshipContext != nil {
		relCtx = jsonOrNil(st.RelationshipContext)
	}

	var out CharacterSceneState
	err := s.withRetry(ctx, func() error {
		err := s.db.GetContext(ctx, &out, `
			INSERT INTO character_scene_state
				(scene_id, character_slug, clothing, hair_state, injuries,
				 accessories, body_state, emotional_state, energy_level,
				 relationship_context, location_in_scene, carrying, state_source)
			VALUES ($1, $2, $3, $4, COALESCE($5::jsonb, '[]'::jsonb),
				COALESCE($6::jsonb, '[]'::jsonb), $7, $8, $9,
				COALESCE($10::jsonb, '{}'::jsonb), $11,
				COALESCE($12::jsonb, '[]'::jsonb), $13)
			ON CONFLICT (scene_id, character_slug) DO UPDATE SET
				clothing = COALESCE(EXCLUDED.clothing, character_scene_state.clothing),
				hair_state = COALESCE(EXCLUDED.hair_state, character_scene_state.hair_state),
				injuries = COALESCE($5::jsonb, character_scene_state.injuries),
				accessories = COALESCE($6::jsonb, character_scene_state.accessories),
				body_state = COALESCE(EXCLUDED.body_state, character_scene_state.body_state),
				emotional_state = COALESCE(EXCLUDED.emotional_state, character_scene_state.emotional_state),
				energy_level = COALESCE(EXCLUDED.energy_level, character_scene_state.energy_level),
				relationship_context = COALESCE($10::jsonb, character_scene_state.relationship_context),
				location_in_scene = COALESCE(EXCLUDED.location_in_scene, character_scene_state.location_in_scene),
				carrying = COALESCE($12::jsonb, character_scene_state.carrying),
				state_source = EXCLUDED.state_source,
				version = character_scene_state.version + 1,
				updated_at = now()
			RETURNING *`,
			st.SceneID, st.CharacterSlug, st.Clothing, st.HairState, injuries,
			accessories, st.BodyState, st.EmotionalState, st.EnergyLevel,
			relCtx, st.LocationInScene, carrying, st.StateSource)
		return translateError(err)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCharacterSceneState fetches one (scene, character) state row.
func (s *Store) GetCharacterSceneState(ctx context.Context, sceneID int64, slug string) (*CharacterSceneState, error) {
	var out CharacterSceneState
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out, `
			SELECT * FROM character_scene_state
			WHERE scene_id = $1 AND character_slug = $2`,
			sceneID, slug))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSceneStates returns all character states of one scene.
func (s *Store) GetSceneStates(ctx context.Context, sceneID int64) ([]CharacterSceneState, error) {
	out := []CharacterSceneState{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &out, `
			SELECT * FROM character_scene_state
			WHERE scene_id = $1 ORDER BY character_slug`,
			sceneID))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteCharacterSceneState removes one (scene, character) state row.
func (s *Store) DeleteCharacterSceneState(ctx context.Context, sceneID int64, slug string) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM character_scene_state
			WHERE scene_id = $1 AND character_slug = $2`,
			sceneID, slug)
		if err != nil {
			return translateError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetStateTimeline returns one character's state across a project's scenes
// in narrative order.
func (s *Store) GetStateTimeline(ctx context.Context, projectID, slug string) ([]StateTimelineEntry, error) {
	out := []StateTimelineEntry{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &out, `
			SELECT css.*, sc.scene_number, sc.title AS scene_title
			FROM character_scene_state css
			JOIN scenes sc ON sc.id = css.scene_id
			WHERE sc.project_id = $1 AND css.character_slug = $2
			ORDER BY sc.scene_number`,
			projectID, slug))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
