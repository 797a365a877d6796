package catalog

import (
	"context"
)

// UpsertScene inserts or updates a scene keyed by (project, scene_number).
func (s *Store) UpsertScene(ctx context.Context, sc *Scene) (*Scene, error) {
	var out Scene
	err := s.withRetry(ctx, func() error {
		err := s.db.GetContext(ctx, &out, `
			INSERT INTO scenes
				(project_id, scene_number, title, description, location, mood,
				 time_of_day, weather, narrative_text, generation_status,
				 output_video_path, dialogue_audio_path)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (project_id, scene_number) DO UPDATE SET
				title = EXCLUDED.title,
				description = EXCLUDED.description,
				location = EXCLUDED.location,
				mood = EXCLUDED.mood,
				time_of_day = EXCLUDED.time_of_day,
				weather = EXCLUDED.weather,
				narrative_text = EXCLUDED.narrative_text,
				generation_status = EXCLUDED.generation_status,
				output_video_path = EXCLUDED.output_video_path,
				dialogue_audio_path = EXCLUDED.dialogue_audio_path,
				updated_at = now()
			RETURNING *`,
			sc.ProjectID, sc.SceneNumber, sc.Title, sc.Description, sc.Location,
			sc.Mood, sc.TimeOfDay, sc.Weather, sc.NarrativeText,
			sc.GenerationStatus, sc.OutputVideoPath, sc.DialogueAudioPath)
		return translateError(err)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScene fetches a scene by id.
func (s *Store) GetScene(ctx context.Context, id int64) (*Scene, error) {
	var out Scene
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out,
			`SELECT * FROM scenes WHERE id = $1`, id))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListScenes returns a project's scenes in scene_number order.
func (s *Store) ListScenes(ctx context.Context, projectID string) ([]Scene, error) {
	out := []Scene{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &out,
			`SELECT * FROM scenes WHERE project_id = $1 ORDER BY scene_number`,
			projectID))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListScenesAfter returns the project's scenes with scene_number strictly
// greater than the given one, ascending. This is the downstream walk used by
// narrative propagation.
func (s *Store) ListScenesAfter(ctx context.Context, projectID string, sceneNumber int) ([]Scene, error) {
	out := []Scene{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &out, `
			SELECT * FROM scenes
			WHERE project_id = $1 AND scene_number > $2
			ORDER BY scene_number`,
			projectID, sceneNumber))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteScene removes a scene by id.
func (s *Store) DeleteScene(ctx context.Context, id int64) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM scenes WHERE id = $1`, id)
		if err != nil {
			return translateError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// UpsertShot inserts or updates a shot keyed by (scene, shot_number).
func (s *Store) UpsertShot(ctx context.Context, sh *Shot) (*Shot, error) {
	var out Shot
	err := s.withRetry(ctx, func() error {
		err := s.db.GetContext(ctx, &out, `
			INSERT INTO shots
				(scene_id, shot_number, shot_type, camera_angle, motion_prompt,
				 characters_present, dialogue_text, dialogue_character, status,
				 output_video_path)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (scene_id, shot_number) DO UPDATE SET
				shot_type = EXCLUDED.shot_type,
				camera_angle = EXCLUDED.camera_angle,
				motion_prompt = EXCLUDED.motion_prompt,
				characters_present = EXCLUDED.characters_present,
				dialogue_text = EXCLUDED.dialogue_text,
				dialogue_character = EXCLUDED.dialogue_character,
				status = EXCLUDED.status,
				output_video_path = EXCLUDED.output_video_path,
				updated_at = now()
			RETURNING *`,
			sh.SceneID, sh.ShotNumber, sh.ShotType, sh.CameraAngle,
			sh.MotionPrompt, sh.CharactersPresent, sh.DialogueText,
			sh.DialogueCharacter, sh.Status, sh.OutputVideoPath)
		return translateError(err)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetShot fetches a shot by id.
func (s *Store) GetShot(ctx context.Context, id int64) (*Shot, error) {
	var out Shot
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out,
			`SELECT * FROM shots WHERE id = $1`, id))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListShots returns a scene's shots in shot_number order.
func (s *Store) ListShots(ctx context.Context, sceneID int64) ([]Shot, error) {
	out := []Shot{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &out,
			`SELECT * FROM shots WHERE scene_id = $1 ORDER BY shot_number`, sceneID))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateEpisode inserts an episode.
func (s *Store) CreateEpisode(ctx context.Context, e *Episode) (*Episode, error) {
	var out Episode
	err := s.withRetry(ctx, func() error {
		err := s.db.GetContext(ctx, &out, `
			INSERT INTO episodes (project_id, title, description)
			VALUES ($1, $2, $3)
			RETURNING *`,
			e.ProjectID, e.Title, e.Description)
		return translateError(err)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEpisode fetches an episode by id.
func (s *Store) GetEpisode(ctx context.Context, id int64) (*Episode, error) {
	var out Episode
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out,
			`SELECT * FROM episodes WHERE id = $1`, id))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AttachSceneToEpisode places a scene at a position within an episode.
func (s *Store) AttachSceneToEpisode(ctx context.Context, episodeID, sceneID int64, position int) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO episode_scenes (episode_id, scene_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (episode_id, scene_id) DO UPDATE SET position = EXCLUDED.position`,
			episodeID, sceneID, position)
		return translateError(err)
	})
}

// ListEpisodeScenes returns the scenes of an episode in position order.
func (s *Store) ListEpisodeScenes(ctx context.Context, episodeID int64) ([]Scene, error) {
	out := []Scene{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &out, `
			SELECT s.* FROM scenes s
			JOIN episode_scenes es ON es.scene_id = s.id
			WHERE es.episode_id = $1
			ORDER BY es.position`,
			episodeID))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
