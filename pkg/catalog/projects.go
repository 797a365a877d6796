package catalog

import (
	"context"
)

// UpsertProject inserts or updates a project by id.
func (s *Store) UpsertProject(ctx context.Context, p *Project) (*Project, error) {
	var out Project
	err := s.withRetry(ctx, func() error {
		err := s.db.GetContext(ctx, &out, `
			INSERT INTO projects (id, name, description, default_style)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				default_style = EXCLUDED.default_style,
				updated_at = now()
			RETURNING *`,
			p.ID, p.Name, p.Description, p.DefaultStyle)
		return translateError(err)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var out Project
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out,
			`SELECT * FROM projects WHERE id = $1`, id))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	out := []Project{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &out,
			`SELECT * FROM projects ORDER BY created_at`))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteProject removes a project and everything it owns.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
		if err != nil {
			return translateError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// UpsertStyle inserts or updates a generation style by name.
func (s *Store) UpsertStyle(ctx context.Context, st *GenerationStyle) (*GenerationStyle, error) {
	var out GenerationStyle
	err := s.withRetry(ctx, func() error {
		err := s.db.GetContext(ctx, &out, `
			INSERT INTO generation_styles
				(name, checkpoint, positive_prompt, negative_prompt,
				 cfg_scale, steps, sampler, scheduler, width, height)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (name) DO UPDATE SET
				checkpoint = EXCLUDED.checkpoint,
				positive_prompt = EXCLUDED.positive_prompt,
				negative_prompt = EXCLUDED.negative_prompt,
				cfg_scale = EXCLUDED.cfg_scale,
				steps = EXCLUDED.steps,
				sampler = EXCLUDED.sampler,
				scheduler = EXCLUDED.scheduler,
				width = EXCLUDED.width,
				height = EXCLUDED.height,
				updated_at = now()
			RETURNING *`,
			st.Name, st.Checkpoint, st.PositivePrompt, st.NegativePrompt,
			st.CfgScale, st.Steps, st.Sampler, st.Scheduler, st.Width, st.Height)
		return translateError(err)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStyle fetches a generation style by name.
func (s *Store) GetStyle(ctx context.Context, name string) (*GenerationStyle, error) {
	var out GenerationStyle
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out,
			`SELECT * FROM generation_styles WHERE name = $1`, name))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ProjectStats summarizes a project's generation activity.
type ProjectStats struct {
	ProjectID      string  `db:"project_id" json:"project_id"`
	TotalJobs      int     `db:"total_jobs" json:"total_jobs"`
	CompletedJobs  int     `db:"completed_jobs" json:"completed_jobs"`
	FailedJobs     int     `db:"failed_jobs" json:"failed_jobs"`
	AvgQuality     float64 `db:"avg_quality" json:"avg_quality"`
	PassedReviews  int     `db:"passed_reviews" json:"passed_reviews"`
	TotalReviews   int     `db:"total_reviews" json:"total_reviews"`
	CharacterCount int     `db:"character_count" json:"character_count"`
	SceneCount     int     `db:"scene_count" json:"scene_count"`
}

// GetProjectStats aggregates job, review, and catalog counts for a project.
func (s *Store) GetProjectStats(ctx context.Context, projectID string) (*ProjectStats, error) {
	out := ProjectStats{ProjectID: projectID}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out, `
			SELECT
				$1::text AS project_id,
				(SELECT count(*) FROM jobs WHERE project_id = $1) AS total_jobs,
				(SELECT count(*) FROM jobs WHERE project_id = $1 AND status = 'completed') AS completed_jobs,
				(SELECT count(*) FROM jobs WHERE project_id = $1 AND status = 'failed') AS failed_jobs,
				COALESCE((SELECT avg(quality_score) FROM quality_feedback WHERE project_id = $1), 0) AS avg_quality,
				(SELECT count(*) FROM quality_feedback WHERE project_id = $1 AND contract_passed) AS passed_reviews,
				(SELECT count(*) FROM quality_feedback WHERE project_id = $1) AS total_reviews,
				(SELECT count(*) FROM characters WHERE project_id = $1) AS character_count,
				(SELECT count(*) FROM scenes WHERE project_id = $1) AS scene_count`,
			projectID))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
