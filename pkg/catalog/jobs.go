package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CreateJob persists a new job row.
func (s *Store) CreateJob(ctx context.Context, j *Job) (*Job, error) {
	var out Job
	err := s.withRetry(ctx, func() error {
		err := s.db.GetContext(ctx, &out, `
			INSERT INTO jobs
				(id, type, prompt, parameters, status, project_id, character_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING *`,
			j.ID, j.Type, j.Prompt, j.Parameters, j.Status,
			j.ProjectID, j.CharacterID, j.CreatedAt)
		return translateError(err)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// jobUpdateColumns whitelists the optional fields UpdateJobStatus accepts.
var jobUpdateColumns = map[string]string{
	"backend_id":     "backend_id",
	"output_path":    "output_path",
	"organized_path": "organized_path",
	"error_message":  "error_message",
	"total_time":     "total_time",
	"started_at":     "started_at",
	"completed_at":   "completed_at",
}

// UpdateJobStatus writes a status change plus any whitelisted extra fields.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status JobStatus, fields map[string]any) error {
	sets := []string{"status = $2"}
	args := []any{id, status}
	for name, value := range fields {
		col, ok := jobUpdateColumns[name]
		if !ok {
			continue
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $1`, strings.Join(sets, ", "))
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return translateError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	var out Job
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out,
			`SELECT * FROM jobs WHERE id = $1`, id))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs returns jobs newest-first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, limit, offset int, status *JobStatus) ([]Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	out := []Job{}
	err := s.withRetry(ctx, func() error {
		if status != nil {
			return translateError(s.db.SelectContext(ctx, &out, `
				SELECT * FROM jobs WHERE status = $1
				ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
				*status, limit, offset))
		}
		return translateError(s.db.SelectContext(ctx, &out, `
			SELECT * FROM jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteJobsOlderThan removes terminal jobs whose creation time predates the
// cutoff. Returns the number of rows removed.
func (s *Store) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE created_at < $1
			  AND status IN ('completed', 'failed', 'timeout', 'cancelled')`,
			cutoff)
		if err != nil {
			return translateError(err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
