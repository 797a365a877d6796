package catalog

import (
	"context"
)

// EnqueueRegeneration inserts a downstream-invalidation entry. Inserts are
// idempotent on (scene_id, shot_id, source_scene_id, source_field): a
// duplicate delivery is a no-op and returns false.
func (s *Store) EnqueueRegeneration(ctx context.Context, e *RegenerationEntry) (bool, error) {
	var inserted bool
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO regeneration_queue
				(scene_id, shot_id, reason, priority, source_scene_id, source_field)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT ON CONSTRAINT regen_idempotency_unique DO NOTHING`,
			e.SceneID, e.ShotID, e.Reason, e.Priority, e.SourceSceneID, e.SourceField)
		if err != nil {
			return translateError(err)
		}
		n, _ := res.RowsAffected()
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// ListRegenerationPending returns a project's pending entries, most urgent
// first.
func (s *Store) ListRegenerationPending(ctx context.Context, projectID string) ([]RegenerationEntry, error) {
	out := []RegenerationEntry{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &out, `
			SELECT rq.* FROM regeneration_queue rq
			JOIN scenes sc ON sc.id = rq.scene_id
			WHERE sc.project_id = $1 AND rq.status = 'pending'
			ORDER BY rq.priority DESC, rq.created_at`,
			projectID))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRegenerationProcessed stamps one entry processed.
func (s *Store) MarkRegenerationProcessed(ctx context.Context, id int64) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE regeneration_queue
			SET status = 'processed', processed_at = now()
			WHERE id = $1 AND status = 'pending'`,
			id)
		if err != nil {
			return translateError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
