package catalog

import (
	"context"
)

// InsertQualityFeedback records one reviewed generation. prompt_id is unique;
// a duplicate review of the same backend prompt updates the existing row.
func (s *Store) InsertQualityFeedback(ctx context.Context, q *QualityFeedback) (*QualityFeedback, error) {
	var out QualityFeedback
	err := s.withRetry(ctx, func() error {
		err := s.db.GetContext(ctx, &out, `
			INSERT INTO quality_feedback
				(job_id, prompt_id, project_id, parameters, contract_passed,
				 quality_score, structural_gates, motion_gates, quality_gates,
				 frame_samples, recommendations, successful_elements,
				 failed_elements, analysis_notes, output_path, file_size,
				 duration, frame_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18)
			ON CONFLICT (prompt_id) DO UPDATE SET
				contract_passed = EXCLUDED.contract_passed,
				quality_score = EXCLUDED.quality_score,
				structural_gates = EXCLUDED.structural_gates,
				motion_gates = EXCLUDED.motion_gates,
				quality_gates = EXCLUDED.quality_gates,
				frame_samples = EXCLUDED.frame_samples,
				recommendations = EXCLUDED.recommendations,
				analysis_notes = EXCLUDED.analysis_notes
			RETURNING *`,
			q.JobID, q.PromptID, q.ProjectID, q.Parameters, q.ContractPassed,
			q.QualityScore, q.StructuralGates, q.MotionGates, q.QualityGates,
			q.FrameSamples, q.Recommendations, q.SuccessfulElements,
			q.FailedElements, q.AnalysisNotes, q.OutputPath, q.FileSize,
			q.Duration, q.FrameCount)
		return translateError(err)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRecentQuality returns a project's most recent reviews.
func (s *Store) GetRecentQuality(ctx context.Context, projectID string, limit int) ([]QualityFeedback, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	out := []QualityFeedback{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &out, `
			SELECT * FROM quality_feedback
			WHERE project_id = $1
			ORDER BY created_at DESC LIMIT $2`,
			projectID, limit))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetQualityByJob returns the review recorded for one job, if any.
func (s *Store) GetQualityByJob(ctx context.Context, jobID string) (*QualityFeedback, error) {
	var out QualityFeedback
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.GetContext(ctx, &out,
			`SELECT * FROM quality_feedback WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`,
			jobID))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LearnedElements are prompt fragments observed to succeed or fail for a
// project, aggregated across reviews.
type LearnedElements struct {
	Successful []string `json:"successful"`
	Failed     []string `json:"failed"`
}

// GetLearnedElements aggregates learned prompt elements across a project's
// reviews, deduplicated, most recent first.
func (s *Store) GetLearnedElements(ctx context.Context, projectID string) (*LearnedElements, error) {
	rows := []QualityFeedback{}
	err := s.withRetry(ctx, func() error {
		return translateError(s.db.SelectContext(ctx, &rows, `
			SELECT * FROM quality_feedback
			WHERE project_id = $1
			ORDER BY created_at DESC LIMIT 200`,
			projectID))
	})
	if err != nil {
		return nil, err
	}

	out := &LearnedElements{Successful: []string{}, Failed: []string{}}
	seenOK := map[string]bool{}
	seenBad := map[string]bool{}
	for _, r := range rows {
		for _, e := range r.SuccessfulElements {
			if !seenOK[e] {
				seenOK[e] = true
				out.Successful = append(out.Successful, e)
			}
		}
		for _, e := range r.FailedElements {
			if !seenBad[e] {
				seenBad[e] = true
				out.Failed = append(out.Failed, e)
			}
		}
	}
	return out, nil
}
