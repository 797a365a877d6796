// Package jobs owns the job state machine: an in-memory cache as the fast
// path, written through to the catalog store as the recovery path.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renderloom/loom/pkg/catalog"
)

// Statistics summarizes the cache contents.
type Statistics struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByType   map[string]int `json:"by_type"`
}

// Manager is the process-wide job registry.
type Manager struct {
	store  *catalog.Store
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*catalog.Job
}

// NewManager creates a job manager over the catalog store.
func NewManager(store *catalog.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		cache:  map[string]*catalog.Job{},
	}
}

// CreateJob builds a new queued job, caches it, and persists it.
func (m *Manager) CreateJob(ctx context.Context, jobType catalog.JobType, prompt string, parameters map[string]any, projectID *string, characterID *int64) (*catalog.Job, error) {
	job := &catalog.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Prompt:      prompt,
		Parameters:  parameters,
		Status:      catalog.JobQueued,
		ProjectID:   projectID,
		CharacterID: characterID,
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	m.mu.Lock()
	m.cache[job.ID] = job
	m.mu.Unlock()

	m.logger.Info("Job created", "job_id", job.ID, "type", jobType)
	return cloneJob(job), nil
}

// GetJob returns a job from the cache, falling back to the store for jobs
// created before this process started.
func (m *Manager) GetJob(ctx context.Context, id string) (*catalog.Job, error) {
	m.mu.RLock()
	job, ok := m.cache[id]
	m.mu.RUnlock()
	if ok {
		return cloneJob(job), nil
	}

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cache[id] = job
	m.mu.Unlock()
	return cloneJob(job), nil
}

// UpdateJobStatus applies one state-machine transition plus any extra
// fields. Illegal transitions are a Conflict. The in-memory change is the
// source of truth for readers; a failed write-through is logged, not rolled
// back.
func (m *Manager) UpdateJobStatus(ctx context.Context, id string, status catalog.JobStatus, fields map[string]any) error {
	m.mu.Lock()
	job, ok := m.cache[id]
	if !ok {
		m.mu.Unlock()
		stored, err := m.store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		m.mu.Lock()
		if cached, again := m.cache[id]; again {
			job = cached
		} else {
			m.cache[id] = stored
			job = stored
		}
	}

	if !job.Status.CanTransition(status) {
		current := job.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: job %s cannot move %s -> %s",
			catalog.ErrConflict, id, current, status)
	}

	if fields == nil {
		fields = map[string]any{}
	}
	now := time.Now().UTC()
	if job.Status == catalog.JobQueued && status == catalog.JobProcessing {
		job.StartedAt = &now
		fields["started_at"] = now
	}
	if status.Terminal() {
		job.CompletedAt = &now
		fields["completed_at"] = now
		if job.StartedAt != nil {
			total := now.Sub(*job.StartedAt).Seconds()
			job.TotalTime = &total
			fields["total_time"] = total
		}
	}
	job.Status = status
	applyFields(job, fields)
	m.mu.Unlock()

	if err := m.store.UpdateJobStatus(ctx, id, status, fields); err != nil {
		m.logger.Warn("Job write-through failed, cache retains the change",
			"job_id", id, "status", status, "error", err)
	}

	m.logger.Info("Job status updated", "job_id", id, "status", status)
	return nil
}

// ListJobs returns cached jobs newest-first, optionally filtered by status.
func (m *Manager) ListJobs(status *catalog.JobStatus, limit int) []*catalog.Job {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	m.mu.RLock()
	jobs := make([]*catalog.Job, 0, len(m.cache))
	for _, job := range m.cache {
		if status != nil && job.Status != *status {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}
	m.mu.RUnlock()

	sortJobsNewestFirst(jobs)
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// NextQueued returns the oldest queued job, or nil.
func (m *Manager) NextQueued() *catalog.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var oldest *catalog.Job
	for _, job := range m.cache {
		if job.Status != catalog.JobQueued {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	return cloneJob(oldest)
}

// ClaimNextQueued atomically moves the oldest queued job to processing and
// returns it. Exactly one worker wins a given job.
func (m *Manager) ClaimNextQueued(ctx context.Context) *catalog.Job {
	m.mu.Lock()
	var oldest *catalog.Job
	for _, job := range m.cache {
		if job.Status != catalog.JobQueued {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		m.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	oldest.Status = catalog.JobProcessing
	oldest.StartedAt = &now
	claimed := cloneJob(oldest)
	m.mu.Unlock()

	if err := m.store.UpdateJobStatus(ctx, claimed.ID, catalog.JobProcessing,
		map[string]any{"started_at": now}); err != nil {
		m.logger.Warn("Job claim write-through failed, cache retains the change",
			"job_id", claimed.ID, "error", err)
	}
	return claimed
}

// AttachBackend records the backend prompt id on a processing job.
func (m *Manager) AttachBackend(ctx context.Context, id, backendID string) error {
	m.mu.Lock()
	job, ok := m.cache[id]
	if !ok {
		m.mu.Unlock()
		return catalog.ErrNotFound
	}
	job.BackendID = &backendID
	m.mu.Unlock()

	if err := m.store.UpdateJobStatus(ctx, id, catalog.JobProcessing,
		map[string]any{"backend_id": backendID}); err != nil {
		m.logger.Warn("Backend id write-through failed",
			"job_id", id, "error", err)
	}
	return nil
}

// QueueDepth counts queued jobs.
func (m *Manager) QueueDepth() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, job := range m.cache {
		if job.Status == catalog.JobQueued {
			n++
		}
	}
	return n
}

// CleanupOldJobs evicts terminal jobs older than the cutoff from cache and
// store. Returns how many were removed from the cache.
func (m *Manager) CleanupOldJobs(ctx context.Context, olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)

	m.mu.Lock()
	removed := 0
	for id, job := range m.cache {
		if job.Status.Terminal() && job.CreatedAt.Before(cutoff) {
			delete(m.cache, id)
			removed++
		}
	}
	m.mu.Unlock()

	if _, err := m.store.DeleteJobsOlderThan(ctx, cutoff); err != nil {
		m.logger.Warn("Stored job cleanup failed", "error", err)
	}
	if removed > 0 {
		m.logger.Info("Old jobs cleaned up", "removed", removed)
	}
	return removed
}

// Statistics summarizes the cache by status and type.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Statistics{
		Total:    len(m.cache),
		ByStatus: map[string]int{},
		ByType:   map[string]int{},
	}
	for _, job := range m.cache {
		stats.ByStatus[string(job.Status)]++
		stats.ByType[string(job.Type)]++
	}
	return stats
}

// CancelJob cancels a job: the local transition happens immediately, the
// backend interrupt is best-effort.
func (m *Manager) CancelJob(ctx context.Context, id string, interrupt func(context.Context) bool) error {
	err := m.UpdateJobStatus(ctx, id, catalog.JobCancelled, map[string]any{
		"error_message": "Cancelled by user",
	})
	if err != nil {
		return err
	}
	if interrupt != nil && !interrupt(ctx) {
		m.logger.Warn("Backend interrupt failed, generation may finish anyway", "job_id", id)
	}
	return nil
}

func applyFields(job *catalog.Job, fields map[string]any) {
	for name, value := range fields {
		switch name {
		case "backend_id":
			if s, ok := value.(string); ok {
				job.BackendID = &s
			}
		case "output_path":
			if s, ok := value.(string); ok {
				job.OutputPath = &s
			}
		case "organized_path":
			if s, ok := value.(string); ok {
				job.OrganizedPath = &s
			}
		case "error_message":
			if s, ok := value.(string); ok {
				job.ErrorMessage = &s
			}
		}
	}
}

func cloneJob(job *catalog.Job) *catalog.Job {
	if job == nil {
		return nil
	}
	copied := *job
	// Parameters must not alias the cached map: callers mutate their snapshot
	// while the manager holds the original under lock.
	if job.Parameters != nil {
		copied.Parameters = make(catalog.JSONMap, len(job.Parameters))
		for k, v := range job.Parameters {
			copied.Parameters[k] = v
		}
	}
	return &copied
}

func sortJobsNewestFirst(jobs []*catalog.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
