// Package cleanup periodically evicts terminal jobs from the in-memory cache
// and prunes organized output files past their retention window.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/renderloom/loom/pkg/config"
	"github.com/renderloom/loom/pkg/organizer"
)

// JobPruner evicts terminal jobs older than the cutoff. Satisfied by
// *jobs.Manager.
type JobPruner interface {
	CleanupOldJobs(ctx context.Context, olderThan time.Duration) int
}

// FilePruner removes organized outputs older than the given number of days.
// Satisfied by *organizer.Organizer.
type FilePruner interface {
	CleanupOldFiles(days int) *organizer.CleanupResult
}

// Service runs both retention sweeps on a fixed interval.
type Service struct {
	cfg    *config.RetentionConfig
	jobs   JobPruner
	files  FilePruner
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates a cleanup service. files may be nil when no output
// directory is configured.
func NewService(cfg *config.RetentionConfig, jobs JobPruner, files FilePruner, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	return &Service{
		cfg:    cfg,
		jobs:   jobs,
		files:  files,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start launches the retention loop. The first sweep runs after one full
// interval, not at startup.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("Cleanup service started",
		"interval", s.cfg.CleanupInterval,
		"job_retention_hours", s.cfg.JobRetentionHours,
		"file_retention_days", s.cfg.FileRetentionDays)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass.
func (s *Service) Sweep(ctx context.Context) {
	retention := time.Duration(s.cfg.JobRetentionHours) * time.Hour
	removed := s.jobs.CleanupOldJobs(ctx, retention)
	if removed > 0 {
		s.logger.Info("Evicted terminal jobs", "count", removed)
	}

	if s.files == nil {
		return
	}
	report := s.files.CleanupOldFiles(s.cfg.FileRetentionDays)
	if report == nil {
		return
	}
	if report.DeletedFiles > 0 || len(report.Errors) > 0 {
		s.logger.Info("File retention sweep finished",
			"deleted_files", report.DeletedFiles,
			"freed_bytes", report.FreedBytes,
			"errors", len(report.Errors))
	}
}
