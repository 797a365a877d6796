package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderloom/loom/pkg/config"
	"github.com/renderloom/loom/pkg/organizer"
)

type fakeJobPruner struct {
	mu        sync.Mutex
	calls     int
	olderThan time.Duration
	removed   int
}

func (f *fakeJobPruner) CleanupOldJobs(_ context.Context, olderThan time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.olderThan = olderThan
	return f.removed
}

func (f *fakeJobPruner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeFilePruner struct {
	mu    sync.Mutex
	days  int
	calls int
}

func (f *fakeFilePruner) CleanupOldFiles(days int) *organizer.CleanupResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.days = days
	return &organizer.CleanupResult{DeletedFiles: 2, FreedBytes: 4096, Errors: []string{}}
}

func TestSweepRunsBothPruners(t *testing.T) {
	jobs := &fakeJobPruner{removed: 3}
	files := &fakeFilePruner{}
	svc := NewService(&config.RetentionConfig{
		JobRetentionHours: 48,
		FileRetentionDays: 7,
		CleanupInterval:   time.Hour,
	}, jobs, files, slog.Default())

	svc.Sweep(context.Background())

	assert.Equal(t, 1, jobs.calls)
	assert.Equal(t, 48*time.Hour, jobs.olderThan)
	assert.Equal(t, 1, files.calls)
	assert.Equal(t, 7, files.days)
}

func TestSweepToleratesNilFilePruner(t *testing.T) {
	jobs := &fakeJobPruner{}
	svc := NewService(nil, jobs, nil, slog.Default())

	svc.Sweep(context.Background())

	assert.Equal(t, 1, jobs.calls)
	assert.Equal(t, 24*time.Hour, jobs.olderThan)
}

func TestServiceSweepsOnInterval(t *testing.T) {
	jobs := &fakeJobPruner{}
	svc := NewService(&config.RetentionConfig{
		JobRetentionHours: 1,
		FileRetentionDays: 1,
		CleanupInterval:   10 * time.Millisecond,
	}, jobs, nil, slog.Default())

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return jobs.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	svc := NewService(nil, &fakeJobPruner{}, nil, slog.Default())
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()
}
