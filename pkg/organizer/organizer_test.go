package organizer

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderloom/loom/pkg/catalog"
)

func newTestOrganizer(t *testing.T) (*Organizer, string, string) {
	t.Helper()
	root := t.TempDir()
	source := t.TempDir()
	return NewOrganizer(root, source, slog.Default()), root, source
}

func writeOutput(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("artifact-bytes"), 0o644))
	return path
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"job-123", true},
		{"Project-A", true},
		{"a", true},
		{"", false},
		{"has space", false},
		{"slug'; DROP TABLE x", false},
		{"../../etc", false},
		{"with%2e%2e", false},
		{"under_score", false},
		{string(make([]byte, 51)), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidateID(tt.id), "id %q", tt.id)
	}
}

func TestOrganizeOutputLayout(t *testing.T) {
	o, root, source := newTestOrganizer(t)
	src := writeOutput(t, source, "raw_0001.png")

	organized, err := o.OrganizeOutput("job-1", "proj-a", []string{src}, map[string]any{"seed": 7})
	require.NoError(t, err)
	require.Len(t, organized, 1)

	dest := organized[0]
	assert.Equal(t, filepath.Join(root, "projects", "proj-a", "job-1"), filepath.Dir(dest))
	assert.Contains(t, filepath.Base(dest), "job-1_")
	assert.Contains(t, filepath.Base(dest), "_image")
	assert.FileExists(t, dest)
	assert.NoFileExists(t, src, "source must be moved, not copied")

	// Sidecar carries the generation params.
	raw, err := os.ReadFile(dest + ".meta.json")
	require.NoError(t, err)
	var sidecar map[string]any
	require.NoError(t, json.Unmarshal(raw, &sidecar))
	assert.Equal(t, "job-1", sidecar["job_id"])
	assert.EqualValues(t, 7, sidecar["params"].(map[string]any)["seed"])

	// Top-level index has exactly one entry keyed by the organized path.
	raw, err = os.ReadFile(filepath.Join(root, "file_metadata.json"))
	require.NoError(t, err)
	var index map[string]FileRecord
	require.NoError(t, json.Unmarshal(raw, &index))
	require.Len(t, index, 1)
	assert.Equal(t, "proj-a", index[dest].ProjectID)
}

func TestOrganizeOutputFallbackProject(t *testing.T) {
	o, root, source := newTestOrganizer(t)
	src := writeOutput(t, source, "raw.mp4")

	organized, err := o.OrganizeOutput("job-2", "", []string{src}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "projects", "general", "job-2"), filepath.Dir(organized[0]))
	assert.Contains(t, filepath.Base(organized[0]), "_video")
}

func TestOrganizeOutputRejectsBadIDs(t *testing.T) {
	o, _, source := newTestOrganizer(t)
	src := writeOutput(t, source, "raw.png")

	_, err := o.OrganizeOutput("../evil", "proj", []string{src}, nil)
	assert.True(t, catalog.IsValidationError(err))

	_, err = o.OrganizeOutput("job-1", "proj/../other", []string{src}, nil)
	assert.True(t, catalog.IsValidationError(err))
}

func TestOrganizeOutputScansSourceDir(t *testing.T) {
	o, _, source := newTestOrganizer(t)
	writeOutput(t, source, "job-3_out.png")
	writeOutput(t, source, "unrelated.png")

	organized, err := o.OrganizeOutput("job-3", "proj-a", nil, nil)
	require.NoError(t, err)
	assert.Len(t, organized, 1)
}

func TestOrganizeOutputNoFiles(t *testing.T) {
	o, _, _ := newTestOrganizer(t)
	_, err := o.OrganizeOutput("job-4", "proj-a", nil, nil)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestGetJobFilesExcludesSidecars(t *testing.T) {
	o, _, source := newTestOrganizer(t)
	src := writeOutput(t, source, "raw.png")
	_, err := o.OrganizeOutput("job-5", "proj-a", []string{src}, nil)
	require.NoError(t, err)

	files, err := o.GetJobFiles("job-5", "proj-a")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.NotContains(t, files[0], ".meta.json")

	// Project-wide search finds the same file.
	files, err = o.GetJobFiles("job-5", "")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestCleanupOldFilesPrunesEmptyDirs(t *testing.T) {
	o, root, source := newTestOrganizer(t)
	src := writeOutput(t, source, "raw.png")
	organized, err := o.OrganizeOutput("job-6", "proj-a", []string{src}, nil)
	require.NoError(t, err)

	// Backdate the file so a 1-day cutoff catches it.
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(organized[0], old, old))
	require.NoError(t, os.Chtimes(organized[0]+".meta.json", old, old))
	// The index records CreatedAt=now; rewrite it to the past.
	index := o.readIndex()
	for k, rec := range index {
		rec.CreatedAt = old
		index[k] = rec
	}
	o.writeIndex(index)

	result := o.CleanupOldFiles(1)
	assert.Equal(t, 1, result.DeletedFiles)
	assert.Positive(t, result.FreedBytes)
	assert.NoDirExists(t, filepath.Join(root, "projects", "proj-a", "job-6"))
}

func TestMigrateLegacyFiles(t *testing.T) {
	o, root, source := newTestOrganizer(t)
	writeOutput(t, source, "stray.png")
	writeOutput(t, source, "notes.txt")

	result := o.MigrateLegacyFiles()
	assert.Equal(t, 1, result.MigratedFiles)
	assert.Equal(t, 1, result.SkippedFiles)

	entries, err := os.ReadDir(filepath.Join(root, "legacy"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "legacy_")
	assert.Contains(t, entries[0].Name(), "stray.png")
}

func TestGetProjectSummary(t *testing.T) {
	o, _, source := newTestOrganizer(t)
	src1 := writeOutput(t, source, "a.png")
	src2 := writeOutput(t, source, "b.mp4")
	_, err := o.OrganizeOutput("job-7", "proj-a", []string{src1}, nil)
	require.NoError(t, err)
	_, err = o.OrganizeOutput("job-8", "proj-a", []string{src2}, nil)
	require.NoError(t, err)

	summary, err := o.GetProjectSummary("proj-a")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.JobCount)
	assert.Equal(t, 2, summary.FileCount)
	assert.Equal(t, 1, summary.ByKind["image"])
	assert.Equal(t, 1, summary.ByKind["video"])
	assert.Positive(t, summary.TotalBytes)

	empty, err := o.GetProjectSummary("proj-missing")
	require.NoError(t, err)
	assert.Zero(t, empty.JobCount)
}
