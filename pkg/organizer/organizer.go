// Package organizer places backend-produced artifacts into the project tree
// with metadata sidecars and a top-level index.
package organizer

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/renderloom/loom/pkg/catalog"
)

// fallbackProject receives outputs of jobs with no project.
const fallbackProject = "general"

// idRe validates project and job identifiers before they touch a path.
var idRe = regexp.MustCompile(`^[a-zA-Z0-9-]{1,50}$`)

// kindByExt classifies artifacts by extension.
var kindByExt = map[string]string{
	".png": "image", ".jpg": "image", ".jpeg": "image", ".webp": "image", ".tiff": "image",
	".mp4": "video", ".avi": "video", ".mov": "video", ".webm": "video",
	".gif": "gif",
}

// FileRecord is one entry of the top-level metadata index.
type FileRecord struct {
	JobID     string         `json:"job_id"`
	ProjectID string         `json:"project_id"`
	Kind      string         `json:"kind"`
	Source    string         `json:"source"`
	SizeBytes int64          `json:"size_bytes"`
	Params    map[string]any `json:"params,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CleanupResult summarizes one retention pass.
type CleanupResult struct {
	DeletedFiles int      `json:"deleted_files"`
	FreedBytes   int64    `json:"freed_bytes"`
	Errors       []string `json:"errors"`
}

// MigrationResult summarizes one legacy sweep.
type MigrationResult struct {
	MigratedFiles int      `json:"migrated_files"`
	SkippedFiles  int      `json:"skipped_files"`
	Errors        []string `json:"errors"`
}

// ProjectSummary describes one project's organized outputs.
type ProjectSummary struct {
	ProjectID  string         `json:"project_id"`
	JobCount   int            `json:"job_count"`
	FileCount  int            `json:"file_count"`
	TotalBytes int64          `json:"total_bytes"`
	ByKind     map[string]int `json:"by_kind"`
}

// Organizer moves artifacts into the organized tree.
type Organizer struct {
	root      string
	sourceDir string
	logger    *slog.Logger

	indexMu sync.Mutex

	jobMu    sync.Mutex
	jobLocks map[string]*sync.Mutex
}

// NewOrganizer creates an organizer. root is the organized tree; sourceDir is
// where the backend drops raw outputs.
func NewOrganizer(root, sourceDir string, logger *slog.Logger) *Organizer {
	return &Organizer{
		root:      root,
		sourceDir: sourceDir,
		logger:    logger,
		jobLocks:  map[string]*sync.Mutex{},
	}
}

// ValidateID reports whether a project or job id is safe to use in a path.
func ValidateID(id string) bool {
	if !idRe.MatchString(id) {
		return false
	}
	if strings.Contains(id, "..") || strings.Contains(id, "%") {
		return false
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// lockJob serializes organization per job id.
func (o *Organizer) lockJob(jobID string) func() {
	o.jobMu.Lock()
	lock, ok := o.jobLocks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		o.jobLocks[jobID] = lock
	}
	o.jobMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// OrganizeOutput moves a job's artifacts into the project tree and returns
// the organized absolute paths. When sourceFiles is empty, the backend
// output directory is scanned for files mentioning the job id.
func (o *Organizer) OrganizeOutput(jobID, projectID string, sourceFiles []string, params map[string]any) ([]string, error) {
	if !ValidateID(jobID) {
		return nil, catalog.NewValidationError("job_id", "invalid job id")
	}
	if projectID == "" {
		projectID = fallbackProject
	}
	if !ValidateID(projectID) {
		return nil, catalog.NewValidationError("project_id", "invalid project id")
	}

	unlock := o.lockJob(jobID)
	defer unlock()

	if len(sourceFiles) == 0 {
		sourceFiles = o.findJobOutputs(jobID)
	}
	if len(sourceFiles) == 0 {
		return nil, fmt.Errorf("%w: no output files for job %s", catalog.ErrNotFound, jobID)
	}

	destDir := filepath.Join(o.root, "projects", projectID, jobID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}

	var organized []string
	for _, src := range sourceFiles {
		if strings.Contains(src, "..") {
			o.logger.Warn("Skipping suspicious source path", "path", src)
			continue
		}
		ext := strings.ToLower(filepath.Ext(src))
		kind, ok := kindByExt[ext]
		if !ok {
			continue
		}
		ts := time.Now().UTC().Format("20060102_150405")
		destName := fmt.Sprintf("%s_%s_%s%s", jobID, ts, kind, ext)
		dest := filepath.Join(destDir, destName)
		if _, err := os.Stat(dest); err == nil {
			// Same second, same kind: disambiguate.
			destName = fmt.Sprintf("%s_%s_%s_%d%s", jobID, ts, kind, len(organized), ext)
			dest = filepath.Join(destDir, destName)
		}

		if err := moveFile(src, dest); err != nil {
			o.logger.Warn("Failed to move artifact", "src", src, "error", err)
			continue
		}
		organized = append(organized, dest)

		o.writeSidecar(dest, jobID, projectID, kind, params)
		o.updateIndex(dest, FileRecord{
			JobID:     jobID,
			ProjectID: projectID,
			Kind:      kind,
			Source:    src,
			SizeBytes: fileSize(dest),
			Params:    params,
			CreatedAt: time.Now().UTC(),
		})
	}

	if len(organized) == 0 {
		return nil, fmt.Errorf("%w: no organizable output files for job %s", catalog.ErrNotFound, jobID)
	}
	o.logger.Info("Job outputs organized", "job_id", jobID, "project_id", projectID, "files", len(organized))
	return organized, nil
}

// GetJobFiles lists a job's organized files. With projectID empty, all
// project directories are searched.
func (o *Organizer) GetJobFiles(jobID, projectID string) ([]string, error) {
	if !ValidateID(jobID) {
		return nil, catalog.NewValidationError("job_id", "invalid job id")
	}
	var projects []string
	if projectID != "" {
		if !ValidateID(projectID) {
			return nil, catalog.NewValidationError("project_id", "invalid project id")
		}
		projects = []string{projectID}
	} else {
		entries, err := os.ReadDir(filepath.Join(o.root, "projects"))
		if err != nil {
			return nil, nil
		}
		for _, e := range entries {
			if e.IsDir() {
				projects = append(projects, e.Name())
			}
		}
	}

	var files []string
	for _, pid := range projects {
		dir := filepath.Join(o.root, "projects", pid, jobID)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && !strings.HasSuffix(e.Name(), ".meta.json") {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
	}
	return files, nil
}

// CleanupOldFiles removes organized files older than the cutoff, then prunes
// empty job and project directories.
func (o *Organizer) CleanupOldFiles(days int) *CleanupResult {
	result := &CleanupResult{Errors: []string{}}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	projectsDir := filepath.Join(o.root, "projects")

	index := o.readIndex()
	changed := false

	filepath.Walk(projectsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		createdAt := info.ModTime()
		if rec, ok := index[path]; ok {
			createdAt = rec.CreatedAt
		}
		if !createdAt.Before(cutoff) {
			return nil
		}
		size := info.Size()
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, err.Error())
			return nil
		}
		if !strings.HasSuffix(path, ".meta.json") {
			result.DeletedFiles++
			result.FreedBytes += size
		}
		if _, ok := index[path]; ok {
			delete(index, path)
			changed = true
		}
		return nil
	})

	pruneEmptyDirs(projectsDir)
	if changed {
		o.writeIndex(index)
	}
	o.logger.Info("File cleanup completed",
		"deleted", result.DeletedFiles, "freed_bytes", result.FreedBytes)
	return result
}

// MigrateLegacyFiles sweeps loose files from the backend output directory
// into {root}/legacy.
func (o *Organizer) MigrateLegacyFiles() *MigrationResult {
	result := &MigrationResult{Errors: []string{}}
	entries, err := os.ReadDir(o.sourceDir)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	legacyDir := filepath.Join(o.root, "legacy")
	if err := os.MkdirAll(legacyDir, 0o755); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	for _, e := range entries {
		if e.IsDir() {
			result.SkippedFiles++
			continue
		}
		if _, ok := kindByExt[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
			result.SkippedFiles++
			continue
		}
		ts := time.Now().UTC().Format("20060102_150405")
		dest := filepath.Join(legacyDir, fmt.Sprintf("legacy_%s_%s", ts, e.Name()))
		if err := moveFile(filepath.Join(o.sourceDir, e.Name()), dest); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.MigratedFiles++
	}
	return result
}

// GetProjectSummary reports a project's organized footprint.
func (o *Organizer) GetProjectSummary(projectID string) (*ProjectSummary, error) {
	if !ValidateID(projectID) {
		return nil, catalog.NewValidationError("project_id", "invalid project id")
	}
	summary := &ProjectSummary{ProjectID: projectID, ByKind: map[string]int{}}
	projectDir := filepath.Join(o.root, "projects", projectID)

	jobs, err := os.ReadDir(projectDir)
	if err != nil {
		if os.IsNotExist(err) {
			return summary, nil
		}
		return nil, err
	}
	for _, jobEntry := range jobs {
		if !jobEntry.IsDir() {
			continue
		}
		summary.JobCount++
		files, err := os.ReadDir(filepath.Join(projectDir, jobEntry.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || strings.HasSuffix(f.Name(), ".meta.json") {
				continue
			}
			summary.FileCount++
			if info, err := f.Info(); err == nil {
				summary.TotalBytes += info.Size()
			}
			if kind, ok := kindByExt[strings.ToLower(filepath.Ext(f.Name()))]; ok {
				summary.ByKind[kind]++
			}
		}
	}
	return summary, nil
}

// findJobOutputs scans the backend output directory for files carrying the
// job id in their name.
func (o *Organizer) findJobOutputs(jobID string) []string {
	entries, err := os.ReadDir(o.sourceDir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.Contains(e.Name(), jobID) {
			files = append(files, filepath.Join(o.sourceDir, e.Name()))
		}
	}
	return files
}

func (o *Organizer) writeSidecar(dest, jobID, projectID, kind string, params map[string]any) {
	sidecar := map[string]any{
		"job_id":     jobID,
		"project_id": projectID,
		"kind":       kind,
		"params":     params,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(dest+".meta.json", data, 0o644); err != nil {
		o.logger.Warn("Failed to write metadata sidecar", "path", dest, "error", err)
	}
}

func (o *Organizer) indexPath() string {
	return filepath.Join(o.root, "file_metadata.json")
}

func (o *Organizer) readIndex() map[string]FileRecord {
	index := map[string]FileRecord{}
	data, err := os.ReadFile(o.indexPath())
	if err != nil {
		return index
	}
	if err := json.Unmarshal(data, &index); err != nil {
		o.logger.Warn("Metadata index unreadable, starting fresh", "error", err)
		return map[string]FileRecord{}
	}
	return index
}

func (o *Organizer) writeIndex(index map[string]FileRecord) {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return
	}
	tmp := o.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		o.logger.Warn("Failed to write metadata index", "error", err)
		return
	}
	if err := os.Rename(tmp, o.indexPath()); err != nil {
		o.logger.Warn("Failed to replace metadata index", "error", err)
	}
}

func (o *Organizer) updateIndex(path string, record FileRecord) {
	o.indexMu.Lock()
	defer o.indexMu.Unlock()
	index := o.readIndex()
	index[path] = record
	o.writeIndex(index)
}

// moveFile renames when possible and falls back to copy+remove across
// filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func pruneEmptyDirs(root string) {
	var dirs []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && info.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	// Deepest first so parents empty out as children go.
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i])
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
