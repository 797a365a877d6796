package queue

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/renderloom/loom/pkg/backend"
	"github.com/renderloom/loom/pkg/catalog"
	"github.com/renderloom/loom/pkg/jobs"
	"github.com/renderloom/loom/pkg/quality"
)

// finalizeTimeout bounds one completion pipeline run: file moves, probe and
// frame analysis, feedback insert.
const finalizeTimeout = 2 * time.Minute

// Organizer is the slice of the file organizer the pipeline needs.
type Organizer interface {
	OrganizeOutput(jobID, projectID string, sourceFiles []string, params map[string]any) ([]string, error)
}

// Gater validates one artifact against the generation contract.
type Gater interface {
	Validate(ctx context.Context, filePath string, params map[string]any, expectedType string) *quality.ContractResult
}

// FeedbackStore persists quality feedback rows.
type FeedbackStore interface {
	InsertQualityFeedback(ctx context.Context, q *catalog.QualityFeedback) (*catalog.QualityFeedback, error)
}

// Pipeline finalizes jobs the status monitor reports as terminal: organize
// outputs, run the quality gate, record feedback, and transition the job.
// It implements monitor.Finalizer.
type Pipeline struct {
	manager   *jobs.Manager
	organizer Organizer
	gater     Gater
	feedback  FeedbackStore
	outputDir string
	logger    *slog.Logger
}

// NewPipeline wires the completion path. outputDir is where the backend
// writes raw artifacts.
func NewPipeline(manager *jobs.Manager, organizer Organizer, gater Gater, feedback FeedbackStore, outputDir string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		manager:   manager,
		organizer: organizer,
		gater:     gater,
		feedback:  feedback,
		outputDir: outputDir,
		logger:    logger,
	}
}

// OnCompleted organizes the backend's outputs, gates them, records quality
// feedback, and completes the job. A gate failure is recorded, not fatal:
// the artifact exists and the feedback loop owns the judgement.
func (p *Pipeline) OnCompleted(jobID string, history *backend.History) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	job, err := p.manager.GetJob(ctx, jobID)
	if err != nil {
		p.logger.Error("Completed job not found", "job_id", jobID, "error", err)
		return
	}

	sources := make([]string, 0, len(history.OutputFiles()))
	for _, f := range history.OutputFiles() {
		sources = append(sources, filepath.Join(p.outputDir, f.Subfolder, f.Filename))
	}

	projectID := ""
	if job.ProjectID != nil {
		projectID = *job.ProjectID
	}
	organized, err := p.organizer.OrganizeOutput(jobID, projectID, sources, job.Parameters)
	if err != nil {
		p.fail(ctx, jobID, "output organization failed: "+err.Error())
		return
	}
	if len(organized) == 0 {
		p.fail(ctx, jobID, "backend reported completion but produced no output files")
		return
	}

	fields := map[string]any{"organized_path": organized[0]}
	if len(sources) > 0 {
		fields["output_path"] = sources[0]
	}

	result := p.gater.Validate(ctx, organized[0], job.Parameters, expectedType(job.Type))
	p.recordFeedback(ctx, job, history, organized[0], result)

	if err := p.manager.UpdateJobStatus(ctx, jobID, catalog.JobCompleted, fields); err != nil {
		p.logger.Warn("Completion transition rejected", "job_id", jobID, "error", err)
		return
	}
	p.logger.Info("Job finalized",
		"job_id", jobID, "organized", organized[0],
		"gate_passed", result.Passed, "quality_score", result.QualityScore)
}

// OnFailed transitions the job to failed with the backend's error message.
func (p *Pipeline) OnFailed(jobID, errorMessage string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	p.fail(ctx, jobID, errorMessage)
}

// OnTimeout transitions the job to timeout.
func (p *Pipeline) OnTimeout(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := p.manager.UpdateJobStatus(ctx, jobID, catalog.JobTimeout, map[string]any{
		"error_message": "generation exceeded wall-clock bound",
	}); err != nil {
		p.logger.Warn("Timeout transition rejected", "job_id", jobID, "error", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, jobID, message string) {
	if err := p.manager.UpdateJobStatus(ctx, jobID, catalog.JobFailed, map[string]any{
		"error_message": message,
	}); err != nil {
		p.logger.Warn("Failure transition rejected", "job_id", jobID, "error", err)
	}
}

func (p *Pipeline) recordFeedback(ctx context.Context, job *catalog.Job, history *backend.History, outputPath string, result *quality.ContractResult) {
	if p.feedback == nil {
		return
	}
	jobID := job.ID
	record := &catalog.QualityFeedback{
		JobID:           &jobID,
		PromptID:        history.PromptID,
		ProjectID:       job.ProjectID,
		Parameters:      job.Parameters,
		ContractPassed:  result.Passed,
		QualityScore:    result.QualityScore,
		StructuralGates: gatesToMap(result.StructuralGates),
		MotionGates:     gatesToMap(result.MotionGates),
		QualityGates:    gatesToMap(result.QualityGates),
		FrameSamples:    result.FrameSamples,
		Recommendations: result.Recommendations,
		OutputPath:      &outputPath,
	}
	if _, err := p.feedback.InsertQualityFeedback(ctx, record); err != nil {
		p.logger.Warn("Quality feedback insert failed",
			"job_id", job.ID, "error", err)
	}
}

func gatesToMap(gates map[string]quality.Gate) catalog.JSONMap {
	out := catalog.JSONMap{}
	for name, gate := range gates {
		out[name] = map[string]any{
			"passed":    gate.Passed,
			"value":     gate.Value,
			"threshold": gate.Threshold,
			"details":   gate.Details,
		}
	}
	return out
}

func expectedType(t catalog.JobType) string {
	switch t {
	case catalog.JobTypeVideo:
		return quality.TypeVideo
	case catalog.JobTypeImage, catalog.JobTypeBatch:
		return quality.TypeImage
	}
	return quality.TypeAuto
}
