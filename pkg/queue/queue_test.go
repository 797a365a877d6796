package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderloom/loom/pkg/backend"
	"github.com/renderloom/loom/pkg/catalog"
	"github.com/renderloom/loom/pkg/jobs"
	"github.com/renderloom/loom/pkg/quality"
	"github.com/renderloom/loom/pkg/resolver"
	"github.com/renderloom/loom/pkg/workflow"
)

var jobCols = []string{"id", "type", "prompt", "parameters", "status", "backend_id",
	"output_path", "organized_path", "error_message", "project_id", "character_id",
	"total_time", "created_at", "started_at", "completed_at"}

func newTestManager(t *testing.T) (*jobs.Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return jobs.NewManager(catalog.NewStore(sqlx.NewDb(db, "pgx")), slog.Default()), mock
}

func createJob(t *testing.T, m *jobs.Manager, mock sqlmock.Sqlmock, jobType catalog.JobType, params map[string]any) *catalog.Job {
	t.Helper()
	mock.ExpectQuery("INSERT INTO jobs").
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow("", "image", "a prompt", []byte("{}"), "queued",
				nil, nil, nil, nil, nil, nil, nil, time.Now().UTC(), nil, nil))
	job, err := m.CreateJob(context.Background(), jobType, "a neon street fight", params, nil, nil)
	require.NoError(t, err)
	return job
}

type fakePlanner struct {
	plan *resolver.Plan
	err  error
}

func (p *fakePlanner) Plan(context.Context, string) (*resolver.Plan, error) {
	return p.plan, p.err
}

type fakeSubmitter struct {
	mu       sync.Mutex
	graph    map[string]any
	promptID string
	err      error
}

func (s *fakeSubmitter) SubmitWorkflow(_ context.Context, graph map[string]any, _ string) (string, error) {
	s.mu.Lock()
	s.graph = graph
	s.mu.Unlock()
	return s.promptID, s.err
}

type fakeRegistrar struct {
	mu       sync.Mutex
	jobID    string
	promptID string
}

func (r *fakeRegistrar) Register(jobID, promptID string, _ catalog.JobType) {
	r.mu.Lock()
	r.jobID = jobID
	r.promptID = promptID
	r.mu.Unlock()
}

func testPlan() *resolver.Plan {
	return &resolver.Plan{
		Resources: &resolver.Resources{
			PositivePrompt: "masterpiece, a neon street fight",
			NegativePrompt: "lowres",
			Width:          1024, Height: 1024, Steps: 20, CfgScale: 7.0,
			Loras: []resolver.Lora{{Name: "kai.safetensors", Strength: 0.85, Trigger: "kai_character"}},
		},
	}
}

func TestProcessSubmitsAndRegisters(t *testing.T) {
	m, mock := newTestManager(t)
	job := createJob(t, m, mock, catalog.JobTypeImage, map[string]any{"width": 512.0, "height": 768.0})

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	claimed := m.ClaimNextQueued(context.Background())
	require.NotNil(t, claimed)

	submitter := &fakeSubmitter{promptID: "bp-1"}
	registrar := &fakeRegistrar{}
	pool := NewPool(m, &fakePlanner{plan: testPlan()}, submitter, registrar, 1, slog.Default())

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1)) // backend id
	require.NoError(t, pool.process(context.Background(), claimed))

	assert.Equal(t, job.ID, registrar.jobID)
	assert.Equal(t, "bp-1", registrar.promptID)

	got, err := m.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BackendID)
	assert.Equal(t, "bp-1", *got.BackendID)

	// Request parameters override plan defaults and snap to 64.
	submitter.mu.Lock()
	latent, ok := submitter.graph["5"].(workflow.Node)
	submitter.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 512, latent.Inputs["width"])
	assert.Equal(t, 768, latent.Inputs["height"])
}

func TestComposeGraphImageOverrides(t *testing.T) {
	job := &catalog.Job{
		Type:       catalog.JobTypeImage,
		Parameters: catalog.JSONMap{"width": 520.0, "height": 768.0, "seed": 42.0},
	}
	graph, err := composeGraph(job, testPlan())
	require.NoError(t, err)
	require.True(t, workflow.Validate(graph))

	latent := graph["5"].(workflow.Node)
	assert.Equal(t, 512, latent.Inputs["width"], "520 snaps down to 512")
	assert.Equal(t, 768, latent.Inputs["height"])

	sampler := graph["6"].(workflow.Node)
	assert.Equal(t, int64(42), sampler.Inputs["seed"])

	// The plan's LoRA is chained off the checkpoint loader.
	lora, ok := graph["101"].(workflow.Node)
	require.True(t, ok)
	assert.Equal(t, "kai.safetensors", lora.Inputs["lora_name"])
}

func TestComposeGraphVideoAndBatch(t *testing.T) {
	video := &catalog.Job{
		Type:       catalog.JobTypeVideo,
		Parameters: catalog.JSONMap{"duration": 2.0, "fps": 8.0},
	}
	g, err := composeGraph(video, testPlan())
	require.NoError(t, err)
	assert.NotEmpty(t, g)

	batch := &catalog.Job{
		Type:       catalog.JobTypeBatch,
		Parameters: catalog.JSONMap{"prompts": []any{"a", "b"}},
	}
	g, err = composeGraph(batch, testPlan())
	require.NoError(t, err)
	assert.NotEmpty(t, g)

	_, err = composeGraph(&catalog.Job{Type: catalog.JobType("audio")}, testPlan())
	assert.Error(t, err)
}

func TestProcessFailureMarksJobFailed(t *testing.T) {
	m, mock := newTestManager(t)
	job := createJob(t, m, mock, catalog.JobTypeImage, nil)

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	claimed := m.ClaimNextQueued(context.Background())
	require.NotNil(t, claimed)

	pool := NewPool(m, &fakePlanner{err: errors.New("catalog unavailable")},
		&fakeSubmitter{}, &fakeRegistrar{}, 1, slog.Default())

	err := pool.process(context.Background(), claimed)
	require.Error(t, err)

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, m.UpdateJobStatus(context.Background(), job.ID, catalog.JobFailed,
		map[string]any{"error_message": err.Error()}))

	got, err := m.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobFailed, got.Status)
}

func TestPoolDrainsQueue(t *testing.T) {
	m, mock := newTestManager(t)
	job := createJob(t, m, mock, catalog.JobTypeImage, nil)

	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))

	submitter := &fakeSubmitter{promptID: "bp-9"}
	registrar := &fakeRegistrar{}
	pool := NewPool(m, &fakePlanner{plan: testPlan()}, submitter, registrar, 1, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	assert.Eventually(t, func() bool {
		registrar.mu.Lock()
		defer registrar.mu.Unlock()
		return registrar.jobID == job.ID
	}, 3*time.Second, 20*time.Millisecond)
}

// --- pipeline ---

type fakeOrganizer struct {
	organized []string
	err       error
	sources   []string
}

func (o *fakeOrganizer) OrganizeOutput(_, _ string, sourceFiles []string, _ map[string]any) ([]string, error) {
	o.sources = sourceFiles
	return o.organized, o.err
}

type fakeGater struct {
	result *quality.ContractResult
}

func (g *fakeGater) Validate(context.Context, string, map[string]any, string) *quality.ContractResult {
	return g.result
}

type fakeFeedback struct {
	record *catalog.QualityFeedback
}

func (f *fakeFeedback) InsertQualityFeedback(_ context.Context, q *catalog.QualityFeedback) (*catalog.QualityFeedback, error) {
	f.record = q
	return q, nil
}

func passingResult() *quality.ContractResult {
	return &quality.ContractResult{
		Passed:          true,
		QualityScore:    0.8,
		StructuralGates: map[string]quality.Gate{"file_exists": {Passed: true, Value: 1, Threshold: 1}},
		MotionGates:     map[string]quality.Gate{},
		QualityGates:    map[string]quality.Gate{},
	}
}

func TestPipelineOnCompleted(t *testing.T) {
	m, mock := newTestManager(t)
	job := createJob(t, m, mock, catalog.JobTypeImage, nil)

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NotNil(t, m.ClaimNextQueued(context.Background()))

	organizer := &fakeOrganizer{organized: []string{"/organized/job/out.png"}}
	feedback := &fakeFeedback{}
	p := NewPipeline(m, organizer, &fakeGater{result: passingResult()}, feedback,
		"/raw-output", slog.Default())

	history := &backend.History{
		PromptID: "bp-1",
		Outputs: map[string][]backend.OutputImage{
			"8": {{Filename: "img_0001.png", Subfolder: "sub"}},
		},
	}

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	p.OnCompleted(job.ID, history)

	require.Len(t, organizer.sources, 1)
	assert.Equal(t, "/raw-output/sub/img_0001.png", organizer.sources[0])

	require.NotNil(t, feedback.record)
	assert.Equal(t, "bp-1", feedback.record.PromptID)
	assert.True(t, feedback.record.ContractPassed)
	require.NotNil(t, feedback.record.OutputPath)
	assert.Equal(t, "/organized/job/out.png", *feedback.record.OutputPath)

	got, err := m.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobCompleted, got.Status)
	require.NotNil(t, got.OrganizedPath)
	assert.Equal(t, "/organized/job/out.png", *got.OrganizedPath)
}

func TestPipelineOrganizeFailureFailsJob(t *testing.T) {
	m, mock := newTestManager(t)
	job := createJob(t, m, mock, catalog.JobTypeImage, nil)

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NotNil(t, m.ClaimNextQueued(context.Background()))

	p := NewPipeline(m, &fakeOrganizer{err: catalog.ErrNotFound},
		&fakeGater{result: passingResult()}, &fakeFeedback{}, "/raw", slog.Default())

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	p.OnCompleted(job.ID, &backend.History{PromptID: "bp-2"})

	got, err := m.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobFailed, got.Status)
}

func TestPipelineOnFailedAndTimeout(t *testing.T) {
	m, mock := newTestManager(t)
	failing := createJob(t, m, mock, catalog.JobTypeImage, nil)
	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NotNil(t, m.ClaimNextQueued(context.Background()))

	p := NewPipeline(m, &fakeOrganizer{}, &fakeGater{result: passingResult()},
		&fakeFeedback{}, "/raw", slog.Default())

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	p.OnFailed(failing.ID, "CUDA out of memory")
	got, err := m.GetJob(context.Background(), failing.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "CUDA out of memory", *got.ErrorMessage)

	timing := createJob(t, m, mock, catalog.JobTypeVideo, nil)
	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NotNil(t, m.ClaimNextQueued(context.Background()))

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	p.OnTimeout(timing.ID)
	got, err = m.GetJob(context.Background(), timing.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobTimeout, got.Status)
}
