// Package queue drains queued generation jobs through resolution, workflow
// composition, and backend submission, then finalizes them when the status
// monitor reports a terminal outcome.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/renderloom/loom/pkg/backend"
	"github.com/renderloom/loom/pkg/catalog"
	"github.com/renderloom/loom/pkg/jobs"
	"github.com/renderloom/loom/pkg/monitor"
	"github.com/renderloom/loom/pkg/resolver"
	"github.com/renderloom/loom/pkg/workflow"
)

// DefaultWorkers is the pool size when config does not say otherwise.
const DefaultWorkers = 3

// pollInterval is how long an idle worker sleeps between queue checks.
const pollInterval = 500 * time.Millisecond

// Planner resolves a prompt into concrete resources. Satisfied by
// *resolver.Resolver.
type Planner interface {
	Plan(ctx context.Context, userPrompt string) (*resolver.Plan, error)
}

// Submitter is the slice of the backend connector the pool needs.
type Submitter interface {
	SubmitWorkflow(ctx context.Context, graph map[string]any, clientID string) (string, error)
}

// Registrar hands submitted jobs to the status monitor.
type Registrar interface {
	Register(jobID, backendPromptID string, jobType catalog.JobType)
}

// Pool is a fixed set of workers draining the job queue.
type Pool struct {
	manager   *jobs.Manager
	planner   Planner
	submitter Submitter
	registrar Registrar
	logger    *slog.Logger
	workers   int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a worker pool. workers <= 0 falls back to DefaultWorkers.
func NewPool(manager *jobs.Manager, planner Planner, submitter Submitter, registrar Registrar, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		manager:   manager,
		planner:   planner,
		submitter: submitter,
		registrar: registrar,
		logger:    logger,
		workers:   workers,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the workers. They run until Stop or context cancellation.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("Worker pool started", "workers", p.workers)
}

// Stop halts the workers and waits for in-flight submissions to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		job := p.manager.ClaimNextQueued(ctx)
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		if err := p.process(ctx, job); err != nil {
			p.logger.Error("Job submission failed",
				"worker", id, "job_id", job.ID, "error", err)
			if ferr := p.manager.UpdateJobStatus(ctx, job.ID, catalog.JobFailed,
				map[string]any{"error_message": err.Error()}); ferr != nil {
				p.logger.Warn("Failed to mark job failed",
					"job_id", job.ID, "error", ferr)
			}
		}
	}
}

// process resolves, composes, and submits one claimed job, then registers it
// with the status monitor. Completion is handled asynchronously.
func (p *Pool) process(ctx context.Context, job *catalog.Job) error {
	plan, err := p.planner.Plan(ctx, job.Prompt)
	if err != nil {
		return fmt.Errorf("resource resolution failed: %w", err)
	}

	graph, err := composeGraph(job, plan)
	if err != nil {
		return err
	}
	if !workflow.Validate(graph) {
		return fmt.Errorf("composed workflow is structurally invalid")
	}

	promptID, err := p.submitter.SubmitWorkflow(ctx, graph, job.ID)
	if err != nil {
		return fmt.Errorf("backend submission failed: %w", err)
	}
	if promptID == "" {
		return fmt.Errorf("backend accepted the workflow but returned no prompt id")
	}

	if err := p.manager.AttachBackend(ctx, job.ID, promptID); err != nil {
		p.logger.Warn("Failed to record backend id", "job_id", job.ID, "error", err)
	}
	p.registrar.Register(job.ID, promptID, job.Type)

	p.logger.Info("Job submitted to backend",
		"job_id", job.ID, "prompt_id", promptID, "type", job.Type)
	return nil
}

// composeGraph builds the backend graph for a job from the resolved plan,
// with request parameters overriding plan defaults.
func composeGraph(job *catalog.Job, plan *resolver.Plan) (workflow.Graph, error) {
	res := plan.Resources
	loras := make([]workflow.LoraSpec, 0, len(res.Loras))
	for _, l := range res.Loras {
		loras = append(loras, workflow.LoraSpec{
			Name: l.Name, Strength: l.Strength, Trigger: l.Trigger,
		})
	}

	width := workflow.SnapResolution(intParam(job.Parameters, "width", res.Width))
	height := workflow.SnapResolution(intParam(job.Parameters, "height", res.Height))
	steps := intParam(job.Parameters, "steps", res.Steps)

	switch job.Type {
	case catalog.JobTypeImage:
		params := workflow.ImageParams{
			Prompt:         res.PositivePrompt,
			NegativePrompt: res.NegativePrompt,
			Width:          width,
			Height:         height,
			Steps:          steps,
			Cfg:            res.CfgScale,
			Checkpoint:     res.Checkpoint,
			Loras:          loras,
		}
		if seed, ok := job.Parameters["seed"]; ok {
			if v := int64Value(seed); v >= 0 {
				params.Seed = &v
			}
		}
		return workflow.BuildImageWorkflow(params), nil

	case catalog.JobTypeVideo:
		return workflow.BuildVideoWorkflow(workflow.VideoParams{
			Prompt:          res.PositivePrompt,
			NegativePrompt:  res.NegativePrompt,
			DurationSeconds: intParam(job.Parameters, "duration", 0),
			FPS:             intParam(job.Parameters, "fps", 0),
			Width:           width,
			Height:          height,
			Steps:           steps,
			Cfg:             res.CfgScale,
			Checkpoint:      res.Checkpoint,
			Loras:           loras,
		}), nil

	case catalog.JobTypeBatch:
		prompts := stringSliceParam(job.Parameters, "prompts")
		if len(prompts) == 0 {
			prompts = []string{res.PositivePrompt}
		}
		return workflow.BuildBatchWorkflow(prompts, width, height, steps), nil
	}
	return nil, fmt.Errorf("unknown job type %q", job.Type)
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}

func int64Value(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return -1
}

func stringSliceParam(params map[string]any, key string) []string {
	raw, ok := params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Ensure the concrete backend connector satisfies Submitter.
var _ Submitter = (*backend.Connector)(nil)

// Ensure the concrete monitor satisfies Registrar.
var _ Registrar = (*monitor.Monitor)(nil)
