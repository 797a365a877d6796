package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/renderloom/loom/pkg/ambiguity"
	"github.com/renderloom/loom/pkg/catalog"
	"github.com/renderloom/loom/pkg/intent"
	"github.com/renderloom/loom/pkg/monitor"
)

// generateHandler handles POST /generate: validate, classify, resolve
// ambiguities, and enqueue a job. Blocking ambiguities return a clarification
// payload and create nothing.
func (s *Server) generateHandler(c *echo.Context) error {
	var req GenerateRequest
	if err := bindStrict(c, &req); err != nil {
		return err
	}

	prompt, err := validatePrompt(req.Prompt)
	if err != nil {
		return err
	}

	params := map[string]any{}
	if req.Width != nil {
		w, err := validateResolution("width", *req.Width)
		if err != nil {
			return err
		}
		params["width"] = w
	}
	if req.Height != nil {
		h, err := validateResolution("height", *req.Height)
		if err != nil {
			return err
		}
		params["height"] = h
	}
	if req.Duration != nil {
		params["duration"] = *req.Duration
	}
	if req.NegativePrompt != "" {
		params["negative_prompt"] = sanitizePrompt(req.NegativePrompt)
	}
	if req.StylePreset != "" {
		params["style_preset"] = req.StylePreset
	}

	var classification *intent.Classification
	if s.classifier != nil {
		classification = s.classifier.Classify(c.Request().Context(), prompt, c.RealIP())
	}

	result := ambiguity.Process(prompt, classification, nil)
	if len(result.BlockingIssues) > 0 {
		return c.JSON(http.StatusUnprocessableEntity, &ClarificationResponse{
			Status:         "clarification_required",
			Message:        "the request is ambiguous and needs user input",
			BlockingIssues: result.BlockingIssues,
			Resolutions:    result.Resolutions,
		})
	}
	applyResolutions(params, result)

	jobType := catalog.JobTypeImage
	if classification != nil {
		if classification.ContentType == intent.ContentVideo {
			jobType = catalog.JobTypeVideo
		}
		if classification.GenerationScope == intent.ScopeBatchGeneration {
			jobType = catalog.JobTypeBatch
		}
	}

	position := s.manager.QueueDepth()
	job, err := s.manager.CreateJob(c.Request().Context(), jobType, prompt, params, req.ProjectID, req.CharacterID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &GenerateResponse{
		JobID:         job.ID,
		Status:        string(job.Status),
		QueuePosition: position,
		EstimatedTime: estimateSeconds(jobType, position),
		WebsocketURL:  "/ws/" + job.ID,
	})
}

// applyResolutions folds automatic resolutions into the job parameters.
// Only literal values are applied; questions and plans never reach here on
// the non-blocking path that matters (duration defaults).
func applyResolutions(params map[string]any, result *ambiguity.Result) {
	for _, r := range result.Resolutions {
		if r.UserInteractionRequired {
			continue
		}
		if r.AmbiguityType == ambiguity.DurationMissing {
			if v, ok := numericValue(r.ResolvedValue); ok {
				if _, present := params["duration"]; !present {
					params["duration"] = int(v)
				}
			}
		}
	}
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// estimateSeconds is a queue-depth heuristic, not a promise.
func estimateSeconds(jobType catalog.JobType, position int) float64 {
	base := monitor.ImageWallClock.Seconds() / 4
	if jobType == catalog.JobTypeVideo {
		base = monitor.VideoWallClock.Seconds() / 4
	}
	return base * float64(position+1)
}

// getJobHandler handles GET /jobs/:id.
func (s *Server) getJobHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}
	job, err := s.manager.GetJob(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, job)
}

// listJobsHandler handles GET /jobs?limit&offset&status.
func (s *Server) listJobsHandler(c *echo.Context) error {
	limit, offset := 50, 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 100")
		}
		limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "offset must be non-negative")
		}
		offset = n
	}

	var status *catalog.JobStatus
	if v := c.QueryParam("status"); v != "" {
		st := catalog.JobStatus(v)
		switch st {
		case catalog.JobQueued, catalog.JobProcessing, catalog.JobCompleted,
			catalog.JobFailed, catalog.JobTimeout, catalog.JobCancelled:
			status = &st
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
	}

	list, err := s.store.ListJobs(c.Request().Context(), limit, offset, status)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"jobs":   list,
		"limit":  limit,
		"offset": offset,
	})
}

// cancelJobHandler handles DELETE /jobs/:id. The local transition is
// immediate; the backend interrupt is best-effort.
func (s *Server) cancelJobHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}

	var err error
	if s.connector != nil {
		err = s.manager.CancelJob(c.Request().Context(), id, s.connector.Interrupt)
	} else {
		err = s.manager.CancelJob(c.Request().Context(), id, nil)
	}
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{
		JobID:   id,
		Status:  string(catalog.JobCancelled),
		Message: "cancellation requested",
	})
}
