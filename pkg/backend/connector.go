// Package backend is the connector to the node-graph generative service. It
// submits workflow graphs, polls execution history, and extracts output
// filenames. History responses the connector cannot parse yield nil results
// rather than errors so the monitor keeps polling.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Call timeouts. Submission carries the whole graph; history polls are tiny
// and frequent.
const (
	SubmitTimeout  = 30 * time.Second
	HistoryTimeout = 5 * time.Second
	HealthTimeout  = 5 * time.Second
)

// QueueStatus is the backend's current load.
type QueueStatus struct {
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// OutputImage is one produced artifact reference inside a history record.
type OutputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
}

// History is the parsed execution record for one prompt.
type History struct {
	PromptID string
	Status   string
	// Outputs maps node id to that node's produced images.
	Outputs map[string][]OutputImage
	Error   string
}

// Completed reports whether the backend finished this prompt, successfully
// or not.
func (h *History) Completed() bool {
	return h != nil && (h.Status == "success" || h.Status == "error" || len(h.Outputs) > 0)
}

// OutputFiles flattens every produced filename across all output nodes.
func (h *History) OutputFiles() []OutputImage {
	if h == nil {
		return nil
	}
	var files []OutputImage
	for _, images := range h.Outputs {
		files = append(files, images...)
	}
	return files
}

// Connector is the backend client.
type Connector struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewConnector creates a connector for the given backend base URL.
func NewConnector(baseURL string, logger *slog.Logger) *Connector {
	return &Connector{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// SubmitWorkflow posts a graph for execution and returns the backend prompt
// id, or "" when the backend accepted the request but returned nothing
// usable.
func (c *Connector) SubmitWorkflow(ctx context.Context, graph map[string]any, clientID string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": clientID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode workflow: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, SubmitTimeout)
	defer cancel()

	var raw []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/prompt", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("backend returned status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("backend rejected workflow: status %d: %s",
				resp.StatusCode, strings.TrimSpace(string(raw))))
		}
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return "", fmt.Errorf("workflow submission failed: %w", err)
	}

	var parsed struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.logger.Warn("Backend submit response was not parseable", "error", err)
		return "", nil
	}
	return parsed.PromptID, nil
}

// GetQueueStatus returns the backend's running and pending counts.
func (c *Connector) GetQueueStatus(ctx context.Context) (*QueueStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, HistoryTimeout)
	defer cancel()

	raw, err := c.get(ctx, "/queue")
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Running []any `json:"queue_running"`
		Pending []any `json:"queue_pending"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil
	}
	return &QueueStatus{Running: len(parsed.Running), Pending: len(parsed.Pending)}, nil
}

// GetHistory fetches the execution record for one prompt. A nil result with
// nil error means the backend has nothing for this prompt yet, or returned
// something unparseable.
func (c *Connector) GetHistory(ctx context.Context, promptID string) (*History, error) {
	ctx, cancel := context.WithTimeout(ctx, HistoryTimeout)
	defer cancel()

	raw, err := c.get(ctx, "/history/"+promptID)
	if err != nil {
		return nil, err
	}
	return parseHistory(promptID, raw), nil
}

// Interrupt asks the backend to stop the currently running generation.
// Best-effort: the backend may have already moved on.
func (c *Connector) Interrupt(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HistoryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interrupt", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Backend interrupt failed", "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

// CheckHealth reports whether the backend answers its stats endpoint.
func (c *Connector) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	_, err := c.get(ctx, "/system_stats")
	return err == nil
}

func (c *Connector) get(ctx context.Context, path string) ([]byte, error) {
	var raw []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err = io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("backend returned status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("backend returned status %d", resp.StatusCode))
		}
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	return raw, nil
}

// retryPolicy mirrors the catalog store's failure contract.
func retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.Multiplier = 2
	policy.MaxInterval = 5 * time.Second
	policy.RandomizationFactor = 0
	return backoff.WithContext(backoff.WithMaxRetries(policy, 4), ctx)
}

// parseHistory digs the status and outputs out of the backend's nested
// history document. Anything unexpected yields nil.
func parseHistory(promptID string, raw []byte) *History {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	record, ok := doc[promptID]
	if !ok {
		return nil
	}

	var parsed struct {
		Status struct {
			StatusStr string `json:"status_str"`
			Completed bool   `json:"completed"`
			Messages  []any  `json:"messages"`
		} `json:"status"`
		Outputs map[string]struct {
			Images []OutputImage `json:"images"`
			Gifs   []OutputImage `json:"gifs"`
		} `json:"outputs"`
	}
	if err := json.Unmarshal(record, &parsed); err != nil {
		return nil
	}

	h := &History{PromptID: promptID, Outputs: map[string][]OutputImage{}}
	switch {
	case parsed.Status.StatusStr != "":
		h.Status = parsed.Status.StatusStr
	case parsed.Status.Completed:
		h.Status = "success"
	}
	for nodeID, node := range parsed.Outputs {
		images := append(node.Images, node.Gifs...)
		if len(images) > 0 {
			h.Outputs[nodeID] = images
		}
	}
	if h.Status == "error" {
		h.Error = extractErrorMessage(parsed.Status.Messages)
	}
	return h
}

// extractErrorMessage walks the backend's message tuples looking for an
// execution error detail.
func extractErrorMessage(messages []any) string {
	for _, msg := range messages {
		tuple, ok := msg.([]any)
		if !ok || len(tuple) < 2 {
			continue
		}
		kind, _ := tuple[0].(string)
		if kind != "execution_error" {
			continue
		}
		if detail, ok := tuple[1].(map[string]any); ok {
			if s, ok := detail["exception_message"].(string); ok {
				return s
			}
		}
	}
	return "backend reported an execution error"
}
