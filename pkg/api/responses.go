package api

import (
	"github.com/renderloom/loom/pkg/ambiguity"
)

// GenerateResponse is returned by POST /generate when a job was created.
type GenerateResponse struct {
	JobID         string  `json:"job_id"`
	Status        string  `json:"status"`
	QueuePosition int     `json:"queue_position"`
	EstimatedTime float64 `json:"estimated_time"`
	WebsocketURL  string  `json:"websocket_url"`
}

// ClarificationResponse is returned by POST /generate when a blocking
// ambiguity requires user input. No job is created.
type ClarificationResponse struct {
	Status         string                 `json:"status"`
	Message        string                 `json:"message"`
	BlockingIssues []ambiguity.Detection  `json:"blocking_issues"`
	Resolutions    []ambiguity.Resolution `json:"resolutions"`
}

// CancelResponse is returned by DELETE /jobs/{id}.
type CancelResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status           string `json:"status"`
	ModelPreloaded   bool   `json:"model_preloaded"`
	QueueSize        int    `json:"queue_size"`
	ActiveWebsockets int    `json:"active_websockets"`
	JobsInMemory     int    `json:"jobs_in_memory"`
}
