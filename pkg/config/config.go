// Package config loads orchestrator configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top-level configuration for the orchestrator process.
// Loaded once at startup and passed to components by dependency injection.
type Config struct {
	// HTTPPort is the port the API server listens on.
	HTTPPort string

	// DatabaseURL is the Postgres DSN. Critical — startup fails without it.
	DatabaseURL string

	// BackendURL is the base URL of the generative backend (ComfyUI-style).
	// Critical — startup fails without it.
	BackendURL string

	// LLMURL is the base URL of the LLM collaborator service.
	LLMURL string

	// IndexURL is the base URL of the vector index (Qdrant-compatible).
	IndexURL string

	// OutputDir is where the backend writes raw outputs.
	OutputDir string

	// OrganizedDir is the root of the organized project tree.
	OrganizedDir string

	// CheckpointDir holds checkpoint model files.
	CheckpointDir string

	// LoraDir holds LoRA weight files.
	LoraDir string

	// WorkflowDir holds workflow template files.
	WorkflowDir string

	Queue *QueueConfig

	Retention *RetentionConfig
}

// QueueConfig controls the generation worker pool.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines draining the job queue.
	WorkerCount int

	// PollInterval is the base interval for checking queued jobs.
	PollInterval time.Duration

	// SubmitTimeout bounds a single workflow submission to the backend.
	SubmitTimeout time.Duration

	// ImageTimeout is the wall-clock bound for monitoring an image job.
	ImageTimeout time.Duration

	// VideoTimeout is the wall-clock bound for monitoring a video job.
	VideoTimeout time.Duration

	// GracefulShutdownTimeout is the max wait for active jobs during shutdown.
	GracefulShutdownTimeout time.Duration
}

// RetentionConfig controls the cleanup service.
type RetentionConfig struct {
	// JobRetentionHours is how long terminal jobs are kept before cleanup.
	JobRetentionHours int

	// FileRetentionDays is how long organized files are kept.
	FileRetentionDays int

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             3,
		PollInterval:            time.Second,
		SubmitTimeout:           30 * time.Second,
		ImageTimeout:            120 * time.Second,
		VideoTimeout:            300 * time.Second,
		GracefulShutdownTimeout: 60 * time.Second,
	}
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		JobRetentionHours: 24,
		FileRetentionDays: 30,
		CleanupInterval:   time.Hour,
	}
}

// Load reads configuration from environment variables, applying defaults.
// Missing critical values (database DSN, backend URL) return an error.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:      getEnvOrDefault("HTTP_PORT", "8080"),
		DatabaseURL:   os.Getenv("LOOM_DATABASE_URL"),
		BackendURL:    os.Getenv("COMFYUI_URL"),
		LLMURL:        getEnvOrDefault("LLM_URL", "http://localhost:8100"),
		IndexURL:      getEnvOrDefault("QDRANT_URL", "http://localhost:6333"),
		OutputDir:     getEnvOrDefault("OUTPUT_DIR", "./output"),
		OrganizedDir:  getEnvOrDefault("ORGANIZED_DIR", "./organized"),
		CheckpointDir: getEnvOrDefault("CHECKPOINT_DIR", "./models/checkpoints"),
		LoraDir:       getEnvOrDefault("LORA_DIR", "./models/loras"),
		WorkflowDir:   getEnvOrDefault("WORKFLOW_DIR", "./workflows"),
		Queue:         DefaultQueueConfig(),
		Retention:     DefaultRetentionConfig(),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("LOOM_DATABASE_URL is required")
	}
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("COMFYUI_URL is required")
	}

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid WORKER_COUNT %q", v)
		}
		cfg.Queue.WorkerCount = n
	}
	if v := os.Getenv("FILE_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid FILE_RETENTION_DAYS %q", v)
		}
		cfg.Retention.FileRetentionDays = n
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
