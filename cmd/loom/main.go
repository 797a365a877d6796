// Loom orchestrator server — provides the HTTP API, manages generation
// workers, and finalizes jobs against the generative backend.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/renderloom/loom/pkg/api"
	"github.com/renderloom/loom/pkg/backend"
	"github.com/renderloom/loom/pkg/catalog"
	"github.com/renderloom/loom/pkg/cleanup"
	"github.com/renderloom/loom/pkg/config"
	"github.com/renderloom/loom/pkg/database"
	"github.com/renderloom/loom/pkg/events"
	"github.com/renderloom/loom/pkg/index"
	"github.com/renderloom/loom/pkg/intent"
	"github.com/renderloom/loom/pkg/jobs"
	"github.com/renderloom/loom/pkg/llm"
	"github.com/renderloom/loom/pkg/monitor"
	"github.com/renderloom/loom/pkg/narrative"
	"github.com/renderloom/loom/pkg/organizer"
	"github.com/renderloom/loom/pkg/quality"
	"github.com/renderloom/loom/pkg/queue"
	"github.com/renderloom/loom/pkg/resolver"
	"github.com/renderloom/loom/pkg/version"
	"github.com/renderloom/loom/pkg/workflow"
)

// embedderDim matches the vector size of the reference index collections.
const embedderDim = 768

func main() {
	envPath := flag.String("env-file",
		getEnv("ENV_FILE", ".env"),
		"Path to the environment file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	slog.Info("Starting loom", "version", version.Full())

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (migrations apply on connect)
	dbClient, err := database.NewClient(ctx, database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	store := catalog.NewStore(dbClient.DB())
	manager := jobs.NewManager(store, logger)

	// 3. Backend, LLM, and index clients
	connector := backend.NewConnector(cfg.BackendURL, logger)
	llmClient := llm.NewClient(cfg.LLMURL, logger)
	idxClient := index.NewClient(cfg.IndexURL, index.NewHashingEmbedder(embedderDim), logger)
	rebuilder := index.NewRebuilder(idxClient, dbClient.DB(), logger)

	classifier := intent.NewClassifier(llmClient, logger)
	planner := resolver.NewResolver(store, idxClient, resolver.Dirs{
		Checkpoints: cfg.CheckpointDir,
		Loras:       cfg.LoraDir,
		Workflows:   cfg.WorkflowDir,
	}, logger)

	// 4. Output organization and quality gate
	org := organizer.NewOrganizer(cfg.OrganizedDir, cfg.OutputDir, logger)
	gate := quality.NewValidator(&quality.FFmpegProber{}, false, logger)

	// 5. Finalization pipeline and status monitor
	pipeline := queue.NewPipeline(manager, org, gate, store, cfg.OutputDir, logger)
	mon := monitor.NewMonitor(connector, pipeline, cfg.Queue.PollInterval, logger)
	mon.Start(ctx)

	// 6. Worker pool (before the HTTP server, so queued jobs drain immediately)
	pool := queue.NewPool(manager, planner, connector, mon, cfg.Queue.WorkerCount, logger)
	pool.Start(ctx)

	// 7. Narrative continuity engine and propagation hooks
	engine := narrative.NewEngine(store, llmClient, logger)
	hooks := narrative.NewHooks(engine, store, logger)

	// 8. WebSocket fan-out and retention
	connManager := events.NewConnectionManager(mon, logger)
	retention := cleanup.NewService(cfg.Retention, manager, org, logger)
	retention.Start(ctx)

	// 9. HTTP server
	httpServer := api.NewServer(cfg, dbClient, store, manager, classifier,
		connector, org, engine, hooks, connManager, rebuilder, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Loom started successfully",
		"workers", cfg.Queue.WorkerCount,
		"backend", cfg.BackendURL,
		"default_checkpoint", workflow.DefaultCheckpoint)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop accepting work, drain in-flight jobs, then
	// close the HTTP server on its own timeout budget.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, in-flight jobs will be recovered on restart")
	}

	mon.Stop()
	retention.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
