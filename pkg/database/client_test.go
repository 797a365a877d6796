package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/renderloom/loom/pkg/catalog"
)

// newTestClient creates a test database client with CI/local environment
// detection. In CI (CI_DATABASE_URL set) it connects to an external
// PostgreSQL service container; locally it spins up a testcontainer.
// NewClient applies the embedded migrations either way.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
	}

	client, err := NewClient(ctx, DefaultConfig(connStr))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientConnectsAndMigrates(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.DB().PingContext(ctx))

	health, err := Health(ctx, client.DB())
	require.NoError(t, err)
	assert.True(t, health.Connected)
	assert.Greater(t, health.OpenConns, 0)

	// Migrations must have created the core tables.
	for _, table := range []string{"projects", "characters", "scenes", "jobs",
		"character_scene_state", "quality_feedback", "regeneration_queue"} {
		var exists bool
		err := client.DB().GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table)
		require.NoError(t, err)
		assert.True(t, exists, "table %s missing after migration", table)
	}
}

func TestCatalogRoundTrips(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	store := catalog.NewStore(client.DB())

	project, err := store.UpsertProject(ctx, &catalog.Project{
		ID:          "neon-arc",
		Name:        "Neon Arc",
		Description: "Cyberpunk shorts",
	})
	require.NoError(t, err)
	assert.Equal(t, "neon-arc", project.ID)

	character, err := store.UpsertCharacter(ctx, &catalog.Character{
		ProjectID:    project.ID,
		Name:         "Kai Nakamura",
		DesignPrompt: "silver hair, red jacket",
		Role:         "protagonist",
	})
	require.NoError(t, err)
	assert.Equal(t, "kai_nakamura", character.Slug)

	patched, err := store.PatchCharacter(ctx, project.ID, character.Slug, map[string]any{
		"role":        "lead",
		"personality": "stoic",
	})
	require.NoError(t, err)
	assert.Equal(t, "lead", patched.Role)
	assert.Equal(t, "silver hair, red jacket", patched.DesignPrompt)

	scene, err := store.UpsertScene(ctx, &catalog.Scene{
		ProjectID:   project.ID,
		SceneNumber: 1,
		Title:       "Rooftop chase",
	})
	require.NoError(t, err)

	clothing := "torn jacket"
	st, err := store.UpsertCharacterSceneState(ctx, &catalog.CharacterSceneState{
		SceneID:       scene.ID,
		CharacterSlug: character.Slug,
		Clothing:      &clothing,
		Injuries: catalog.InjuryList{
			{Type: "bruise", Severity: "minor", Location: "left arm", Countdown: 2},
		},
		StateSource: catalog.StateSourceManual,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Version)

	// A second partial write keeps the clothing and bumps the version.
	emotional := "determined"
	st2, err := store.UpsertCharacterSceneState(ctx, &catalog.CharacterSceneState{
		SceneID:        scene.ID,
		CharacterSlug:  character.Slug,
		EmotionalState: &emotional,
		StateSource:    catalog.StateSourceAuto,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, st2.Version)
	require.NotNil(t, st2.Clothing)
	assert.Equal(t, "torn jacket", *st2.Clothing)
	require.Len(t, st2.Injuries, 1)
	assert.Equal(t, "bruise", st2.Injuries[0].Type)

	timeline, err := store.GetStateTimeline(ctx, project.ID, character.Slug)
	require.NoError(t, err)
	require.Len(t, timeline, 1)

	stats, err := store.GetProjectStats(ctx, project.ID)
	require.NoError(t, err)
	require.NotNil(t, stats)
}

func TestJobLifecyclePersistence(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	store := catalog.NewStore(client.DB())

	job, err := store.CreateJob(ctx, &catalog.Job{
		ID:         "job-it-1",
		Type:       catalog.JobTypeImage,
		Prompt:     "a neon alley at night",
		Parameters: catalog.JSONMap{"width": 1024},
		Status:     catalog.JobQueued,
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.JobQueued, job.Status)

	backendID := "bp-42"
	err = store.UpdateJobStatus(ctx, job.ID, catalog.JobProcessing, map[string]any{
		"backend_id": backendID,
		"started_at": time.Now().UTC(),
	})
	require.NoError(t, err)

	err = store.UpdateJobStatus(ctx, job.ID, catalog.JobCompleted, map[string]any{
		"organized_path": "/organized/projects/default/job-it-1.png",
		"completed_at":   time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobCompleted, got.Status)
	require.NotNil(t, got.BackendID)
	assert.Equal(t, backendID, *got.BackendID)
	require.NotNil(t, got.OrganizedPath)

	status := catalog.JobCompleted
	list, err := store.ListJobs(ctx, 10, 0, &status)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, job.ID, list[0].ID)

	// Retention delete only touches terminal rows older than the cutoff.
	n, err := store.DeleteJobsOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = store.GetJob(ctx, "never-created")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
