package catalog

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "pgx")), mock
}

func TestGetJobNotFound(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectQuery("SELECT \\* FROM jobs WHERE id = \\$1").
		WithArgs("job-missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetJob(context.Background(), "job-missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusIgnoresUnknownFields(t *testing.T) {
	store, mock := newTestStore(t)
	// Only status is set; "evil_column" must never reach the query.
	mock.ExpectExec(`UPDATE jobs SET status = \$2 WHERE id = \$1`).
		WithArgs("job-1", JobProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateJobStatus(context.Background(), "job-1", JobProcessing,
		map[string]any{"evil_column": "DROP TABLE jobs"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusNotFound(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectExec(`UPDATE jobs SET status = \$2 WHERE id = \$1`).
		WithArgs("job-gone", JobCancelled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateJobStatus(context.Background(), "job-gone", JobCancelled, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnqueueRegenerationIdempotent(t *testing.T) {
	store, mock := newTestStore(t)
	entry := &RegenerationEntry{
		SceneID:       7,
		Reason:        "scene context changed: location",
		Priority:      3,
		SourceSceneID: 5,
		SourceField:   "location",
	}

	mock.ExpectExec("INSERT INTO regeneration_queue").
		WillReturnResult(sqlmock.NewResult(1, 1))
	inserted, err := store.EnqueueRegeneration(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same logical entry again: conflict target absorbs it.
	mock.ExpectExec("INSERT INTO regeneration_queue").
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = store.EnqueueRegeneration(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRegenerationProcessedNotPending(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectExec("UPDATE regeneration_queue").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkRegenerationProcessed(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteJobsOlderThanCountsRows(t *testing.T) {
	store, mock := newTestStore(t)
	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec("DELETE FROM jobs").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.DeleteJobsOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestUpsertCharacterDerivesSlug(t *testing.T) {
	store, mock := newTestStore(t)
	cols := []string{"id", "project_id", "name", "slug", "design_prompt", "appearance",
		"personality", "background", "role", "personality_tags", "relationships",
		"voice_profile", "lora_path", "lora_trigger", "created_at", "updated_at"}
	mock.ExpectQuery("INSERT INTO characters").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(1), "proj-1", "Miyuki Tanaka", "miyuki_tanaka", "", []byte("{}"),
			"", "", "", []byte("[]"), []byte("{}"), []byte("{}"),
			nil, nil, time.Now(), time.Now()))

	ch, err := store.UpsertCharacter(context.Background(), &Character{
		ProjectID: "proj-1",
		Name:      "Miyuki Tanaka",
	})
	require.NoError(t, err)
	assert.Equal(t, "miyuki_tanaka", ch.Slug)
}

func TestPatchCharacterRejectsEmptyPatch(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.PatchCharacter(context.Background(), "proj-1", "miyuki",
		map[string]any{"not_a_column": true})
	assert.True(t, IsValidationError(err))
}
