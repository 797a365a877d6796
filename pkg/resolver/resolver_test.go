package resolver

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderloom/loom/pkg/catalog"
)

func newResolverWithCharacter(t *testing.T, ch *catalog.Character) (*Resolver, Dirs) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cols := []string{"id", "project_id", "name", "slug", "design_prompt", "appearance",
		"personality", "background", "role", "personality_tags", "relationships",
		"voice_profile", "lora_path", "lora_trigger", "created_at", "updated_at"}
	rows := sqlmock.NewRows(cols)
	if ch != nil {
		rows.AddRow(ch.ID, ch.ProjectID, ch.Name, ch.Slug, ch.DesignPrompt, []byte("{}"),
			"", "", "", []byte("[]"), []byte("{}"), []byte("{}"),
			ch.LoraPath, ch.LoraTrigger, time.Now(), time.Now())
	}
	mock.ExpectQuery("SELECT \\* FROM characters").WillReturnRows(rows)

	dirs := Dirs{
		Checkpoints: t.TempDir(),
		Loras:       t.TempDir(),
		Workflows:   t.TempDir(),
	}
	store := catalog.NewStore(sqlx.NewDb(db, "pgx"))
	return NewResolver(store, nil, dirs, slog.Default()), dirs
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func strp(s string) *string { return &s }

func TestAnalyze(t *testing.T) {
	a := Analyze("Generate Kai fighting on a neon rooftop in the city")
	assert.Contains(t, a.CandidateNames, "Kai")
	assert.Equal(t, "action", a.SceneType)
	assert.Equal(t, "cyberpunk", a.Style)
	assert.Equal(t, "city", a.Location)
}

func TestPlanLoraTriggerInPrompt(t *testing.T) {
	ch := &catalog.Character{
		ID: 1, ProjectID: "p1", Name: "Kai", Slug: "kai",
		DesignPrompt: "silver-haired swordsman",
		LoraPath:     strp("kai.safetensors"),
		LoraTrigger:  strp("kai_character"),
	}
	r, dirs := newResolverWithCharacter(t, ch)
	touch(t, filepath.Join(dirs.Loras, "kai.safetensors"))

	plan, err := r.Plan(context.Background(), "Generate Kai standing")
	require.NoError(t, err)

	require.Len(t, plan.Resources.Loras, 1)
	assert.Equal(t, "kai.safetensors", plan.Resources.Loras[0].Name)
	assert.Equal(t, 0.85, plan.Resources.Loras[0].Strength)
	// The trigger must appear verbatim or the LoRA never activates.
	assert.Contains(t, plan.Resources.PositivePrompt, "kai_character")
	assert.Contains(t, plan.Resources.PositivePrompt, "masterpiece, best quality")
	assert.Contains(t, plan.Resources.PositivePrompt, "silver-haired swordsman")
}

func TestPlanStyleLoraAppendedAfterCharacters(t *testing.T) {
	ch := &catalog.Character{
		ID: 1, ProjectID: "p1", Name: "Kai", Slug: "kai",
		LoraPath:    strp("kai.safetensors"),
		LoraTrigger: strp("kai_character"),
	}
	r, dirs := newResolverWithCharacter(t, ch)
	touch(t, filepath.Join(dirs.Loras, "kai.safetensors"))
	touch(t, filepath.Join(dirs.Loras, "cyberpunk.safetensors"))

	plan, err := r.Plan(context.Background(), "Generate Kai on a neon rooftop")
	require.NoError(t, err)

	require.Len(t, plan.Resources.Loras, 2, "character LoRA plus style LoRA")
	assert.Equal(t, "kai.safetensors", plan.Resources.Loras[0].Name)
	assert.Equal(t, "cyberpunk.safetensors", plan.Resources.Loras[1].Name)
	assert.Equal(t, 0.85, plan.Resources.Loras[1].Strength)
	assert.Empty(t, plan.Resources.Loras[1].Trigger, "style adapters carry no trigger")
	assert.Contains(t, plan.Resources.Reasoning,
		`style LoRA "cyberpunk.safetensors" appended for style "cyberpunk"`)
}

func TestPlanStyleLoraMissingOnDiskIsSilent(t *testing.T) {
	r, _ := newResolverWithCharacter(t, nil) // no adapter files at all
	plan, err := r.Plan(context.Background(), "Generate a neon cyberpunk alley")
	require.NoError(t, err)
	assert.Empty(t, plan.Resources.Loras)
	assert.Contains(t, plan.Warnings, "no LoRA selected")
}

func TestPlanLoraMissingOnDiskIsSkipped(t *testing.T) {
	ch := &catalog.Character{
		ID: 1, ProjectID: "p1", Name: "Kai", Slug: "kai",
		LoraPath:    strp("kai.safetensors"),
		LoraTrigger: strp("kai_character"),
	}
	r, _ := newResolverWithCharacter(t, ch) // file never created

	plan, err := r.Plan(context.Background(), "Generate Kai standing")
	require.NoError(t, err)

	assert.Empty(t, plan.Resources.Loras)
	assert.NotContains(t, plan.Resources.PositivePrompt, "kai_character")
	assert.Contains(t, plan.Warnings, "no LoRA selected")
}

func TestPlanNoCharacterFoundWarns(t *testing.T) {
	r, _ := newResolverWithCharacter(t, nil)
	plan, err := r.Plan(context.Background(), "Generate Zephyr standing")
	require.NoError(t, err)
	assert.Contains(t, plan.Warnings, "no characters found in catalog")
}

func TestPlanActionNegativePrompt(t *testing.T) {
	r, _ := newResolverWithCharacter(t, nil)
	plan, err := r.Plan(context.Background(), "Generate Kai in a fierce battle")
	require.NoError(t, err)

	assert.Contains(t, plan.Resources.NegativePrompt, "static pose, standing still")
	assert.Contains(t, plan.Resources.PositivePrompt, "dynamic pose, motion blur")
	assert.Contains(t, plan.Resources.NegativePrompt, "bad anatomy")
}

func TestPlanSelectsExistingWorkflowByPriority(t *testing.T) {
	r, dirs := newResolverWithCharacter(t, nil)
	// Only the lower-priority generic workflow exists.
	touch(t, filepath.Join(dirs.Workflows, "text2img.json"))

	plan, err := r.Plan(context.Background(), "Generate Kai in a fierce battle")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dirs.Workflows, "text2img.json"), plan.Resources.WorkflowFile)
}

func TestPlanNoWorkflowWarns(t *testing.T) {
	r, _ := newResolverWithCharacter(t, nil)
	plan, err := r.Plan(context.Background(), "Generate Kai portrait")
	require.NoError(t, err)
	assert.Contains(t, plan.Warnings, "no workflow file found")
}

func TestPlanReasoningAccumulates(t *testing.T) {
	ch := &catalog.Character{ID: 1, ProjectID: "p1", Name: "Kai", Slug: "kai"}
	r, _ := newResolverWithCharacter(t, ch)
	plan, err := r.Plan(context.Background(), "Generate Kai standing")
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Resources.Reasoning)
}
