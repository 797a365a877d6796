package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/renderloom/loom/pkg/catalog"
	"github.com/renderloom/loom/pkg/llm"
)

// Collaborator is the slice of the language-model client the engine needs.
type Collaborator interface {
	QueryJSON(ctx context.Context, req *llm.QueryRequest, dst any) error
}

// Store is the catalog surface the engine and its hooks operate on.
type Store interface {
	GetScene(ctx context.Context, id int64) (*catalog.Scene, error)
	ListScenesAfter(ctx context.Context, projectID string, sceneNumber int) ([]catalog.Scene, error)
	ListShots(ctx context.Context, sceneID int64) ([]catalog.Shot, error)
	GetShot(ctx context.Context, id int64) (*catalog.Shot, error)
	GetCharacterBySlug(ctx context.Context, projectID, slug string) (*catalog.Character, error)
	GetCharacterSceneState(ctx context.Context, sceneID int64, slug string) (*catalog.CharacterSceneState, error)
	GetSceneStates(ctx context.Context, sceneID int64) ([]catalog.CharacterSceneState, error)
	UpsertCharacterSceneState(ctx context.Context, st *catalog.CharacterSceneState) (*catalog.CharacterSceneState, error)
	DeleteCharacterSceneState(ctx context.Context, sceneID int64, slug string) error
	ListEpisodeScenes(ctx context.Context, episodeID int64) ([]catalog.Scene, error)
	EnqueueRegeneration(ctx context.Context, e *catalog.RegenerationEntry) (bool, error)
}

// Engine maintains character state per scene and propagates it downstream.
type Engine struct {
	store        Store
	collaborator Collaborator
	logger       *slog.Logger
}

// NewEngine creates a state engine. collaborator may be nil; initialization
// then fails with an error while the rest of the engine keeps working.
func NewEngine(store Store, collaborator Collaborator, logger *slog.Logger) *Engine {
	return &Engine{store: store, collaborator: collaborator, logger: logger}
}

// GetState returns one character's state in a scene.
func (e *Engine) GetState(ctx context.Context, sceneID int64, slug string) (*catalog.CharacterSceneState, error) {
	return e.store.GetCharacterSceneState(ctx, sceneID, slug)
}

// GetSceneStates returns every character state of a scene.
func (e *Engine) GetSceneStates(ctx context.Context, sceneID int64) ([]catalog.CharacterSceneState, error) {
	return e.store.GetSceneStates(ctx, sceneID)
}

// SetState merge-updates one character's state. Nil fields in partial leave
// stored values untouched; the write bumps the row version.
func (e *Engine) SetState(ctx context.Context, sceneID int64, slug string, partial *catalog.CharacterSceneState, source string) (*catalog.CharacterSceneState, error) {
	partial.SceneID = sceneID
	partial.CharacterSlug = slug
	partial.StateSource = source
	return e.store.UpsertCharacterSceneState(ctx, partial)
}

// DeleteState removes one character's state from a scene.
func (e *Engine) DeleteState(ctx context.Context, sceneID int64, slug string) error {
	return e.store.DeleteCharacterSceneState(ctx, sceneID, slug)
}

// stateSeed is one per-character state object as the collaborator returns it.
type stateSeed struct {
	CharacterSlug   string             `json:"character_slug"`
	Clothing        *string            `json:"clothing"`
	HairState       *string            `json:"hair_state"`
	Injuries        catalog.InjuryList `json:"injuries"`
	Accessories     catalog.StringList `json:"accessories"`
	BodyState       *string            `json:"body_state"`
	EmotionalState  *string            `json:"emotional_state"`
	EnergyLevel     *string            `json:"energy_level"`
	LocationInScene *string            `json:"location_in_scene"`
	Carrying        catalog.StringList `json:"carrying"`
}

// InitializeFromDescription asks the collaborator to seed state for every
// character appearing in the scene's shots, then persists each state with
// source ai_initialized.
func (e *Engine) InitializeFromDescription(ctx context.Context, sceneID int64, projectID string) ([]catalog.CharacterSceneState, error) {
	if e.collaborator == nil {
		return nil, errors.New("no collaborator configured for state initialization")
	}

	scene, err := e.store.GetScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	shots, err := e.store.ListShots(ctx, sceneID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var slugs []string
	for _, shot := range shots {
		for _, slug := range shot.CharactersPresent {
			if slug != "" && !seen[slug] {
				seen[slug] = true
				slugs = append(slugs, slug)
			}
		}
	}
	if len(slugs) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Scene: %s\nLocation: %s\nMood: %s\nDescription: %s\n\nCharacters:\n",
		scene.Title, scene.Location, scene.Mood, scene.Description)
	for _, slug := range slugs {
		ch, err := e.store.GetCharacterBySlug(ctx, projectID, slug)
		if err != nil {
			e.logger.Warn("Character missing from catalog, skipping state seed",
				"slug", slug, "scene_id", sceneID)
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", ch.Name, ch.Slug, ch.DesignPrompt)
	}
	sb.WriteString(`
Describe each character's physical and emotional state in this scene.
Respond ONLY with a JSON object of the form
{"states": [{"character_slug": "...", "clothing": "...", "hair_state": "...",
"injuries": [], "accessories": [], "body_state": "...", "emotional_state": "...",
"energy_level": "...", "location_in_scene": "...", "carrying": []}]}`)

	initCtx, cancel := context.WithTimeout(ctx, llm.NarrativeTimeout)
	defer cancel()

	var parsed struct {
		States []stateSeed `json:"states"`
	}
	err = e.collaborator.QueryJSON(initCtx, &llm.QueryRequest{
		Query:          sb.String(),
		ConversationID: fmt.Sprintf("state-init-%d", sceneID),
	}, &parsed)
	if err != nil {
		return nil, fmt.Errorf("state initialization failed: %w", err)
	}

	var out []catalog.CharacterSceneState
	for _, seed := range parsed.States {
		if !seen[seed.CharacterSlug] {
			continue
		}
		st, err := e.store.UpsertCharacterSceneState(ctx, &catalog.CharacterSceneState{
			SceneID:         sceneID,
			CharacterSlug:   seed.CharacterSlug,
			Clothing:        seed.Clothing,
			HairState:       seed.HairState,
			Injuries:        seed.Injuries,
			Accessories:     seed.Accessories,
			BodyState:       seed.BodyState,
			EmotionalState:  seed.EmotionalState,
			EnergyLevel:     seed.EnergyLevel,
			LocationInScene: seed.LocationInScene,
			Carrying:        seed.Carrying,
			StateSource:     catalog.StateSourceAIInitialized,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	e.logger.Info("Scene state initialized",
		"scene_id", sceneID, "characters", len(out))
	return out, nil
}

// PropagateForward walks every character of the source scene through all
// downstream scenes of the project in scene_number order, writing decayed
// states. Scenes holding a manual state for the character are never
// overwritten; the manual values take over the rolling state instead, and no
// decay step is charged for that scene.
func (e *Engine) PropagateForward(ctx context.Context, sourceSceneID int64, projectID string) ([]catalog.CharacterSceneState, error) {
	source, err := e.store.GetScene(ctx, sourceSceneID)
	if err != nil {
		return nil, err
	}
	states, err := e.store.GetSceneStates(ctx, sourceSceneID)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}
	downstream, err := e.store.ListScenesAfter(ctx, projectID, source.SceneNumber)
	if err != nil {
		return nil, err
	}

	var written []catalog.CharacterSceneState
	for _, start := range states {
		rolling := start
		for _, scene := range downstream {
			existing, err := e.store.GetCharacterSceneState(ctx, scene.ID, rolling.CharacterSlug)
			if err != nil && !errors.Is(err, catalog.ErrNotFound) {
				return written, err
			}
			if existing != nil && existing.StateSource == catalog.StateSourceManual {
				rolling = overlayManual(rolling, existing)
				continue
			}

			rolling = DecayState(rolling)
			st, err := e.store.UpsertCharacterSceneState(ctx, &catalog.CharacterSceneState{
				SceneID:             scene.ID,
				CharacterSlug:       rolling.CharacterSlug,
				Clothing:            rolling.Clothing,
				HairState:           rolling.HairState,
				Injuries:            rolling.Injuries,
				Accessories:         rolling.Accessories,
				BodyState:           rolling.BodyState,
				EmotionalState:      rolling.EmotionalState,
				EnergyLevel:         rolling.EnergyLevel,
				RelationshipContext: rolling.RelationshipContext,
				LocationInScene:     rolling.LocationInScene,
				Carrying:            rolling.Carrying,
				StateSource:         catalog.StateSourcePropagated,
			})
			if err != nil {
				return written, err
			}
			written = append(written, *st)
		}
	}
	e.logger.Info("State propagated forward",
		"source_scene_id", sourceSceneID, "written", len(written))
	return written, nil
}

// overlayManual folds a manual row's set fields over the rolling state. The
// manual scene acts as a checkpoint: downstream decay continues from it.
func overlayManual(rolling catalog.CharacterSceneState, manual *catalog.CharacterSceneState) catalog.CharacterSceneState {
	if manual.Clothing != nil {
		rolling.Clothing = manual.Clothing
	}
	if manual.HairState != nil {
		rolling.HairState = manual.HairState
	}
	if manual.Injuries != nil {
		rolling.Injuries = manual.Injuries
	}
	if manual.Accessories != nil {
		rolling.Accessories = manual.Accessories
	}
	if manual.BodyState != nil {
		rolling.BodyState = manual.BodyState
	}
	if manual.EmotionalState != nil {
		rolling.EmotionalState = manual.EmotionalState
	}
	if manual.EnergyLevel != nil {
		rolling.EnergyLevel = manual.EnergyLevel
	}
	if manual.RelationshipContext != nil {
		rolling.RelationshipContext = manual.RelationshipContext
	}
	if manual.LocationInScene != nil {
		rolling.LocationInScene = manual.LocationInScene
	}
	if manual.Carrying != nil {
		rolling.Carrying = manual.Carrying
	}
	return rolling
}
