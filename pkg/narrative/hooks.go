package narrative

import (
	"context"
	"log/slog"

	"github.com/renderloom/loom/pkg/catalog"
)

// Shot statuses whose rendered output is worth regenerating.
const (
	shotCompleted    = "completed"
	shotAcceptedBest = "accepted_best"
)

// Shot fields whose change invalidates the rendered clip.
var invalidatingShotFields = map[string]bool{
	"motion_prompt":      true,
	"characters_present": true,
	"shot_type":          true,
	"camera_angle":       true,
}

// Regeneration priorities by event kind.
const (
	priorityEpisode = 2
	priorityScene   = 3
	priorityShot    = 5
)

// Hooks reacts to catalog mutations: re-propagating state and enqueueing
// downstream regeneration. Every handler is idempotent; duplicate delivery
// lands on the queue's conflict clause and does nothing.
type Hooks struct {
	engine *Engine
	store  Store
	logger *slog.Logger
}

// NewHooks wires the event handlers over an engine and its store.
func NewHooks(engine *Engine, store Store, logger *slog.Logger) *Hooks {
	return &Hooks{engine: engine, store: store, logger: logger}
}

// SceneUpdated re-propagates state from the edited scene and invalidates
// every already-rendered downstream shot.
func (h *Hooks) SceneUpdated(ctx context.Context, sceneID int64, changedFields []string) error {
	scene, err := h.store.GetScene(ctx, sceneID)
	if err != nil {
		return err
	}

	states, err := h.store.GetSceneStates(ctx, sceneID)
	if err != nil {
		return err
	}
	if len(states) > 0 {
		if _, err := h.engine.PropagateForward(ctx, sceneID, scene.ProjectID); err != nil {
			return err
		}
	}

	downstream, err := h.store.ListScenesAfter(ctx, scene.ProjectID, scene.SceneNumber)
	if err != nil {
		return err
	}
	enqueued := 0
	for _, ds := range downstream {
		shots, err := h.store.ListShots(ctx, ds.ID)
		if err != nil {
			return err
		}
		for _, shot := range shots {
			if shot.Status != shotCompleted && shot.Status != shotAcceptedBest {
				continue
			}
			if shot.OutputVideoPath == nil {
				continue
			}
			for _, field := range changedOrDefault(changedFields) {
				shotID := shot.ID
				inserted, err := h.store.EnqueueRegeneration(ctx, &catalog.RegenerationEntry{
					SceneID:       shot.SceneID,
					ShotID:        &shotID,
					Reason:        "upstream scene edited",
					Priority:      priorityScene,
					SourceSceneID: sceneID,
					SourceField:   field,
				})
				if err != nil {
					return err
				}
				if inserted {
					enqueued++
				}
			}
		}
	}
	h.logger.Info("Scene update processed",
		"scene_id", sceneID, "regenerations_enqueued", enqueued)
	return nil
}

// ShotUpdated invalidates one shot's rendered clip when a visual field
// changed.
func (h *Hooks) ShotUpdated(ctx context.Context, shotID int64, changedFields []string) error {
	relevant := make([]string, 0, len(changedFields))
	for _, f := range changedFields {
		if invalidatingShotFields[f] {
			relevant = append(relevant, f)
		}
	}
	if len(relevant) == 0 {
		return nil
	}

	shot, err := h.store.GetShot(ctx, shotID)
	if err != nil {
		return err
	}
	if shot.OutputVideoPath == nil {
		return nil
	}

	for _, field := range relevant {
		id := shot.ID
		if _, err := h.store.EnqueueRegeneration(ctx, &catalog.RegenerationEntry{
			SceneID:       shot.SceneID,
			ShotID:        &id,
			Reason:        "shot parameters changed",
			Priority:      priorityShot,
			SourceSceneID: shot.SceneID,
			SourceField:   field,
		}); err != nil {
			return err
		}
	}
	return nil
}

// EpisodeUpdated invalidates every completed scene of a restructured episode.
func (h *Hooks) EpisodeUpdated(ctx context.Context, episodeID int64) error {
	scenes, err := h.store.ListEpisodeScenes(ctx, episodeID)
	if err != nil {
		return err
	}
	for _, scene := range scenes {
		if scene.GenerationStatus != "completed" {
			continue
		}
		if _, err := h.store.EnqueueRegeneration(ctx, &catalog.RegenerationEntry{
			SceneID:       scene.ID,
			Reason:        "episode restructured",
			Priority:      priorityEpisode,
			SourceSceneID: scene.ID,
			SourceField:   "episode",
		}); err != nil {
			return err
		}
	}
	return nil
}

// StateUpdated re-propagates from a scene whose state was manually
// overridden. Automatic writes are ignored to avoid propagation storms.
func (h *Hooks) StateUpdated(ctx context.Context, sceneID int64, source string) error {
	if source != catalog.StateSourceManual {
		return nil
	}
	scene, err := h.store.GetScene(ctx, sceneID)
	if err != nil {
		return err
	}
	_, err = h.engine.PropagateForward(ctx, sceneID, scene.ProjectID)
	return err
}

func changedOrDefault(fields []string) []string {
	if len(fields) == 0 {
		return []string{"scene"}
	}
	return fields
}
