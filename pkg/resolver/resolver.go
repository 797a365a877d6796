// Package resolver turns a classified request into a concrete resource
// selection: workflow file, checkpoint, LoRAs, and fully assembled prompts.
// Character identity always comes from the catalog store; the reference
// index contributes scene context only.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/renderloom/loom/pkg/catalog"
	"github.com/renderloom/loom/pkg/index"
)

// Standard LoRA strength when the request does not specify one.
const defaultLoraStrength = 0.85

// maxCharacterFields caps how many catalog fields feed one character phrase.
const maxCharacterFields = 4

// maxFieldChars caps each field's contribution to a phrase.
const maxFieldChars = 150

// qualityTokens lead every positive prompt.
const qualityTokens = "masterpiece, best quality, high resolution, detailed"

// negativeBase is the fixed negative prompt every generation starts from.
const negativeBase = "lowres, bad anatomy, bad hands, text, error, missing fingers, extra digit, fewer digits, cropped, worst quality, low quality, jpeg artifacts, signature, watermark"

// Lora is one selected weight adapter.
type Lora struct {
	Name     string  `json:"name"`
	Strength float64 `json:"strength"`
	Trigger  string  `json:"trigger,omitempty"`
}

// Resources is the concrete selection the workflow composer consumes.
type Resources struct {
	WorkflowFile   string   `json:"workflow_file"`
	Checkpoint     string   `json:"checkpoint"`
	Loras          []Lora   `json:"loras"`
	PositivePrompt string   `json:"positive_prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	Steps          int      `json:"steps"`
	CfgScale       float64  `json:"cfg_scale"`
	Reasoning      []string `json:"reasoning"`
}

// Analysis is the lightweight content read the resolver performs itself.
type Analysis struct {
	Keywords       []string `json:"keywords"`
	CandidateNames []string `json:"candidate_names"`
	SceneType      string   `json:"scene_type"`
	Style          string   `json:"style"`
	Location       string   `json:"location"`
}

// Plan is the full resolution outcome.
type Plan struct {
	Analysis   *Analysis           `json:"analysis"`
	References []index.Reference   `json:"references"`
	FreshData  map[string][]any    `json:"fresh_data"`
	Resources  *Resources          `json:"resources"`
	Characters []catalog.Character `json:"-"`
	Warnings   []string            `json:"warnings"`
}

// Dirs locates the on-disk model assets the resolver validates against.
type Dirs struct {
	Checkpoints string
	Loras       string
	Workflows   string
}

// Resolver assembles generation plans.
type Resolver struct {
	store  *catalog.Store
	index  *index.Client
	dirs   Dirs
	logger *slog.Logger
}

// NewResolver creates a resolver. The index client may be nil; plans then
// carry no scene context.
func NewResolver(store *catalog.Store, idx *index.Client, dirs Dirs, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, index: idx, dirs: dirs, logger: logger}
}

// Plan resolves one prompt into concrete resources.
func (r *Resolver) Plan(ctx context.Context, userPrompt string) (*Plan, error) {
	analysis := Analyze(userPrompt)
	plan := &Plan{
		Analysis:  analysis,
		FreshData: map[string][]any{},
		Warnings:  []string{},
	}
	res := &Resources{
		Width: 1024, Height: 1024, Steps: 20, CfgScale: 7.0,
		Reasoning: []string{},
	}
	plan.Resources = res

	// Characters come from the catalog by name, never from the index: the
	// index cannot be trusted to match names reliably.
	for _, name := range analysis.CandidateNames {
		matches, err := r.store.SearchCharactersByName(ctx, name, 5)
		if err != nil {
			r.logger.Warn("Character lookup failed", "name", name, "error", err)
			continue
		}
		if len(matches) > 0 {
			plan.Characters = append(plan.Characters, matches[0])
			res.Reasoning = append(res.Reasoning,
				fmt.Sprintf("matched character %q to catalog entry %q", name, matches[0].Name))
		}
	}
	if len(plan.Characters) == 0 && len(analysis.CandidateNames) > 0 {
		plan.Warnings = append(plan.Warnings, "no characters found in catalog")
	}

	// Scene context only, capped at 5 hits.
	if r.index != nil {
		refs, err := r.index.Search(ctx, userPrompt, 5, "scene")
		if err != nil {
			r.logger.Warn("Scene context search failed", "error", err)
		} else {
			plan.References = refs
			r.fetchReferencedRows(ctx, plan)
		}
	}

	r.selectWorkflow(plan)
	r.selectCheckpoint(plan)
	r.selectLoras(plan)
	r.buildPositivePrompt(plan)
	r.buildNegativePrompt(plan)

	if len(res.Loras) == 0 {
		plan.Warnings = append(plan.Warnings, "no LoRA selected")
	}
	return plan, nil
}

// fetchReferencedRows pulls full catalog rows for non-character references,
// one query per table.
func (r *Resolver) fetchReferencedRows(ctx context.Context, plan *Plan) {
	for _, ref := range plan.References {
		if ref.SourceTable == "characters" {
			continue
		}
		switch ref.SourceTable {
		case "scenes":
			id, ok := parseID(ref.SourceID)
			if !ok {
				continue
			}
			scene, err := r.store.GetScene(ctx, id)
			if err != nil {
				r.logger.Warn("Referenced scene fetch failed", "id", ref.SourceID, "error", err)
				continue
			}
			plan.FreshData["scenes"] = append(plan.FreshData["scenes"], scene)
		case "generation_styles":
			style, err := r.store.GetStyle(ctx, ref.SourceID)
			if err != nil {
				continue
			}
			plan.FreshData["generation_styles"] = append(plan.FreshData["generation_styles"], style)
		}
	}
}

// workflowPriority lists candidate workflow files per scene type, most
// specific first. The first that exists on disk wins.
var workflowPriority = map[string][]string{
	"action":   {"video_action.json", "video_wan.json", "text2img.json"},
	"romantic": {"portrait_soft.json", "text2img.json"},
	"dialogue": {"video_dialogue.json", "text2img.json"},
	"default":  {"text2img.json"},
}

func (r *Resolver) selectWorkflow(plan *Plan) {
	candidates, ok := workflowPriority[plan.Analysis.SceneType]
	if !ok {
		candidates = workflowPriority["default"]
	}
	for _, name := range candidates {
		path := filepath.Join(r.dirs.Workflows, name)
		if fileExists(path) {
			plan.Resources.WorkflowFile = path
			plan.Resources.Reasoning = append(plan.Resources.Reasoning,
				fmt.Sprintf("workflow %q selected for scene type %q", name, plan.Analysis.SceneType))
			return
		}
	}
	plan.Warnings = append(plan.Warnings, "no workflow file found")
}

// checkpointsByStyle lists candidate checkpoints per style.
var checkpointsByStyle = map[string][]string{
	"cyberpunk":         {"cyberpunkAnime_v10.safetensors", "animagineXL_v31.safetensors"},
	"photorealistic":    {"realvisXL_v40.safetensors", "juggernautXL_v9.safetensors"},
	"traditional_anime": {"animagineXL_v31.safetensors", "counterfeitV30.safetensors"},
	"watercolor":        {"counterfeitV30.safetensors", "animagineXL_v31.safetensors"},
}

func (r *Resolver) selectCheckpoint(plan *Plan) {
	style := plan.Analysis.Style
	candidates := checkpointsByStyle[style]
	if candidates == nil {
		candidates = checkpointsByStyle["traditional_anime"]
	}
	for _, name := range candidates {
		if fileExists(filepath.Join(r.dirs.Checkpoints, name)) {
			plan.Resources.Checkpoint = name
			plan.Resources.Reasoning = append(plan.Resources.Reasoning,
				fmt.Sprintf("checkpoint %q selected for style %q", name, style))
			return
		}
	}
	// No checkpoint on disk: leave empty and let the composer default.
	plan.Resources.Reasoning = append(plan.Resources.Reasoning,
		"no style checkpoint found on disk, composer default applies")
}

// selectLoras picks adapters from matched characters' lora_path columns,
// filtered to files that exist, deduplicated, at standard strength. A style
// adapter named after the resolved style is appended after the character
// pass when one exists on disk.
func (r *Resolver) selectLoras(plan *Plan) {
	seen := map[string]bool{}
	for _, ch := range plan.Characters {
		if ch.LoraPath == nil || *ch.LoraPath == "" {
			continue
		}
		name := *ch.LoraPath
		if seen[name] {
			continue
		}
		if !fileExists(filepath.Join(r.dirs.Loras, name)) {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("LoRA file %q for character %q not found on disk", name, ch.Slug))
			continue
		}
		seen[name] = true
		lora := Lora{Name: name, Strength: defaultLoraStrength}
		if ch.LoraTrigger != nil {
			lora.Trigger = *ch.LoraTrigger
		}
		plan.Resources.Loras = append(plan.Resources.Loras, lora)
		plan.Resources.Reasoning = append(plan.Resources.Reasoning,
			fmt.Sprintf("LoRA %q selected for character %q", name, ch.Slug))
	}

	if style := plan.Analysis.Style; style != "" {
		name := style + ".safetensors"
		if !seen[name] && fileExists(filepath.Join(r.dirs.Loras, name)) {
			seen[name] = true
			plan.Resources.Loras = append(plan.Resources.Loras,
				Lora{Name: name, Strength: defaultLoraStrength})
			plan.Resources.Reasoning = append(plan.Resources.Reasoning,
				fmt.Sprintf("style LoRA %q appended for style %q", name, style))
		}
	}
}

// buildPositivePrompt assembles the prompt in fixed order: quality tokens,
// LoRA triggers, character phrases, scene phrases, style tokens, scene-type
// tokens, location tokens.
func (r *Resolver) buildPositivePrompt(plan *Plan) {
	parts := []string{qualityTokens}

	// Triggers are mandatory: a LoRA without its trigger never activates.
	for _, lora := range plan.Resources.Loras {
		if lora.Trigger != "" {
			parts = append(parts, lora.Trigger)
		}
	}

	for _, ch := range plan.Characters {
		if phrase := characterPhrase(&ch); phrase != "" {
			parts = append(parts, phrase)
		}
	}

	for _, raw := range plan.FreshData["scenes"] {
		scene, ok := raw.(*catalog.Scene)
		if !ok {
			continue
		}
		if phrase := scenePhrase(scene); phrase != "" {
			parts = append(parts, phrase)
		}
	}

	switch plan.Analysis.Style {
	case "cyberpunk":
		parts = append(parts, "cyberpunk aesthetic, neon lights, rain-slicked streets")
	case "photorealistic":
		parts = append(parts, "photorealistic, 8k uhd, film grain, natural lighting")
	}

	switch plan.Analysis.SceneType {
	case "action":
		parts = append(parts, "dynamic pose, motion blur, intense action")
	case "romantic":
		parts = append(parts, "warm lighting, soft focus, emotional")
	}

	if plan.Analysis.Location != "" {
		parts = append(parts, plan.Analysis.Location)
	}

	plan.Resources.PositivePrompt = strings.Join(parts, ", ")
	plan.Resources.Reasoning = append(plan.Resources.Reasoning,
		fmt.Sprintf("positive prompt assembled from %d segments", len(parts)))
}

func (r *Resolver) buildNegativePrompt(plan *Plan) {
	negative := negativeBase
	switch plan.Analysis.SceneType {
	case "action":
		negative += ", static pose, standing still, calm expression"
	case "romantic":
		negative += ", cold, harsh, violent, aggressive"
	}
	plan.Resources.NegativePrompt = negative
}

// characterPhrase builds one description phrase from fresh catalog fields,
// capped at a few fields with bounded length each.
func characterPhrase(ch *catalog.Character) string {
	fields := []string{ch.Name}
	candidates := []string{ch.DesignPrompt}
	for _, key := range []string{"hair", "eyes", "clothing", "key_features"} {
		if v, ok := ch.Appearance[key].(string); ok && v != "" {
			candidates = append(candidates, v)
		}
	}
	for _, c := range candidates {
		if len(fields)-1 >= maxCharacterFields {
			break
		}
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if len(c) > maxFieldChars {
			c = c[:maxFieldChars]
		}
		fields = append(fields, c)
	}
	if len(fields) == 1 {
		return ch.Name
	}
	return strings.Join(fields, ", ")
}

func scenePhrase(scene *catalog.Scene) string {
	for _, candidate := range []string{scene.Description, scene.NarrativeText, scene.Location} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			if len(candidate) > maxFieldChars {
				candidate = candidate[:maxFieldChars]
			}
			return candidate
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func parseID(s string) (int64, bool) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err == nil
}
