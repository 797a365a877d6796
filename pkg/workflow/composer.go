// Package workflow composes node-graph documents for the generative backend
// from a resolved generation plan.
package workflow

import (
	"fmt"
	"math/rand"
)

// Graph is a node-graph document keyed by node id.
type Graph map[string]any

// Node is one graph node.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// minVideoBatch is the temporal-coherence floor for the motion module. The
// composer never emits a smaller batch, whatever duration was requested.
const minVideoBatch = 16

// Defaults applied when the plan leaves a knob unset.
const (
	DefaultCheckpoint = "sd_xl_base_1.0.safetensors"
	DefaultSampler    = "euler"
	DefaultScheduler  = "normal"
	DefaultNegative   = "lowres, bad anatomy, bad hands, text, error, missing fingers, extra digit, fewer digits, cropped, worst quality, low quality, jpeg artifacts, signature, watermark"
)

// LoraSpec selects one weight adapter with its strength.
type LoraSpec struct {
	Name     string  `json:"name"`
	Strength float64 `json:"strength"`
	Trigger  string  `json:"trigger,omitempty"`
}

// ImageParams are the knobs of a single-image workflow.
type ImageParams struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	Cfg            float64
	Seed           *int64
	Checkpoint     string
	Sampler        string
	Scheduler      string
	Loras          []LoraSpec
}

// VideoParams are the knobs of a video workflow.
type VideoParams struct {
	Prompt          string
	NegativePrompt  string
	DurationSeconds int
	FPS             int
	Width           int
	Height          int
	Steps           int
	Cfg             float64
	Checkpoint      string
	Sampler         string
	Scheduler       string
	Loras           []LoraSpec
}

// SnapResolution rounds a dimension down to the nearest multiple of 64, the
// latent-space granularity of the backend's models.
func SnapResolution(v int) int {
	if v < 64 {
		return 64
	}
	return v - v%64
}

// NewSeed returns a random non-negative 32-bit seed.
func NewSeed() int64 {
	return int64(rand.Int31())
}

// BuildImageWorkflow emits a text-to-image graph.
func BuildImageWorkflow(p ImageParams) Graph {
	applyImageDefaults(&p)

	g := Graph{
		"1": Node{ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{
			"ckpt_name": p.Checkpoint,
		}},
	}
	modelRef, clipRef := wireLoras(g, p.Loras)

	g["3"] = Node{ClassType: "CLIPTextEncode", Inputs: map[string]any{
		"text": p.Prompt,
		"clip": clipRef,
	}}
	g["4"] = Node{ClassType: "CLIPTextEncode", Inputs: map[string]any{
		"text": p.NegativePrompt,
		"clip": clipRef,
	}}
	g["5"] = Node{ClassType: "EmptyLatentImage", Inputs: map[string]any{
		"width":      SnapResolution(p.Width),
		"height":     SnapResolution(p.Height),
		"batch_size": 1,
	}}
	g["6"] = Node{ClassType: "KSampler", Inputs: map[string]any{
		"model":        modelRef,
		"positive":     []any{"3", 0},
		"negative":     []any{"4", 0},
		"latent_image": []any{"5", 0},
		"seed":         *p.Seed,
		"steps":        p.Steps,
		"cfg":          p.Cfg,
		"sampler_name": p.Sampler,
		"scheduler":    p.Scheduler,
		"denoise":      1.0,
	}}
	g["7"] = Node{ClassType: "VAEDecode", Inputs: map[string]any{
		"samples": []any{"6", 0},
		"vae":     []any{"1", 2},
	}}
	g["8"] = Node{ClassType: "SaveImage", Inputs: map[string]any{
		"images":          []any{"7", 0},
		"filename_prefix": "loom",
	}}
	return g
}

// BuildVideoWorkflow emits an animated graph. batch_size is duration times
// fps and never below the temporal-coherence floor.
func BuildVideoWorkflow(p VideoParams) Graph {
	if p.FPS <= 0 {
		p.FPS = 24
	}
	if p.DurationSeconds <= 0 {
		p.DurationSeconds = 1
	}
	batch := p.DurationSeconds * p.FPS
	if batch < minVideoBatch {
		batch = minVideoBatch
	}

	seed := NewSeed()
	img := ImageParams{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Width:          p.Width,
		Height:         p.Height,
		Steps:          p.Steps,
		Cfg:            p.Cfg,
		Seed:           &seed,
		Checkpoint:     p.Checkpoint,
		Sampler:        p.Sampler,
		Scheduler:      p.Scheduler,
		Loras:          p.Loras,
	}
	applyImageDefaults(&img)

	g := BuildImageWorkflow(img)
	latent := g["5"].(Node)
	latent.Inputs["batch_size"] = batch
	g["5"] = latent

	// Motion module sits between the checkpoint (or LoRA chain) and sampler.
	sampler := g["6"].(Node)
	g["20"] = Node{ClassType: "ADE_AnimateDiffLoaderWithContext", Inputs: map[string]any{
		"model":         sampler.Inputs["model"],
		"model_name":    "mm_sd_v15_v2.ckpt",
		"beta_schedule": "sqrt_linear (AnimateDiff)",
	}}
	sampler.Inputs["model"] = []any{"20", 0}
	g["6"] = sampler

	// Replace the image save with an animated combine.
	delete(g, "8")
	g["21"] = Node{ClassType: "VHS_VideoCombine", Inputs: map[string]any{
		"images":          []any{"7", 0},
		"frame_rate":      p.FPS,
		"loop_count":      0,
		"filename_prefix": "loom",
		"format":          "video/h264-mp4",
	}}
	return g
}

// BuildBatchWorkflow emits one graph containing an independent pipeline per
// prompt, sharing a single checkpoint load.
func BuildBatchWorkflow(prompts []string, width, height, steps int) Graph {
	g := Graph{
		"1": Node{ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{
			"ckpt_name": DefaultCheckpoint,
		}},
	}
	for i, prompt := range prompts {
		base := 10 * (i + 1)
		pos := fmt.Sprintf("%d", base)
		neg := fmt.Sprintf("%d", base+1)
		lat := fmt.Sprintf("%d", base+2)
		smp := fmt.Sprintf("%d", base+3)
		dec := fmt.Sprintf("%d", base+4)
		save := fmt.Sprintf("%d", base+5)

		g[pos] = Node{ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": prompt, "clip": []any{"1", 1},
		}}
		g[neg] = Node{ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": DefaultNegative, "clip": []any{"1", 1},
		}}
		g[lat] = Node{ClassType: "EmptyLatentImage", Inputs: map[string]any{
			"width": SnapResolution(width), "height": SnapResolution(height), "batch_size": 1,
		}}
		g[smp] = Node{ClassType: "KSampler", Inputs: map[string]any{
			"model":        []any{"1", 0},
			"positive":     []any{pos, 0},
			"negative":     []any{neg, 0},
			"latent_image": []any{lat, 0},
			"seed":         NewSeed(),
			"steps":        steps,
			"cfg":          7.0,
			"sampler_name": DefaultSampler,
			"scheduler":    DefaultScheduler,
			"denoise":      1.0,
		}}
		g[dec] = Node{ClassType: "VAEDecode", Inputs: map[string]any{
			"samples": []any{smp, 0}, "vae": []any{"1", 2},
		}}
		g[save] = Node{ClassType: "SaveImage", Inputs: map[string]any{
			"images": []any{dec, 0}, "filename_prefix": fmt.Sprintf("loom_batch_%02d", i),
		}}
	}
	return g
}

// requiredClasses are the node classes every valid graph must contain. Text
// encoders must appear at least twice (positive and negative).
var requiredClasses = []string{
	"CheckpointLoaderSimple",
	"CLIPTextEncode",
	"KSampler",
	"VAEDecode",
}

var saveClasses = map[string]bool{
	"SaveImage":        true,
	"VHS_VideoCombine": true,
}

// Validate checks that the mandatory node classes are present: a model
// loader, positive and negative text encoders, a sampler, a decoder, and a
// save node.
func Validate(g Graph) bool {
	counts := map[string]int{}
	hasSave := false
	for _, raw := range g {
		var class string
		switch n := raw.(type) {
		case Node:
			class = n.ClassType
		case map[string]any:
			class, _ = n["class_type"].(string)
		}
		counts[class]++
		if saveClasses[class] {
			hasSave = true
		}
	}
	for _, class := range requiredClasses {
		if counts[class] == 0 {
			return false
		}
	}
	return hasSave && counts["CLIPTextEncode"] >= 2
}

func applyImageDefaults(p *ImageParams) {
	if p.Checkpoint == "" {
		p.Checkpoint = DefaultCheckpoint
	}
	if p.Sampler == "" {
		p.Sampler = DefaultSampler
	}
	if p.Scheduler == "" {
		p.Scheduler = DefaultScheduler
	}
	if p.NegativePrompt == "" {
		p.NegativePrompt = DefaultNegative
	}
	if p.Steps <= 0 {
		p.Steps = 20
	}
	if p.Cfg <= 0 {
		p.Cfg = 7.0
	}
	if p.Width <= 0 {
		p.Width = 512
	}
	if p.Height <= 0 {
		p.Height = 512
	}
	if p.Seed == nil {
		seed := NewSeed()
		p.Seed = &seed
	}
}

// wireLoras chains LoraLoader nodes off the checkpoint and returns the model
// and clip references downstream nodes should consume.
func wireLoras(g Graph, loras []LoraSpec) (modelRef, clipRef []any) {
	modelRef = []any{"1", 0}
	clipRef = []any{"1", 1}
	for i, lora := range loras {
		id := fmt.Sprintf("1%02d", i+1)
		g[id] = Node{ClassType: "LoraLoader", Inputs: map[string]any{
			"model":          modelRef,
			"clip":           clipRef,
			"lora_name":      lora.Name,
			"strength_model": lora.Strength,
			"strength_clip":  lora.Strength,
		}}
		modelRef = []any{id, 0}
		clipRef = []any{id, 1}
	}
	return modelRef, clipRef
}
