package quality

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Validator runs the generation contract against produced artifacts.
type Validator struct {
	prober Prober
	logger *slog.Logger
	// framepack generators emit long sequences; their floor is higher.
	framepack bool
}

// NewValidator creates a validator over the given prober.
func NewValidator(prober Prober, framepack bool, logger *slog.Logger) *Validator {
	return &Validator{prober: prober, framepack: framepack, logger: logger}
}

// Validate checks one artifact. expectedType auto-detects from the extension
// when set to auto.
func (v *Validator) Validate(ctx context.Context, filePath string, params map[string]any, expectedType string) *ContractResult {
	result := &ContractResult{
		StructuralGates:  map[string]Gate{},
		MotionGates:      map[string]Gate{},
		QualityGates:     map[string]Gate{},
		FrameSamples:     []string{},
		Recommendations:  []string{},
		GenerationParams: params,
	}

	if expectedType == TypeAuto || expectedType == "" {
		if isImagePath(filePath) {
			expectedType = TypeImage
		} else {
			expectedType = TypeVideo
		}
	}

	if _, ok := v.structuralGates(ctx, result, filePath, params, expectedType); !ok {
		result.Passed = false
		v.recommend(result)
		return result
	}

	frames, samplePaths, err := v.prober.ExtractFrames(ctx, filePath, motionSampleFrames)
	if err != nil {
		result.Error = fmt.Sprintf("frame extraction failed: %v", err)
		result.Passed = false
		v.recommend(result)
		return result
	}
	result.FrameSamples = samplePaths

	motionOK := true
	if expectedType == TypeVideo {
		motionOK = v.motionGates(result, frames)
	}

	v.visualGates(result, frames)
	result.QualityScore = v.score(result)

	structuralOK := allPassed(result.StructuralGates)
	result.Passed = structuralOK && motionOK && result.QualityScore > passingScoreFloor
	v.recommend(result)

	v.logger.Info("Artifact validated",
		"path", filePath, "passed", result.Passed,
		"score", fmt.Sprintf("%.2f", result.QualityScore))
	return result
}

// structuralGates populates the structural checks. Returns the probe result
// and whether validation can proceed to content checks.
func (v *Validator) structuralGates(ctx context.Context, result *ContractResult, filePath string, params map[string]any, expectedType string) (*MediaInfo, bool) {
	stat, err := os.Stat(filePath)
	exists := err == nil
	result.StructuralGates["file_exists"] = Gate{
		Passed: exists, Value: boolVal(exists), Threshold: 1,
		Details: filePath,
	}
	if !exists {
		return nil, false
	}

	minBytes := int64(minImageBytes)
	if expectedType == TypeVideo {
		minBytes = minVideoBytes
	}
	sizeOK := stat.Size() >= minBytes && stat.Size() <= maxArtifactBytes
	result.StructuralGates["file_size"] = Gate{
		Passed: sizeOK, Value: float64(stat.Size()), Threshold: float64(minBytes),
		Details: fmt.Sprintf("accepted range [%d, %d]", minBytes, int64(maxArtifactBytes)),
	}

	info, err := v.prober.Probe(ctx, filePath)
	decodable := err == nil && info != nil && info.Decodable
	result.StructuralGates["valid_container"] = Gate{
		Passed: decodable, Value: boolVal(decodable), Threshold: 1,
	}
	if !decodable {
		return info, false
	}

	if expectedType == TypeVideo {
		floor := minFrameCount
		if v.framepack {
			floor = minFramepackFrames
		}
		result.StructuralGates["frame_count"] = Gate{
			Passed: info.FrameCount >= floor, Value: float64(info.FrameCount), Threshold: float64(floor),
		}

		if fps := floatParam(params, "fps", info.FPS); fps > 0 && info.FrameCount > 0 {
			expected := float64(info.FrameCount) / fps
			within := math.Abs(info.Duration-expected) <= durationTolerance*expected
			result.StructuralGates["duration"] = Gate{
				Passed: within, Value: info.Duration, Threshold: expected,
				Details: fmt.Sprintf("tolerance ±%.0f%%", durationTolerance*100),
			}
		}
	}

	if ew := intParam(params, "width"); ew > 0 {
		eh := intParam(params, "height")
		within := withinPct(info.Width, ew, resolutionTolerance) &&
			(eh == 0 || withinPct(info.Height, eh, resolutionTolerance))
		result.StructuralGates["resolution"] = Gate{
			Passed: within, Value: float64(info.Width), Threshold: float64(ew),
			Details: fmt.Sprintf("%dx%d observed", info.Width, info.Height),
		}
	}

	return info, allPassed(result.StructuralGates)
}

// motionGates checks that a video actually moves. All must pass.
func (v *Validator) motionGates(result *ContractResult, frames []image.Image) bool {
	distinct := map[[16]byte]bool{}
	for _, f := range frames {
		distinct[frameHash(f)] = true
	}
	result.MotionGates["unique_frames"] = Gate{
		Passed: len(distinct) > 1, Value: float64(len(distinct)), Threshold: 2,
		Details: fmt.Sprintf("%d sampled frames", len(frames)),
	}

	if len(frames) >= 2 {
		var meanSSIM float64
		for i := 0; i < len(frames)-1; i++ {
			meanSSIM += ssim(frames[i], frames[i+1])
		}
		meanSSIM /= float64(len(frames) - 1)
		variance := 1 - meanSSIM
		result.MotionGates["ssim_variance"] = Gate{
			Passed: variance > minSSIMVariance, Value: variance, Threshold: minSSIMVariance,
		}

		flow := flowMagnitude(frames[0], frames[1])
		result.MotionGates["optical_flow"] = Gate{
			Passed: flow > minFlowMagnitude, Value: flow, Threshold: minFlowMagnitude,
			Details: "mean block displacement, px",
		}
	}

	return allPassed(result.MotionGates)
}

// visualGates scores frame content. These feed quality_score rather than
// gating directly.
func (v *Validator) visualGates(result *ContractResult, frames []image.Image) {
	var blankSum, sharpSum, colorSum, overallSum float64
	for _, f := range frames {
		blank := blankScore(f)
		sharp := laplacianVariance(f)
		color := colorSpread(f)

		blankSum += blank
		sharpSum += sharp
		colorSum += color

		frameScore := 0.4*boolVal(blank < maxBlankScore) +
			0.3*boolVal(sharp > minSharpness) +
			0.3*boolVal(color > minColorSpread)
		overallSum += frameScore
	}
	n := float64(len(frames))
	meanBlank := blankSum / n
	meanSharp := sharpSum / n
	meanColor := colorSum / n
	meanOverall := overallSum / n

	result.QualityGates["blank_detection"] = Gate{
		Passed: meanBlank < maxBlankScore, Value: meanBlank, Threshold: maxBlankScore,
	}
	result.QualityGates["sharpness"] = Gate{
		Passed: meanSharp > minSharpness, Value: meanSharp, Threshold: minSharpness,
	}
	result.QualityGates["color_distribution"] = Gate{
		Passed: meanColor > minColorSpread, Value: meanColor, Threshold: minColorSpread,
	}
	result.QualityGates["overall_visual"] = Gate{
		Passed: meanOverall > minOverallVisual, Value: meanOverall, Threshold: minOverallVisual,
	}
}

// score combines the visual gates into [0,1]: blank 0.3, sharpness 0.2,
// color 0.2, overall 0.3, each scaled linearly against its threshold.
func (v *Validator) score(result *ContractResult) float64 {
	blank := result.QualityGates["blank_detection"]
	sharp := result.QualityGates["sharpness"]
	color := result.QualityGates["color_distribution"]
	overall := result.QualityGates["overall_visual"]

	// blank is inverted: lower is better.
	blankScore := capped((blank.Threshold - blank.Value) / blank.Threshold)
	sharpScore := capped(sharp.Value / sharp.Threshold)
	colorScore := capped(color.Value / color.Threshold)
	overallScore := capped(overall.Value / overall.Threshold)

	return 0.3*blankScore + 0.2*sharpScore + 0.2*colorScore + 0.3*overallScore
}

// recommend explains each failed gate with a concrete knob to turn.
func (v *Validator) recommend(result *ContractResult) {
	addGateRecs := func(gates map[string]Gate, hints map[string]string) {
		for name, gate := range gates {
			if gate.Passed {
				continue
			}
			hint := hints[name]
			if hint == "" {
				hint = "review generation parameters"
			}
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("%s failed (observed %.2f, threshold %.2f): %s",
					name, gate.Value, gate.Threshold, hint))
		}
	}
	addGateRecs(result.StructuralGates, map[string]string{
		"file_size":   "output is implausibly small; check the model and prompt",
		"frame_count": "raise batch_size; the motion module needs more frames",
		"duration":    "frame count and fps disagree; check batch_size",
		"resolution":  "backend emitted a different size; check width/height snapping",
	})
	addGateRecs(result.MotionGates, map[string]string{
		"unique_frames": "frames are identical; raise batch_size or adjust the motion prompt",
		"ssim_variance": "almost no frame-to-frame change; strengthen the motion prompt",
		"optical_flow":  "no detectable motion; strengthen the motion prompt",
	})
	addGateRecs(result.QualityGates, map[string]string{
		"blank_detection":    "output is nearly blank; revise the prompt or switch model",
		"sharpness":          "output is blurry; raise steps or switch model",
		"color_distribution": "output is monochrome; revise the prompt",
		"overall_visual":     "overall visual quality is low; revise prompt or model",
	})
}

func allPassed(gates map[string]Gate) bool {
	for _, g := range gates {
		if !g.Passed {
			return false
		}
	}
	return true
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func capped(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func withinPct(observed, expected int, tolerance float64) bool {
	diff := math.Abs(float64(observed - expected))
	return diff <= tolerance*float64(expected)
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return fallback
}

// KindOf reports image or video for a path, mirroring the organizer's
// extension mapping.
func KindOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if imageExts[ext] {
		return TypeImage
	}
	return TypeVideo
}
