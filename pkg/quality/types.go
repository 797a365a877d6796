// Package quality validates produced artifacts against the generation
// contract: structural integrity, real motion for videos, and visual
// plausibility.
package quality

// Gate is one pass/fail check with its observed value.
type Gate struct {
	Passed    bool    `json:"passed"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Details   string  `json:"details,omitempty"`
}

// ContractResult is the full validation outcome for one artifact.
type ContractResult struct {
	Passed           bool            `json:"passed"`
	QualityScore     float64         `json:"quality_score"`
	StructuralGates  map[string]Gate `json:"structural_gates"`
	MotionGates      map[string]Gate `json:"motion_gates"`
	QualityGates     map[string]Gate `json:"quality_gates"`
	FrameSamples     []string        `json:"frame_samples"`
	Recommendations  []string        `json:"recommendations"`
	GenerationParams map[string]any  `json:"generation_params,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// Expected artifact types.
const (
	TypeAuto  = "auto"
	TypeImage = "image"
	TypeVideo = "video"
)

// Structural thresholds.
const (
	minVideoBytes       = 50_000
	minImageBytes       = 20_000
	maxArtifactBytes    = 100_000_000
	minFrameCount       = 12
	minFramepackFrames  = 60
	durationTolerance   = 0.10
	resolutionTolerance = 0.05
)

// Motion thresholds.
const (
	minSSIMVariance    = 0.01
	minFlowMagnitude   = 0.5
	motionSampleFrames = 4
)

// Visual thresholds.
const (
	maxBlankScore     = 0.90
	minSharpness      = 100.0
	minColorSpread    = 10.0
	minOverallVisual  = 0.5
	passingScoreFloor = 0.5
)
