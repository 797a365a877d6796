package ambiguity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderloom/loom/pkg/intent"
)

func classified(contentType string, confidence float64) *intent.Classification {
	return &intent.Classification{
		ContentType:     contentType,
		GenerationScope: intent.ScopeCharacterScene,
		ConfidenceScore: confidence,
		CharacterNames:  []string{"Kai"},
	}
}

func TestImageAndVideoIsBlocking(t *testing.T) {
	result := Process("I want an image and a video of the castle",
		classified(intent.ContentMixedMedia, 0.8), nil)

	require.True(t, result.HasAmbiguities)
	var found *Detection
	for i := range result.Ambiguities {
		if result.Ambiguities[i].Type == ContentTypeUnclear {
			found = &result.Ambiguities[i]
		}
	}
	require.NotNil(t, found, "content_type_unclear must be detected")
	assert.True(t, found.Blocking)
	assert.NotEmpty(t, result.BlockingIssues)
	assert.True(t, result.RequiresUserInteraction)
}

func TestVideoWithoutDurationIsNonBlocking(t *testing.T) {
	result := Process("Create a video of Kai", classified(intent.ContentVideo, 0.8), nil)

	var found *Detection
	for i := range result.Ambiguities {
		if result.Ambiguities[i].Type == DurationMissing {
			found = &result.Ambiguities[i]
		}
	}
	require.NotNil(t, found)
	assert.False(t, found.Blocking)
	assert.Empty(t, result.BlockingIssues)
}

func TestDurationMissingResolvesToIntelligentDefault(t *testing.T) {
	result := Process("Create a video of Kai", classified(intent.ContentVideo, 0.8), nil)

	var res *Resolution
	for i := range result.Resolutions {
		if result.Resolutions[i].AmbiguityType == DurationMissing {
			res = &result.Resolutions[i]
		}
	}
	require.NotNil(t, res)
	assert.Equal(t, StrategyIntelligentDefault, res.Strategy)
	assert.Equal(t, 15, res.ResolvedValue)
	assert.False(t, res.UserInteractionRequired)
}

func TestStyleConflictingAsksUser(t *testing.T) {
	result := Process("realistic anime cartoon hero", classified(intent.ContentImage, 0.8), nil)

	var res *Resolution
	for i := range result.Resolutions {
		if result.Resolutions[i].AmbiguityType == StyleConflicting {
			res = &result.Resolutions[i]
		}
	}
	require.NotNil(t, res)
	assert.Equal(t, StrategyUserClarification, res.Strategy)
	q, ok := res.ResolvedValue.(*Question)
	require.True(t, ok)
	assert.NotEmpty(t, q.Options)
	assert.True(t, res.UserInteractionRequired)
}

func TestLowConfidenceBlocksBelowFloor(t *testing.T) {
	low := Detect("whatever prompt", classified(intent.ContentImage, 0.55))
	var d *Detection
	for i := range low {
		if low[i].Type == ScopeAmbiguous {
			d = &low[i]
		}
	}
	require.NotNil(t, d)
	assert.False(t, d.Blocking)

	veryLow := Detect("whatever prompt", classified(intent.ContentImage, 0.3))
	d = nil
	for i := range veryLow {
		if veryLow[i].Type == ScopeAmbiguous {
			d = &veryLow[i]
		}
	}
	require.NotNil(t, d)
	assert.True(t, d.Blocking)
	assert.Equal(t, SeverityHigh, d.Severity)
}

func TestContextInferenceWinsForScope(t *testing.T) {
	d := Detection{Type: ScopeAmbiguous}
	r := Resolve(d, &Context{UserPrompt: "two knights fight on a bridge"})
	assert.Equal(t, StrategyContextInference, r.Strategy)
	assert.Equal(t, intent.ScopeActionSequence, r.ResolvedValue)
	assert.Equal(t, 0.75, r.Confidence)
}

func TestFallbackWorkflowIsLastResort(t *testing.T) {
	d := Detection{Type: QualityVague}
	r := Resolve(d, &Context{UserPrompt: ""})
	// intelligent default still fires for quality; force an unknown type for
	// the true last resort.
	assert.NotEqual(t, StrategyFallbackWorkflow, r.Strategy)

	unknown := Resolve(Detection{Type: "never_seen"}, &Context{})
	assert.Equal(t, StrategyFallbackWorkflow, unknown.Strategy)
	assert.Equal(t, 0.3, unknown.Confidence)
}

func TestInteractionWeightedConfidence(t *testing.T) {
	// One automatic resolution (duration default 0.8) and one clarification
	// (0.95, weight 0.8): (0.8*1 + 0.95*0.8) / 1.8.
	result := Process("an image and a video of Kai", classified(intent.ContentVideo, 0.8), nil)
	require.Len(t, result.Resolutions, 2)
	var weightedSum, weightTotal float64
	for _, r := range result.Resolutions {
		w := 1.0
		if r.UserInteractionRequired {
			w = 0.8
		}
		weightedSum += r.Confidence * w
		weightTotal += w
	}
	assert.InDelta(t, weightedSum/weightTotal, result.Confidence, 1e-9)
}

func TestCleanPromptHasNoAmbiguities(t *testing.T) {
	result := Process("Generate a portrait of Kai in watercolor",
		classified(intent.ContentImage, 0.9), nil)
	assert.False(t, result.HasAmbiguities)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Empty(t, result.BlockingIssues)
}
