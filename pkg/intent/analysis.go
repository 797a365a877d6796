package intent

import (
	"context"
	"fmt"

	"github.com/renderloom/loom/pkg/llm"
)

// PerformContextualAnalysis asks the collaborator for a deep read of the
// prompt: entities, scene elements, style and quality indicators, and points
// that would need clarification. Falls back to a pattern-derived sketch when
// the collaborator is unreachable.
func (c *Classifier) PerformContextualAnalysis(ctx context.Context, userPrompt string) *ContextualAnalysis {
	if c.llm != nil {
		ctx, cancel := context.WithTimeout(ctx, llm.IntentTimeout)
		defer cancel()

		query := fmt.Sprintf(`Analyze this generation request. Respond with JSON only:
{"intent_confidence": 0-1, "semantic_categories": [], "character_entities":
[{"name","physical_description","personality_traits":[],"role","relationships":{},
"confidence":0-1,"context_clues":[]}], "scene_elements": [],
"artistic_style_indicators": [], "temporal_indicators": [],
"quality_indicators": [], "complexity_markers": [], "ambiguity_points": [],
"suggested_clarifications": []}

Request: %s`, userPrompt)

		var out ContextualAnalysis
		err := c.llm.QueryJSON(ctx, &llm.QueryRequest{
			Query:          query,
			ConversationID: "analysis",
			Parameters:     map[string]any{"temperature": 0.2},
		}, &out)
		if err == nil {
			return &out
		}
		c.logger.Warn("Contextual analysis failed, using pattern sketch", "error", err)
	}

	patterns := runPatterns(userPrompt)
	analysis := &ContextualAnalysis{
		IntentConfidence:        0.4,
		SemanticCategories:      []string{},
		CharacterEntities:       []CharacterEntity{},
		SceneElements:           []string{},
		ArtisticStyleIndicators: []string{},
		TemporalIndicators:      []string{},
		QualityIndicators:       []string{},
		ComplexityMarkers:       []string{},
		AmbiguityPoints:         []string{},
		SuggestedClarifications: []string{},
	}
	if patterns.ContentType != "" {
		analysis.SemanticCategories = append(analysis.SemanticCategories, patterns.ContentType)
	}
	if patterns.Style != "" {
		analysis.ArtisticStyleIndicators = append(analysis.ArtisticStyleIndicators, patterns.Style)
	}
	if patterns.DurationSeconds != nil {
		analysis.TemporalIndicators = append(analysis.TemporalIndicators,
			fmt.Sprintf("%d seconds", *patterns.DurationSeconds))
	}
	for _, name := range patterns.CharacterNames {
		analysis.CharacterEntities = append(analysis.CharacterEntities, CharacterEntity{
			Name:       name,
			Confidence: 0.5,
		})
	}
	if patterns.Matched {
		analysis.IntentConfidence = 0.6
	}
	return analysis
}
