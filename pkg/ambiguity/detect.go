package ambiguity

import (
	"fmt"
	"regexp"

	"github.com/renderloom/loom/pkg/intent"
)

// detectionRule is one pattern-library entry.
type detectionRule struct {
	ambiguityType string
	pattern       *regexp.Regexp
	evidence      string
	severity      string
	blocking      bool
	confidence    float64
	fields        []string
}

var detectionRules = []detectionRule{
	{
		ambiguityType: ContentTypeUnclear,
		pattern:       regexp.MustCompile(`(?i)\b(image|picture|portrait)\b.*\b(video|animation|clip)\b|\b(video|animation|clip)\b.*\b(image|picture|portrait)\b`),
		evidence:      "request names both still-image and video output",
		severity:      SeverityHigh,
		blocking:      true,
		confidence:    0.9,
		fields:        []string{"content_type"},
	},
	{
		ambiguityType: StyleConflicting,
		pattern:       regexp.MustCompile(`(?i)\b(realistic|photorealistic|photo-real)\b.*\b(anime|cartoon|manga|cel)\b|\b(anime|cartoon|manga|cel)\b.*\b(realistic|photorealistic|photo-real)\b`),
		evidence:      "request mixes realistic and stylized art directions",
		severity:      SeverityHigh,
		blocking:      true,
		confidence:    0.85,
		fields:        []string{"style_preference"},
	},
	{
		ambiguityType: QualityVague,
		pattern:       regexp.MustCompile(`(?i)\b(good|nice|better|best possible|high quality)\b`),
		evidence:      "quality described only in relative terms",
		severity:      SeverityLow,
		blocking:      false,
		confidence:    0.6,
		fields:        []string{"quality_level"},
	},
	{
		ambiguityType: UrgencyUnclear,
		pattern:       regexp.MustCompile(`(?i)\b(soon|sometime|whenever|eventually)\b`),
		evidence:      "timing described without a concrete deadline",
		severity:      SeverityLow,
		blocking:      false,
		confidence:    0.55,
		fields:        []string{"urgency_level"},
	},
	{
		ambiguityType: ContradictoryRequirements,
		pattern:       regexp.MustCompile(`(?i)\b(fast|quick|quickly)\b.*\b(highest|best|maximum) quality\b|\bdetailed\b.*\bsimple\b`),
		evidence:      "speed and quality demands pull in opposite directions",
		severity:      SeverityMedium,
		blocking:      false,
		confidence:    0.7,
		fields:        []string{"quality_level", "urgency_level"},
	},
	{
		ambiguityType: InsufficientDetail,
		pattern:       regexp.MustCompile(`(?i)^\s*(make|create|generate|draw)?\s*(something|anything|stuff|whatever)\b`),
		evidence:      "request gives no concrete subject",
		severity:      SeverityMedium,
		blocking:      false,
		confidence:    0.75,
		fields:        []string{"processed_prompt"},
	},
}

// Detect runs the pattern library plus classification-derived checks.
func Detect(userPrompt string, classification *intent.Classification) []Detection {
	var detections []Detection
	seen := map[string]bool{}

	for _, rule := range detectionRules {
		if !rule.pattern.MatchString(userPrompt) || seen[rule.ambiguityType] {
			continue
		}
		seen[rule.ambiguityType] = true
		detections = append(detections, Detection{
			Type:           rule.ambiguityType,
			Confidence:     rule.confidence,
			Description:    rule.evidence,
			AffectedFields: rule.fields,
			Evidence:       []string{rule.evidence},
			Severity:       rule.severity,
			Blocking:       rule.blocking,
		})
	}

	if classification == nil {
		return detections
	}

	// Low classifier confidence is itself an ambiguity; very low blocks.
	if classification.ConfidenceScore < 0.7 && !seen[ScopeAmbiguous] {
		blocking := classification.ConfidenceScore < 0.4
		severity := SeverityMedium
		if blocking {
			severity = SeverityHigh
		}
		detections = append(detections, Detection{
			Type:       ScopeAmbiguous,
			Confidence: 1 - classification.ConfidenceScore,
			Description: fmt.Sprintf("classification confidence %.2f is below threshold",
				classification.ConfidenceScore),
			AffectedFields: []string{"generation_scope"},
			Evidence:       []string{"low classification confidence"},
			Severity:       severity,
			Blocking:       blocking,
			ContextClues:   map[string]any{"confidence": classification.ConfidenceScore},
		})
	}

	if classification.ContentType == intent.ContentVideo &&
		classification.DurationSeconds == nil && !seen[DurationMissing] {
		detections = append(detections, Detection{
			Type:           DurationMissing,
			Confidence:     0.95,
			Description:    "video requested without a duration",
			AffectedFields: []string{"duration_seconds"},
			Evidence:       []string{"content_type=video", "no duration found"},
			Severity:       SeverityMedium,
			Blocking:       false,
		})
	}

	if len(classification.CharacterNames) == 0 &&
		(classification.GenerationScope == intent.ScopeCharacterProfile ||
			classification.GenerationScope == intent.ScopeCharacterScene) &&
		!seen[CharacterUndefined] {
		detections = append(detections, Detection{
			Type:           CharacterUndefined,
			Confidence:     0.65,
			Description:    "character-focused request names no character",
			AffectedFields: []string{"character_names"},
			Evidence:       []string{"scope is character-focused", "no names extracted"},
			Severity:       SeverityMedium,
			Blocking:       false,
		})
	}

	return detections
}
