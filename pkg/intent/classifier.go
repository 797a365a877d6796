package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/renderloom/loom/pkg/llm"
)

// Defaults applied when neither the collaborator nor the patterns decide a
// field.
const (
	defaultContentType = ContentImage
	defaultScope       = ScopeCharacterProfile
	defaultStyle       = "traditional_anime"
	defaultQuality     = "standard"
)

// Classifier derives typed plans from free text.
type Classifier struct {
	llm    *llm.Client
	logger *slog.Logger
}

// NewClassifier creates a classifier over the collaborator client. A nil
// client is allowed; classification then runs on patterns alone.
func NewClassifier(client *llm.Client, logger *slog.Logger) *Classifier {
	return &Classifier{llm: client, logger: logger}
}

// llmClassification is the JSON shape requested from the collaborator.
// Pointer fields distinguish "absent" from zero values during the merge.
type llmClassification struct {
	ContentType     *string  `json:"content_type"`
	GenerationScope *string  `json:"generation_scope"`
	StylePreference *string  `json:"style_preference"`
	UrgencyLevel    *string  `json:"urgency_level"`
	ComplexityLevel *string  `json:"complexity_level"`
	CharacterNames  []string `json:"character_names"`
	DurationSeconds *int     `json:"duration_seconds"`
	QualityLevel    *string  `json:"quality_level"`
	ConfidenceScore *float64 `json:"confidence_score"`
}

// Classify produces a classification for one request. The collaborator wins
// per field when it answered and the value parses; pattern extraction fills
// the rest; global defaults close any remaining gap. Failures degrade to a
// low-confidence fallback rather than an error.
func (c *Classifier) Classify(ctx context.Context, userPrompt, userID string) *Classification {
	result := &Classification{
		RequestID:       uuid.NewString(),
		UserPrompt:      userPrompt,
		ProcessedPrompt: strings.TrimSpace(userPrompt),
		CharacterNames:  []string{},
		AmbiguityFlags:  []string{},
		FallbackOptions: []string{},
		PostProcessing:  []string{},
		CreatedAt:       time.Now().UTC(),
	}
	if strings.TrimSpace(userPrompt) == "" {
		return c.fallback(result)
	}

	patterns := runPatterns(userPrompt)
	var fromLLM *llmClassification
	if c.llm != nil {
		fromLLM = c.askCollaborator(ctx, userPrompt, userID)
	}

	result.ContentType = mergeField(strPtr(fromLLM, func(l *llmClassification) *string { return l.ContentType }),
		patterns.ContentType, defaultContentType)
	result.GenerationScope = mergeField(strPtr(fromLLM, func(l *llmClassification) *string { return l.GenerationScope }),
		patterns.Scope, defaultScope)
	result.StylePreference = mergeField(strPtr(fromLLM, func(l *llmClassification) *string { return l.StylePreference }),
		patterns.Style, defaultStyle)
	result.UrgencyLevel = mergeField(strPtr(fromLLM, func(l *llmClassification) *string { return l.UrgencyLevel }),
		patterns.Urgency, UrgencyStandard)
	result.QualityLevel = mergeField(strPtr(fromLLM, func(l *llmClassification) *string { return l.QualityLevel }),
		"", defaultQuality)

	if fromLLM != nil && fromLLM.ComplexityLevel != nil {
		result.ComplexityLevel = *fromLLM.ComplexityLevel
	} else {
		result.ComplexityLevel = estimateComplexity(userPrompt)
	}

	switch {
	case fromLLM != nil && len(fromLLM.CharacterNames) > 0:
		result.CharacterNames = fromLLM.CharacterNames
	case len(patterns.CharacterNames) > 0:
		result.CharacterNames = patterns.CharacterNames
	}

	switch {
	case fromLLM != nil && fromLLM.DurationSeconds != nil && *fromLLM.DurationSeconds > 0:
		result.DurationSeconds = fromLLM.DurationSeconds
	case patterns.DurationSeconds != nil:
		result.DurationSeconds = patterns.DurationSeconds
	}
	if result.ContentType == ContentVideo && result.DurationSeconds != nil {
		frames := *result.DurationSeconds * 24
		result.FrameCount = &frames
	}

	switch {
	case fromLLM != nil && fromLLM.ConfidenceScore != nil:
		result.ConfidenceScore = clamp01(*fromLLM.ConfidenceScore)
	case patterns.Matched:
		result.ConfidenceScore = 0.7
	default:
		result.ConfidenceScore = 0.3
	}

	c.fillEstimates(result)
	return result
}

// askCollaborator requests a JSON classification; nil on any failure.
func (c *Classifier) askCollaborator(ctx context.Context, userPrompt, userID string) *llmClassification {
	ctx, cancel := context.WithTimeout(ctx, llm.IntentTimeout)
	defer cancel()

	query := fmt.Sprintf(`Classify this generation request into JSON with keys:
content_type (image|video|audio|mixed_media), generation_scope
(character_profile|character_scene|environment|action_sequence|dialogue_scene|full_episode|batch_generation),
style_preference, urgency_level (immediate|urgent|standard|scheduled|batch_processing),
complexity_level (simple|moderate|complex|expert), character_names (array),
duration_seconds (number or null), quality_level, confidence_score (0-1).
Respond with JSON only.

Request: %s`, userPrompt)

	var out llmClassification
	err := c.llm.QueryJSON(ctx, &llm.QueryRequest{
		Query:          query,
		ConversationID: "intent-" + userID,
		Parameters:     map[string]any{"temperature": 0.1},
	}, &out)
	if err != nil {
		c.logger.Warn("Collaborator classification failed, using patterns only", "error", err)
		return nil
	}
	return &out
}

// fallback produces the defined degraded classification.
func (c *Classifier) fallback(result *Classification) *Classification {
	result.ContentType = defaultContentType
	result.GenerationScope = defaultScope
	result.StylePreference = defaultStyle
	result.QualityLevel = defaultQuality
	result.UrgencyLevel = UrgencyStandard
	result.ComplexityLevel = ComplexitySimple
	result.ConfidenceScore = 0.3
	result.AmbiguityFlags = []string{"classification_failed"}
	result.FallbackOptions = []string{"guided_workflow", "manual_selection"}
	c.fillEstimates(result)
	return result
}

// fillEstimates derives resource estimates from the classified fields.
func (c *Classifier) fillEstimates(result *Classification) {
	if result.Resolution == "" {
		result.Resolution = "1024x1024"
		result.AspectRatio = "1:1"
	}
	switch result.ContentType {
	case ContentVideo:
		result.OutputFormat = "mp4"
		result.TargetWorkflow = "video_generation"
		result.EstimatedTimeMinutes = 5
		result.EstimatedVramGB = 12
		if result.DurationSeconds != nil {
			result.EstimatedTimeMinutes = float64(*result.DurationSeconds) / 3
		}
	case ContentAudio:
		result.OutputFormat = "wav"
		result.TargetWorkflow = "voice_synthesis"
		result.EstimatedTimeMinutes = 1
		result.EstimatedVramGB = 4
	default:
		result.OutputFormat = "png"
		result.TargetWorkflow = "image_generation"
		result.EstimatedTimeMinutes = 1
		result.EstimatedVramGB = 8
	}
	result.TargetService = "backend"
}

func estimateComplexity(prompt string) string {
	words := len(strings.Fields(prompt))
	switch {
	case words > 60:
		return ComplexityExpert
	case words > 30:
		return ComplexityComplex
	case words > 12:
		return ComplexityModerate
	}
	return ComplexitySimple
}

func mergeField(llmValue *string, patternValue, fallback string) string {
	if llmValue != nil && *llmValue != "" {
		return strings.ToLower(strings.TrimSpace(*llmValue))
	}
	if patternValue != "" {
		return patternValue
	}
	return fallback
}

func strPtr(l *llmClassification, get func(*llmClassification) *string) *string {
	if l == nil {
		return nil
	}
	return get(l)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
