// Package intent turns free-text generation requests into typed plans by
// combining deterministic pattern rules with a language-model collaborator.
package intent

import "time"

// Content types.
const (
	ContentImage      = "image"
	ContentVideo      = "video"
	ContentAudio      = "audio"
	ContentMixedMedia = "mixed_media"
)

// Generation scopes.
const (
	ScopeCharacterProfile = "character_profile"
	ScopeCharacterScene   = "character_scene"
	ScopeEnvironment      = "environment"
	ScopeActionSequence   = "action_sequence"
	ScopeDialogueScene    = "dialogue_scene"
	ScopeFullEpisode      = "full_episode"
	ScopeBatchGeneration  = "batch_generation"
)

// Urgency levels.
const (
	UrgencyImmediate = "immediate"
	UrgencyUrgent    = "urgent"
	UrgencyStandard  = "standard"
	UrgencyScheduled = "scheduled"
	UrgencyBatch     = "batch_processing"
)

// Complexity levels.
const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
	ComplexityExpert   = "expert"
)

// Classification is the typed plan derived from one request.
type Classification struct {
	RequestID            string    `json:"request_id"`
	ContentType          string    `json:"content_type"`
	GenerationScope      string    `json:"generation_scope"`
	StylePreference      string    `json:"style_preference"`
	UrgencyLevel         string    `json:"urgency_level"`
	ComplexityLevel      string    `json:"complexity_level"`
	CharacterNames       []string  `json:"character_names"`
	DurationSeconds      *int      `json:"duration_seconds,omitempty"`
	FrameCount           *int      `json:"frame_count,omitempty"`
	Resolution           string    `json:"resolution"`
	AspectRatio          string    `json:"aspect_ratio"`
	QualityLevel         string    `json:"quality_level"`
	PostProcessing       []string  `json:"post_processing"`
	OutputFormat         string    `json:"output_format"`
	TargetService        string    `json:"target_service"`
	TargetWorkflow       string    `json:"target_workflow"`
	EstimatedTimeMinutes float64   `json:"estimated_time_minutes"`
	EstimatedVramGB      float64   `json:"estimated_vram_gb"`
	UserPrompt           string    `json:"user_prompt"`
	ProcessedPrompt      string    `json:"processed_prompt"`
	ConfidenceScore      float64   `json:"confidence_score"`
	AmbiguityFlags       []string  `json:"ambiguity_flags"`
	FallbackOptions      []string  `json:"fallback_options"`
	CreatedAt            time.Time `json:"created_at"`
}

// CharacterEntity is one character the contextual analysis found in a prompt.
type CharacterEntity struct {
	Name                string            `json:"name"`
	PhysicalDescription string            `json:"physical_description"`
	PersonalityTraits   []string          `json:"personality_traits"`
	Role                string            `json:"role"`
	Relationships       map[string]string `json:"relationships"`
	Confidence          float64           `json:"confidence"`
	ContextClues        []string          `json:"context_clues"`
}

// ContextualAnalysis is the deep-read companion to classification.
type ContextualAnalysis struct {
	IntentConfidence        float64           `json:"intent_confidence"`
	SemanticCategories      []string          `json:"semantic_categories"`
	CharacterEntities       []CharacterEntity `json:"character_entities"`
	SceneElements           []string          `json:"scene_elements"`
	ArtisticStyleIndicators []string          `json:"artistic_style_indicators"`
	TemporalIndicators      []string          `json:"temporal_indicators"`
	QualityIndicators       []string          `json:"quality_indicators"`
	ComplexityMarkers       []string          `json:"complexity_markers"`
	AmbiguityPoints         []string          `json:"ambiguity_points"`
	SuggestedClarifications []string          `json:"suggested_clarifications"`
}
