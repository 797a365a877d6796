// Package ambiguity detects unclear aspects of generation requests and
// resolves them: some by asking the user, most by computing sensible
// defaults.
package ambiguity

// Ambiguity types.
const (
	ContentTypeUnclear        = "content_type_unclear"
	ScopeAmbiguous            = "scope_ambiguous"
	StyleConflicting          = "style_conflicting"
	CharacterUndefined        = "character_undefined"
	DurationMissing           = "duration_missing"
	QualityVague              = "quality_vague"
	UrgencyUnclear            = "urgency_unclear"
	TechnicalIncomplete       = "technical_incomplete"
	ContradictoryRequirements = "contradictory_requirements"
	InsufficientDetail        = "insufficient_detail"
)

// Severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Resolution strategies, in the priority order they are attempted.
const (
	StrategyUserClarification     = "user_clarification"
	StrategyIntelligentDefault    = "intelligent_default"
	StrategyContextInference      = "context_inference"
	StrategyTemplateSuggestion    = "template_suggestion"
	StrategyProgressiveRefinement = "progressive_refinement"
	StrategyFallbackWorkflow      = "fallback_workflow"
	StrategyHybridApproach        = "hybrid_approach"
)

// Detection is one detected issue on a request.
type Detection struct {
	Type           string         `json:"type"`
	Confidence     float64        `json:"confidence"`
	Description    string         `json:"description"`
	AffectedFields []string       `json:"affected_fields"`
	Evidence       []string       `json:"evidence"`
	Severity       string         `json:"severity"`
	Blocking       bool           `json:"blocking"`
	ContextClues   map[string]any `json:"context_clues,omitempty"`
}

// Question is the structure returned by the user-clarification strategy.
type Question struct {
	Question          string   `json:"question"`
	Options           []string `json:"options,omitempty"`
	DefaultAnswer     string   `json:"default_answer"`
	ValidationPattern string   `json:"validation_pattern,omitempty"`
	TimeoutSeconds    int      `json:"timeout_seconds"`
	Priority          int      `json:"priority"`
}

// RefinementPlan is the structure returned by progressive refinement.
type RefinementPlan struct {
	InitialQuestion    string   `json:"initial_question"`
	FollowUpQuestions  []string `json:"follow_up_questions"`
	ExpectedIterations int      `json:"expected_iterations"`
}

// Resolution is the outcome of resolving one detection. ResolvedValue is a
// literal, a Question, or a RefinementPlan depending on the strategy.
type Resolution struct {
	AmbiguityType           string  `json:"ambiguity_type"`
	Strategy                string  `json:"strategy"`
	ResolvedValue           any     `json:"resolved_value"`
	Confidence              float64 `json:"confidence"`
	UserInteractionRequired bool    `json:"user_interaction_required"`
}

// Result is the orchestrator's combined output for one request.
type Result struct {
	HasAmbiguities          bool         `json:"has_ambiguities"`
	Ambiguities             []Detection  `json:"ambiguities"`
	Resolutions             []Resolution `json:"resolutions"`
	RequiresUserInteraction bool         `json:"requires_user_interaction"`
	Confidence              float64      `json:"confidence"`
	BlockingIssues          []Detection  `json:"blocking_issues"`
}
