package ambiguity

import (
	"strings"

	"github.com/renderloom/loom/pkg/intent"
)

// Context carries everything a strategy may consult.
type Context struct {
	UserPrompt     string
	Classification *intent.Classification
	Templates      map[string]string
	UserDefaults   map[string]any
}

// strategy attempts to resolve one detection; nil means "cannot".
type strategy func(d Detection, ctx *Context) *Resolution

// intelligentDefaultThreshold gates the default strategy: defaults below this
// confidence are not worth skipping the user for.
const intelligentDefaultThreshold = 0.6

// strategyChain lists the strategies tried for each ambiguity type, in
// priority order. Blocking detections lead with clarification; the rest try
// automatics first.
var strategyChain = map[string][]strategy{
	ContentTypeUnclear:        {userClarification, progressiveRefinement, fallbackWorkflow},
	StyleConflicting:          {userClarification, templateSuggestion, fallbackWorkflow},
	ScopeAmbiguous:            {contextInference, intelligentDefault, userClarification, fallbackWorkflow},
	CharacterUndefined:        {contextInference, userClarification, fallbackWorkflow},
	DurationMissing:           {intelligentDefault, userClarification, fallbackWorkflow},
	QualityVague:              {intelligentDefault, fallbackWorkflow},
	UrgencyUnclear:            {intelligentDefault, fallbackWorkflow},
	TechnicalIncomplete:       {intelligentDefault, templateSuggestion, fallbackWorkflow},
	ContradictoryRequirements: {userClarification, progressiveRefinement, fallbackWorkflow},
	InsufficientDetail:        {progressiveRefinement, userClarification, fallbackWorkflow},
}

// Resolve picks the first strategy in the chain that produces a result.
func Resolve(d Detection, ctx *Context) Resolution {
	chain, ok := strategyChain[d.Type]
	if !ok {
		chain = []strategy{fallbackWorkflow}
	}
	for _, s := range chain {
		if r := s(d, ctx); r != nil {
			return *r
		}
	}
	// fallbackWorkflow never returns nil, so this is unreachable in practice.
	return *fallbackWorkflow(d, ctx)
}

func userClarification(d Detection, ctx *Context) *Resolution {
	q := clarificationQuestion(d)
	if q == nil {
		return nil
	}
	return &Resolution{
		AmbiguityType:           d.Type,
		Strategy:                StrategyUserClarification,
		ResolvedValue:           q,
		Confidence:              0.95,
		UserInteractionRequired: true,
	}
}

func clarificationQuestion(d Detection) *Question {
	switch d.Type {
	case ContentTypeUnclear:
		return &Question{
			Question:       "Should this be a still image or a video?",
			Options:        []string{"image", "video"},
			DefaultAnswer:  "image",
			TimeoutSeconds: 300,
			Priority:       1,
		}
	case StyleConflicting:
		return &Question{
			Question:       "The request mixes realistic and stylized looks. Which should win?",
			Options:        []string{"photorealistic", "traditional_anime"},
			DefaultAnswer:  "traditional_anime",
			TimeoutSeconds: 300,
			Priority:       1,
		}
	case ScopeAmbiguous:
		return &Question{
			Question:       "What should the result focus on?",
			Options:        []string{"character portrait", "character in a scene", "environment only"},
			DefaultAnswer:  "character portrait",
			TimeoutSeconds: 300,
			Priority:       2,
		}
	case CharacterUndefined:
		return &Question{
			Question:          "Which character should appear?",
			DefaultAnswer:     "",
			ValidationPattern: `^[A-Za-z0-9 _-]{1,50}$`,
			TimeoutSeconds:    300,
			Priority:          2,
		}
	case DurationMissing:
		return &Question{
			Question:          "How long should the video be, in seconds?",
			DefaultAnswer:     "15",
			ValidationPattern: `^\d{1,3}$`,
			TimeoutSeconds:    300,
			Priority:          3,
		}
	case ContradictoryRequirements:
		return &Question{
			Question:       "Speed or quality? The request asks for both.",
			Options:        []string{"faster draft", "slower high quality"},
			DefaultAnswer:  "slower high quality",
			TimeoutSeconds: 300,
			Priority:       2,
		}
	case InsufficientDetail:
		return &Question{
			Question:       "Can you describe the subject in a sentence or two?",
			DefaultAnswer:  "",
			TimeoutSeconds: 600,
			Priority:       1,
		}
	}
	return nil
}

func intelligentDefault(d Detection, ctx *Context) *Resolution {
	var value any
	confidence := 0.0

	switch d.Type {
	case DurationMissing:
		value, confidence = 15, 0.8
		if ctx.Classification != nil && ctx.Classification.GenerationScope == intent.ScopeActionSequence {
			value, confidence = 10, 0.75
		}
	case QualityVague:
		value, confidence = "standard", 0.7
		if strings.Contains(strings.ToLower(ctx.UserPrompt), "best") {
			value, confidence = "high", 0.75
		}
	case UrgencyUnclear:
		value, confidence = intent.UrgencyStandard, 0.7
	case ScopeAmbiguous:
		if ctx.Classification != nil && len(ctx.Classification.CharacterNames) > 0 {
			value, confidence = intent.ScopeCharacterProfile, 0.65
		}
	case TechnicalIncomplete:
		value, confidence = map[string]any{"width": 1024, "height": 1024, "steps": 20}, 0.7
	}

	if value == nil || confidence < intelligentDefaultThreshold {
		return nil
	}
	return &Resolution{
		AmbiguityType: d.Type,
		Strategy:      StrategyIntelligentDefault,
		ResolvedValue: value,
		Confidence:    confidence,
	}
}

// inferenceRules are "condition -> outcome" pairs; the first whose condition
// keyword appears in the prompt wins at fixed confidence 0.75.
var inferenceRules = map[string][]struct{ condition, outcome string }{
	ScopeAmbiguous: {
		{"fight", intent.ScopeActionSequence},
		{"talking", intent.ScopeDialogueScene},
		{"landscape", intent.ScopeEnvironment},
		{"portrait", intent.ScopeCharacterProfile},
	},
	CharacterUndefined: {
		{"protagonist", "main_character"},
		{"hero", "main_character"},
		{"villain", "antagonist"},
	},
}

func contextInference(d Detection, ctx *Context) *Resolution {
	rules, ok := inferenceRules[d.Type]
	if !ok {
		return nil
	}
	lower := strings.ToLower(ctx.UserPrompt)
	for _, rule := range rules {
		if strings.Contains(lower, rule.condition) {
			return &Resolution{
				AmbiguityType: d.Type,
				Strategy:      StrategyContextInference,
				ResolvedValue: rule.outcome,
				Confidence:    0.75,
			}
		}
	}
	return nil
}

func templateSuggestion(d Detection, ctx *Context) *Resolution {
	if len(ctx.Templates) == 0 {
		return nil
	}
	lower := strings.ToLower(ctx.UserPrompt)
	bestName, bestScore := "", 0
	for name, body := range ctx.Templates {
		score := 0
		for _, word := range strings.Fields(strings.ToLower(body)) {
			if len(word) > 3 && strings.Contains(lower, word) {
				score++
			}
		}
		if score > bestScore {
			bestName, bestScore = name, score
		}
	}
	if bestName == "" {
		return nil
	}
	return &Resolution{
		AmbiguityType: d.Type,
		Strategy:      StrategyTemplateSuggestion,
		ResolvedValue: map[string]any{"template": bestName, "body": ctx.Templates[bestName]},
		Confidence:    0.65,
	}
}

func progressiveRefinement(d Detection, ctx *Context) *Resolution {
	var plan *RefinementPlan
	switch d.Type {
	case InsufficientDetail:
		plan = &RefinementPlan{
			InitialQuestion: "What is the subject of this generation?",
			FollowUpQuestions: []string{
				"Where does it take place?",
				"What mood or style should it have?",
			},
			ExpectedIterations: 3,
		}
	case ContentTypeUnclear, ContradictoryRequirements:
		plan = &RefinementPlan{
			InitialQuestion: "Which single output matters most to you here?",
			FollowUpQuestions: []string{
				"Any constraints on time or quality?",
			},
			ExpectedIterations: 2,
		}
	}
	if plan == nil {
		return nil
	}
	return &Resolution{
		AmbiguityType:           d.Type,
		Strategy:                StrategyProgressiveRefinement,
		ResolvedValue:           plan,
		Confidence:              0.6,
		UserInteractionRequired: true,
	}
}

// typedFallbacks are the last-resort values per ambiguity type.
var typedFallbacks = map[string]any{
	ContentTypeUnclear:        intent.ContentImage,
	ScopeAmbiguous:            intent.ScopeCharacterProfile,
	StyleConflicting:          "traditional_anime",
	CharacterUndefined:        []string{},
	DurationMissing:           15,
	QualityVague:              "standard",
	UrgencyUnclear:            intent.UrgencyStandard,
	TechnicalIncomplete:       map[string]any{"width": 1024, "height": 1024},
	ContradictoryRequirements: "quality_first",
	InsufficientDetail:        "guided_workflow",
}

func fallbackWorkflow(d Detection, _ *Context) *Resolution {
	value, ok := typedFallbacks[d.Type]
	if !ok {
		value = nil
	}
	return &Resolution{
		AmbiguityType: d.Type,
		Strategy:      StrategyFallbackWorkflow,
		ResolvedValue: value,
		Confidence:    0.3,
	}
}

// Process is the orchestrator: detect, resolve each detection, and combine.
// Overall confidence is the interaction-weighted mean of per-resolution
// confidences: resolutions that still need the user weigh 0.8, automatic
// ones 1.0.
func Process(userPrompt string, classification *intent.Classification, ctx *Context) *Result {
	if ctx == nil {
		ctx = &Context{}
	}
	ctx.UserPrompt = userPrompt
	ctx.Classification = classification

	detections := Detect(userPrompt, classification)
	result := &Result{
		HasAmbiguities: len(detections) > 0,
		Ambiguities:    detections,
		Resolutions:    make([]Resolution, 0, len(detections)),
		Confidence:     1.0,
	}

	var weightedSum, weightTotal float64
	for _, d := range detections {
		r := Resolve(d, ctx)
		result.Resolutions = append(result.Resolutions, r)
		if r.UserInteractionRequired {
			result.RequiresUserInteraction = true
		}
		if d.Blocking {
			result.BlockingIssues = append(result.BlockingIssues, d)
		}
		weight := 1.0
		if r.UserInteractionRequired {
			weight = 0.8
		}
		weightedSum += r.Confidence * weight
		weightTotal += weight
	}
	if weightTotal > 0 {
		result.Confidence = weightedSum / weightTotal
	}
	return result
}
