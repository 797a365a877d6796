package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// patternResult is what the deterministic pass could extract on its own.
type patternResult struct {
	ContentType     string
	Scope           string
	Style           string
	Urgency         string
	CharacterNames  []string
	DurationSeconds *int
	Matched         bool
}

var (
	videoRe    = regexp.MustCompile(`(?i)\b(video|animation|animate|animated|clip|movie|footage)\b`)
	imageRe    = regexp.MustCompile(`(?i)\b(image|picture|portrait|illustration|drawing|photo|render|artwork)\b`)
	audioRe    = regexp.MustCompile(`(?i)\b(audio|voice|speech|sound|narration)\b`)
	durationRe = regexp.MustCompile(`(?i)(\d+)\s*(?:second|sec|s\b)`)
	minutesRe  = regexp.MustCompile(`(?i)(\d+)\s*(?:minute|min)\b`)

	// Capitalized words mid-sentence are candidate character names.
	properNounRe = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)
)

var scopeKeywords = []struct {
	scope    string
	keywords []string
}{
	{ScopeActionSequence, []string{"fight", "battle", "chase", "action", "running", "jumping", "explosion"}},
	{ScopeDialogueScene, []string{"dialogue", "talking", "conversation", "speaking", "says"}},
	{ScopeFullEpisode, []string{"episode", "full story", "whole story"}},
	{ScopeBatchGeneration, []string{"batch", "all characters", "every character", "set of"}},
	{ScopeEnvironment, []string{"landscape", "environment", "background", "scenery", "cityscape", "interior"}},
	{ScopeCharacterScene, []string{"scene", "in the", "at the", "standing in", "sitting"}},
	{ScopeCharacterProfile, []string{"portrait", "profile", "character sheet", "reference sheet", "headshot"}},
}

var styleKeywords = []struct {
	style    string
	keywords []string
}{
	{"cyberpunk", []string{"cyberpunk", "neon", "futuristic city"}},
	{"photorealistic", []string{"photorealistic", "realistic", "photo-real", "lifelike"}},
	{"watercolor", []string{"watercolor", "painted", "painterly"}},
	{"traditional_anime", []string{"anime", "manga", "cel shaded", "cartoon"}},
}

var urgencyKeywords = []struct {
	urgency  string
	keywords []string
}{
	{UrgencyImmediate, []string{"right now", "immediately", "asap"}},
	{UrgencyUrgent, []string{"urgent", "quickly", "fast", "hurry"}},
	{UrgencyScheduled, []string{"later", "tonight", "tomorrow", "schedule"}},
	{UrgencyBatch, []string{"overnight", "batch", "when you can"}},
}

// sentenceStarters are capitalized words that are grammar, not names.
var sentenceStarters = map[string]bool{
	"The": true, "A": true, "An": true, "Create": true, "Generate": true,
	"Make": true, "Draw": true, "Render": true, "Show": true, "Give": true,
	"Please": true, "And": true, "With": true, "For": true, "Then": true,
	"Video": true, "Image": true, "Animation": true, "Portrait": true,
}

// runPatterns extracts what deterministic rules can from the prompt.
func runPatterns(prompt string) patternResult {
	var r patternResult
	lower := strings.ToLower(prompt)

	switch {
	case videoRe.MatchString(prompt) && imageRe.MatchString(prompt):
		r.ContentType = ContentMixedMedia
		r.Matched = true
	case videoRe.MatchString(prompt):
		r.ContentType = ContentVideo
		r.Matched = true
	case audioRe.MatchString(prompt):
		r.ContentType = ContentAudio
		r.Matched = true
	case imageRe.MatchString(prompt):
		r.ContentType = ContentImage
		r.Matched = true
	}

	for _, entry := range scopeKeywords {
		if containsAny(lower, entry.keywords) {
			r.Scope = entry.scope
			r.Matched = true
			break
		}
	}
	for _, entry := range styleKeywords {
		if containsAny(lower, entry.keywords) {
			r.Style = entry.style
			r.Matched = true
			break
		}
	}
	for _, entry := range urgencyKeywords {
		if containsAny(lower, entry.keywords) {
			r.Urgency = entry.urgency
			r.Matched = true
			break
		}
	}

	if m := durationRe.FindStringSubmatch(prompt); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			r.DurationSeconds = &secs
			r.Matched = true
		}
	} else if m := minutesRe.FindStringSubmatch(prompt); m != nil {
		if mins, err := strconv.Atoi(m[1]); err == nil {
			secs := mins * 60
			r.DurationSeconds = &secs
			r.Matched = true
		}
	}

	r.CharacterNames = extractNames(prompt)
	if len(r.CharacterNames) > 0 {
		r.Matched = true
	}
	return r
}

// extractNames collects capitalized words that look like subjects rather
// than sentence grammar, preserving first-seen order.
func extractNames(prompt string) []string {
	var names []string
	seen := map[string]bool{}
	for _, word := range properNounRe.FindAllString(prompt, -1) {
		if sentenceStarters[word] || seen[word] {
			continue
		}
		seen[word] = true
		names = append(names, word)
	}
	return names
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
