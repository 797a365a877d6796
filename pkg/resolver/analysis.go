package resolver

import (
	"regexp"
	"strings"
)

var capitalizedRe = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)

// verbsAndFillers are capitalized words that are request grammar, not names.
var verbsAndFillers = map[string]bool{
	"The": true, "A": true, "An": true, "Create": true, "Generate": true,
	"Make": true, "Draw": true, "Render": true, "Show": true, "Please": true,
	"And": true, "With": true, "Standing": true, "Video": true, "Image": true,
}

var sceneTypeKeywords = []struct {
	sceneType string
	keywords  []string
}{
	{"action", []string{"fight", "battle", "chase", "running", "explosion", "attack", "combat"}},
	{"romantic", []string{"romantic", "kiss", "love", "embrace", "tender", "date"}},
	{"dialogue", []string{"talking", "conversation", "dialogue", "speaking", "argument"}},
}

var styleAnalysisKeywords = []struct {
	style    string
	keywords []string
}{
	{"cyberpunk", []string{"cyberpunk", "neon", "dystopian"}},
	{"photorealistic", []string{"photorealistic", "realistic", "lifelike", "photo"}},
	{"watercolor", []string{"watercolor", "painterly"}},
	{"traditional_anime", []string{"anime", "manga", "cel"}},
}

var locationKeywords = []string{
	"forest", "city", "beach", "mountain", "castle", "school", "rooftop",
	"alley", "bridge", "shrine", "desert", "space station", "laboratory",
}

// Analyze performs the resolver's own lightweight read of the prompt.
func Analyze(userPrompt string) *Analysis {
	lower := strings.ToLower(userPrompt)
	a := &Analysis{
		Keywords:       []string{},
		CandidateNames: []string{},
		SceneType:      "default",
	}

	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, ".,!?\"'")
		if len(word) > 3 {
			a.Keywords = append(a.Keywords, word)
		}
	}

	seen := map[string]bool{}
	for _, word := range capitalizedRe.FindAllString(userPrompt, -1) {
		if verbsAndFillers[word] || seen[word] {
			continue
		}
		seen[word] = true
		a.CandidateNames = append(a.CandidateNames, word)
	}

	for _, entry := range sceneTypeKeywords {
		if containsAny(lower, entry.keywords) {
			a.SceneType = entry.sceneType
			break
		}
	}
	for _, entry := range styleAnalysisKeywords {
		if containsAny(lower, entry.keywords) {
			a.Style = entry.style
			break
		}
	}
	for _, loc := range locationKeywords {
		if strings.Contains(lower, loc) {
			a.Location = loc
			break
		}
	}
	return a
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
