// Package narrative tracks per-scene character state and propagates it
// forward through a project's scene order with deterministic decay.
package narrative

import "github.com/renderloom/loom/pkg/catalog"

// DefaultInjuryCountdown is the number of scene steps before an injury's
// severity improves one grade.
const DefaultInjuryCountdown = 2

// Severity grades, worst to healed. Permanent injuries never move.
const (
	SeveritySevere    = "severe"
	SeverityModerate  = "moderate"
	SeverityMinor     = "minor"
	SeverityHealed    = "healed"
	SeverityPermanent = "permanent"
)

var severityNext = map[string]string{
	SeveritySevere:   SeverityModerate,
	SeverityModerate: SeverityMinor,
	SeverityMinor:    SeverityHealed,
}

// emotionNext steps each emotion one grade toward calm.
var emotionNext = map[string]string{
	"furious":   "angry",
	"angry":     "irritated",
	"irritated": "calm",
	"terrified": "scared",
	"scared":    "anxious",
	"anxious":   "calm",
	"ecstatic":  "happy",
	"happy":     "content",
	"content":   "calm",
	"calm":      "calm",
}

var bodyNext = map[string]string{
	"wet":     "damp",
	"damp":    "dry",
	"dry":     "clean",
	"bloody":  "stained",
	"stained": "clean",
	"dirty":   "dusty",
	"dusty":   "clean",
	"sweaty":  "clean",
	"clean":   "clean",
}

var energyNext = map[string]string{
	"exhausted":   "tired",
	"tired":       "normal",
	"hyperactive": "energized",
	"energized":   "normal",
	"normal":      "normal",
}

// DecayEmotion steps an emotion one grade toward calm. Unknown emotions
// resolve to calm.
func DecayEmotion(emotion string) string {
	if next, ok := emotionNext[emotion]; ok {
		return next
	}
	return "calm"
}

// DecayBody steps a body state one grade along its cleaning chain. Unknown
// states are left alone.
func DecayBody(state string) string {
	if next, ok := bodyNext[state]; ok {
		return next
	}
	return state
}

// DecayEnergy steps an energy level one grade toward normal. Unknown levels
// are left alone.
func DecayEnergy(level string) string {
	if next, ok := energyNext[level]; ok {
		return next
	}
	return level
}

// DecayInjuries advances every injury one scene step: the countdown
// decrements, and at zero the severity improves one grade and the countdown
// resets. Healed injuries drop off the list; permanent ones never change.
func DecayInjuries(injuries catalog.InjuryList) catalog.InjuryList {
	if injuries == nil {
		return nil
	}
	out := make(catalog.InjuryList, 0, len(injuries))
	for _, inj := range injuries {
		if inj.Severity == SeverityPermanent {
			out = append(out, inj)
			continue
		}
		inj.Countdown--
		if inj.Countdown <= 0 {
			inj.Severity = severityNext[inj.Severity]
			inj.Countdown = DefaultInjuryCountdown
		}
		if inj.Severity == SeverityHealed || inj.Severity == "" {
			continue
		}
		out = append(out, inj)
	}
	return out
}

// DecayState applies one scene step of decay to a copy of st. Clothing, hair,
// accessories, carrying, relationship context and location persist untouched.
func DecayState(st catalog.CharacterSceneState) catalog.CharacterSceneState {
	if st.EmotionalState != nil {
		next := DecayEmotion(*st.EmotionalState)
		st.EmotionalState = &next
	}
	if st.BodyState != nil {
		next := DecayBody(*st.BodyState)
		st.BodyState = &next
	}
	if st.EnergyLevel != nil {
		next := DecayEnergy(*st.EnergyLevel)
		st.EnergyLevel = &next
	}
	st.Injuries = DecayInjuries(st.Injuries)
	return st
}
