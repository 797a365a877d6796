package intent

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderloom/loom/pkg/llm"
)

func patternOnlyClassifier() *Classifier {
	return NewClassifier(nil, slog.Default())
}

func TestClassifyVideoWithDuration(t *testing.T) {
	c := patternOnlyClassifier()
	result := c.Classify(context.Background(), "Create a 10 second video of Kai running through the city", "u1")

	assert.Equal(t, ContentVideo, result.ContentType)
	require.NotNil(t, result.DurationSeconds)
	assert.Equal(t, 10, *result.DurationSeconds)
	require.NotNil(t, result.FrameCount)
	assert.Equal(t, 240, *result.FrameCount)
	assert.Contains(t, result.CharacterNames, "Kai")
	assert.Equal(t, 0.7, result.ConfidenceScore)
	assert.Equal(t, "mp4", result.OutputFormat)
}

func TestClassifyImagePortrait(t *testing.T) {
	c := patternOnlyClassifier()
	result := c.Classify(context.Background(), "Draw a portrait of Miyuki in watercolor", "u1")

	assert.Equal(t, ContentImage, result.ContentType)
	assert.Equal(t, ScopeCharacterProfile, result.GenerationScope)
	assert.Equal(t, "watercolor", result.StylePreference)
	assert.Contains(t, result.CharacterNames, "Miyuki")
	assert.Nil(t, result.FrameCount)
}

func TestClassifyMixedMedia(t *testing.T) {
	c := patternOnlyClassifier()
	result := c.Classify(context.Background(), "I want an image and a video of the castle", "u1")
	assert.Equal(t, ContentMixedMedia, result.ContentType)
}

func TestClassifyEmptyPromptFallsBack(t *testing.T) {
	c := patternOnlyClassifier()
	result := c.Classify(context.Background(), "   ", "u1")

	assert.Equal(t, ContentImage, result.ContentType)
	assert.Equal(t, ScopeCharacterProfile, result.GenerationScope)
	assert.Equal(t, "traditional_anime", result.StylePreference)
	assert.Equal(t, 0.3, result.ConfidenceScore)
	assert.Contains(t, result.AmbiguityFlags, "classification_failed")
	assert.Contains(t, result.FallbackOptions, "guided_workflow")
}

func TestClassifyNoSignalLowConfidence(t *testing.T) {
	c := patternOnlyClassifier()
	result := c.Classify(context.Background(), "do the usual thing", "u1")
	assert.Equal(t, 0.3, result.ConfidenceScore)
}

func TestClassifyCollaboratorWinsPerField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"{\"content_type\":\"video\",\"duration_seconds\":15,\"confidence_score\":0.92}","metadata":{}}`))
	}))
	defer srv.Close()

	c := NewClassifier(llm.NewClient(srv.URL, slog.Default()), slog.Default())
	result := c.Classify(context.Background(), "Draw a portrait of Kai", "u1")

	// Patterns say image; the collaborator overrides to video and supplies a
	// duration and its own confidence.
	assert.Equal(t, ContentVideo, result.ContentType)
	require.NotNil(t, result.DurationSeconds)
	assert.Equal(t, 15, *result.DurationSeconds)
	assert.Equal(t, 0.92, result.ConfidenceScore)
	// Fields the collaborator skipped still come from patterns.
	assert.Equal(t, ScopeCharacterProfile, result.GenerationScope)
	assert.Contains(t, result.CharacterNames, "Kai")
}

func TestClassifyCollaboratorDownDegradesToPatterns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClassifier(llm.NewClient(srv.URL, slog.Default()), slog.Default())
	result := c.Classify(context.Background(), "Generate an anime image of Kai", "u1")

	assert.Equal(t, ContentImage, result.ContentType)
	assert.Equal(t, "traditional_anime", result.StylePreference)
	assert.Equal(t, 0.7, result.ConfidenceScore)
}

func TestExtractNamesSkipsSentenceStarters(t *testing.T) {
	names := extractNames("Create Kai and Miyuki at The Bridge")
	assert.Equal(t, []string{"Kai", "Miyuki", "Bridge"}, names)
}

func TestContextualAnalysisPatternSketch(t *testing.T) {
	c := patternOnlyClassifier()
	a := c.PerformContextualAnalysis(context.Background(), "a 5 second anime video of Kai")

	assert.Contains(t, a.SemanticCategories, ContentVideo)
	assert.Contains(t, a.ArtisticStyleIndicators, "traditional_anime")
	assert.Contains(t, a.TemporalIndicators, "5 seconds")
	require.Len(t, a.CharacterEntities, 1)
	assert.Equal(t, "Kai", a.CharacterEntities[0].Name)
}
