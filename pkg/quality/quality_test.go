package quality

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProber serves canned probe results and frames so tests need no ffmpeg.
type fakeProber struct {
	info   *MediaInfo
	frames []image.Image
}

func (p *fakeProber) Probe(_ context.Context, _ string) (*MediaInfo, error) {
	return p.info, nil
}

func (p *fakeProber) ExtractFrames(_ context.Context, path string, _ int) ([]image.Image, []string, error) {
	paths := make([]string, len(p.frames))
	for i := range paths {
		paths[i] = path
	}
	return p.frames, paths, nil
}

// texturedFrame is a 64x64 frame with per-channel structure: pseudo-noise in
// red, flat green, a horizontal gradient in blue. shift slides the pattern so
// consecutive frames exhibit measurable motion.
func texturedFrame(shift int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			sx := x - shift
			noise := uint8((sx*31 + y*57 + sx*sx*7) % 256)
			grad := uint8(((sx % 64) + 64) % 64 * 4)
			img.Set(x, y, color.RGBA{R: noise, G: 200, B: grad, A: 255})
		}
	}
	return img
}

func flatFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	return img
}

func writeArtifact(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, size), 0o644))
	return path
}

func goodImageInfo() *MediaInfo {
	return &MediaInfo{Width: 1024, Height: 1024, Decodable: true}
}

func goodVideoInfo() *MediaInfo {
	return &MediaInfo{Width: 512, Height: 512, FrameCount: 120, Duration: 5.0, FPS: 24, Decodable: true}
}

func TestValidateImagePasses(t *testing.T) {
	path := writeArtifact(t, "out.png", 30_000)
	prober := &fakeProber{info: goodImageInfo(), frames: []image.Image{texturedFrame(0)}}
	v := NewValidator(prober, false, slog.Default())

	result := v.Validate(context.Background(), path, map[string]any{"width": 1024, "height": 1024}, TypeAuto)

	require.True(t, result.Passed, "recommendations: %v", result.Recommendations)
	assert.Greater(t, result.QualityScore, 0.5)
	assert.Empty(t, result.MotionGates, "images carry no motion gates")
	assert.True(t, result.QualityGates["blank_detection"].Passed)
	assert.True(t, result.QualityGates["sharpness"].Passed)
	assert.True(t, result.QualityGates["color_distribution"].Passed)
}

func TestValidateBlankImageFails(t *testing.T) {
	path := writeArtifact(t, "out.png", 30_000)
	prober := &fakeProber{info: goodImageInfo(), frames: []image.Image{flatFrame()}}
	v := NewValidator(prober, false, slog.Default())

	result := v.Validate(context.Background(), path, nil, TypeImage)

	assert.False(t, result.Passed)
	assert.False(t, result.QualityGates["blank_detection"].Passed)
	assert.False(t, result.QualityGates["sharpness"].Passed)
	assert.False(t, result.QualityGates["color_distribution"].Passed)
	assert.Less(t, result.QualityScore, 0.5)
	assert.NotEmpty(t, result.Recommendations)
}

func TestValidateVideoWithMotionPasses(t *testing.T) {
	path := writeArtifact(t, "out.mp4", 60_000)
	prober := &fakeProber{
		info: goodVideoInfo(),
		frames: []image.Image{
			texturedFrame(0), texturedFrame(2), texturedFrame(4), texturedFrame(6),
		},
	}
	v := NewValidator(prober, false, slog.Default())

	result := v.Validate(context.Background(), path, map[string]any{"fps": 24}, TypeVideo)

	require.True(t, result.Passed, "recommendations: %v", result.Recommendations)
	assert.True(t, result.MotionGates["unique_frames"].Passed)
	assert.True(t, result.MotionGates["ssim_variance"].Passed)
	assert.True(t, result.MotionGates["optical_flow"].Passed)
	assert.Greater(t, result.MotionGates["optical_flow"].Value, 0.5)
}

func TestValidateStaticVideoFails(t *testing.T) {
	path := writeArtifact(t, "out.mp4", 60_000)
	frame := texturedFrame(0)
	prober := &fakeProber{
		info:   goodVideoInfo(),
		frames: []image.Image{frame, frame, frame, frame},
	}
	v := NewValidator(prober, false, slog.Default())

	result := v.Validate(context.Background(), path, nil, TypeVideo)

	assert.False(t, result.Passed)
	assert.False(t, result.MotionGates["unique_frames"].Passed)
	assert.False(t, result.MotionGates["ssim_variance"].Passed)
	assert.False(t, result.MotionGates["optical_flow"].Passed)
	// Good visuals cannot rescue a frozen clip.
	assert.True(t, result.QualityGates["sharpness"].Passed)

	joined := strings.Join(result.Recommendations, "\n")
	assert.Contains(t, joined, "batch_size")
}

func TestValidateMissingFile(t *testing.T) {
	v := NewValidator(&fakeProber{}, false, slog.Default())

	result := v.Validate(context.Background(), "/nonexistent/out.png", nil, TypeImage)

	assert.False(t, result.Passed)
	assert.False(t, result.StructuralGates["file_exists"].Passed)
	assert.Empty(t, result.QualityGates, "content checks are skipped when structure fails")
}

func TestValidateFileTooSmall(t *testing.T) {
	path := writeArtifact(t, "out.png", 100)
	prober := &fakeProber{info: goodImageInfo(), frames: []image.Image{texturedFrame(0)}}
	v := NewValidator(prober, false, slog.Default())

	result := v.Validate(context.Background(), path, nil, TypeImage)

	assert.False(t, result.Passed)
	assert.False(t, result.StructuralGates["file_size"].Passed)
}

func TestValidateFrameCountFloor(t *testing.T) {
	path := writeArtifact(t, "out.mp4", 60_000)
	info := goodVideoInfo()
	info.FrameCount = 8
	info.Duration = 8.0 / 24.0
	prober := &fakeProber{info: info, frames: []image.Image{texturedFrame(0), texturedFrame(2)}}
	v := NewValidator(prober, false, slog.Default())

	result := v.Validate(context.Background(), path, nil, TypeVideo)

	assert.False(t, result.Passed)
	assert.False(t, result.StructuralGates["frame_count"].Passed)
}

func TestValidateFramepackRaisesFloor(t *testing.T) {
	path := writeArtifact(t, "out.mp4", 60_000)
	info := goodVideoInfo()
	info.FrameCount = 48
	info.Duration = 2.0
	frames := []image.Image{texturedFrame(0), texturedFrame(2), texturedFrame(4), texturedFrame(6)}

	standard := NewValidator(&fakeProber{info: info, frames: frames}, false, slog.Default())
	assert.True(t, standard.Validate(context.Background(), path, nil, TypeVideo).StructuralGates["frame_count"].Passed)

	framepack := NewValidator(&fakeProber{info: info, frames: frames}, true, slog.Default())
	assert.False(t, framepack.Validate(context.Background(), path, nil, TypeVideo).StructuralGates["frame_count"].Passed)
}

func TestValidateDurationMismatch(t *testing.T) {
	path := writeArtifact(t, "out.mp4", 60_000)
	info := goodVideoInfo()
	info.Duration = 10.0 // 120 frames at 24fps should last 5s
	prober := &fakeProber{info: info, frames: []image.Image{texturedFrame(0), texturedFrame(2)}}
	v := NewValidator(prober, false, slog.Default())

	result := v.Validate(context.Background(), path, map[string]any{"fps": 24}, TypeVideo)

	assert.False(t, result.Passed)
	assert.False(t, result.StructuralGates["duration"].Passed)
}

func TestValidateResolutionTolerance(t *testing.T) {
	path := writeArtifact(t, "out.png", 30_000)
	info := goodImageInfo()
	info.Width, info.Height = 1000, 1000
	prober := &fakeProber{info: info, frames: []image.Image{texturedFrame(0)}}
	v := NewValidator(prober, false, slog.Default())

	// 1000 is within 5% of 1024.
	result := v.Validate(context.Background(), path, map[string]any{"width": 1024, "height": 1024}, TypeImage)
	assert.True(t, result.StructuralGates["resolution"].Passed)

	result = v.Validate(context.Background(), path, map[string]any{"width": 1280, "height": 1280}, TypeImage)
	assert.False(t, result.StructuralGates["resolution"].Passed)
}

func TestMetricsDistinguishFlatFromTextured(t *testing.T) {
	flat := flatFrame()
	textured := texturedFrame(0)

	assert.Greater(t, blankScore(flat), maxBlankScore)
	assert.Less(t, blankScore(textured), maxBlankScore)
	assert.Less(t, laplacianVariance(flat), minSharpness)
	assert.Greater(t, laplacianVariance(textured), minSharpness)
	assert.InDelta(t, 1.0, ssim(textured, textured), 1e-9)
	assert.Equal(t, frameHash(textured), frameHash(texturedFrame(0)))
	assert.NotEqual(t, frameHash(textured), frameHash(texturedFrame(2)))
	assert.Zero(t, flowMagnitude(textured, textured))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, TypeImage, KindOf("a.PNG"))
	assert.Equal(t, TypeImage, KindOf("a.jpeg"))
	assert.Equal(t, TypeVideo, KindOf("a.mp4"))
	assert.Equal(t, TypeVideo, KindOf("a.webm"))
}

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 24.0, parseFrameRate("24/1"), 1e-9)
	assert.InDelta(t, 29.97, parseFrameRate("30000/1001"), 0.01)
	assert.Zero(t, parseFrameRate("24/0"))
	assert.InDelta(t, 24.0, parseFrameRate("24"), 1e-9)
}
