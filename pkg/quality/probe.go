package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// MediaInfo is what the probe reports about an artifact.
type MediaInfo struct {
	Width      int
	Height     int
	FrameCount int
	Duration   float64
	FPS        float64
	Decodable  bool
}

// Prober inspects media files and extracts frames. The default
// implementation shells out to ffprobe and ffmpeg.
type Prober interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
	ExtractFrames(ctx context.Context, path string, count int) ([]image.Image, []string, error)
}

// FFmpegProber probes via the ffprobe and ffmpeg binaries.
type FFmpegProber struct {
	SampleDir string
}

// probeTimeout bounds one probe or extraction run.
const probeTimeout = 30 * time.Second

// Probe runs ffprobe and parses the stream description.
func (p *FFmpegProber) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path).Output()
	if err != nil {
		return &MediaInfo{Decodable: false}, nil
	}

	var parsed struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			NbFrames   string `json:"nb_frames"`
			RFrameRate string `json:"r_frame_rate"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return &MediaInfo{Decodable: false}, nil
	}

	info := &MediaInfo{Decodable: false}
	for _, s := range parsed.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Decodable = true
		info.Width = s.Width
		info.Height = s.Height
		info.FrameCount, _ = strconv.Atoi(s.NbFrames)
		info.FPS = parseFrameRate(s.RFrameRate)
		break
	}
	info.Duration, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	if info.FrameCount == 0 && info.FPS > 0 && info.Duration > 0 {
		info.FrameCount = int(info.Duration * info.FPS)
	}
	return info, nil
}

// ExtractFrames samples count frames evenly across the artifact and decodes
// them. For still images one decoded sample suffices.
func (p *FFmpegProber) ExtractFrames(ctx context.Context, path string, count int) ([]image.Image, []string, error) {
	if isImagePath(path) {
		img, err := decodeImageFile(path)
		if err != nil {
			return nil, nil, err
		}
		return []image.Image{img}, []string{path}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	dir := p.SampleDir
	if dir == "" {
		dir = os.TempDir()
	}
	sampleDir, err := os.MkdirTemp(dir, "frames-")
	if err != nil {
		return nil, nil, err
	}

	pattern := filepath.Join(sampleDir, "frame_%03d.png")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-v", "quiet",
		"-i", path,
		"-vf", fmt.Sprintf("select='not(mod(n\\,%d))'", frameStride(ctx, p, path, count)),
		"-vsync", "vfr",
		"-frames:v", strconv.Itoa(count),
		pattern)
	if err := cmd.Run(); err != nil {
		return nil, nil, fmt.Errorf("frame extraction failed: %w", err)
	}

	entries, err := os.ReadDir(sampleDir)
	if err != nil {
		return nil, nil, err
	}
	var frames []image.Image
	var paths []string
	for _, e := range entries {
		framePath := filepath.Join(sampleDir, e.Name())
		f, err := os.Open(framePath)
		if err != nil {
			continue
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			continue
		}
		frames = append(frames, img)
		paths = append(paths, framePath)
	}
	if len(frames) == 0 {
		return nil, nil, fmt.Errorf("no frames decoded from %s", path)
	}
	return frames, paths, nil
}

func frameStride(ctx context.Context, p *FFmpegProber, path string, count int) int {
	info, err := p.Probe(ctx, path)
	if err != nil || info.FrameCount <= count {
		return 1
	}
	return info.FrameCount / count
}

func parseFrameRate(rate string) float64 {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(rate, 64)
		return v
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".tiff": true, ".gif": true,
}

func isImagePath(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
