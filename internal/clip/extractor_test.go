package clip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/safefall/streaming-server/internal/buffer"
	"github.com/safefall/streaming-server/internal/metrics"
	"github.com/safefall/streaming-server/pkg/types"
)

// fakePolicy records calls and writes placeholder files so the
// extractor's file handling can be exercised without ffmpeg.
type fakePolicy struct {
	encodeFrames  int
	encodeFPS     float64
	failEncode    bool
	failTranscode bool
	failThumb     bool
}

func (p *fakePolicy) Encode(ctx context.Context, frames []types.Frame, fps float64, outputPath string) error {
	if p.failEncode {
		return errors.New("encoder unavailable")
	}
	p.encodeFrames = len(frames)
	p.encodeFPS = fps
	return os.WriteFile(outputPath, []byte("primary-encode"), 0o644)
}

func (p *fakePolicy) Transcode(ctx context.Context, inputPath, outputPath string) error {
	if p.failTranscode {
		return errors.New("libx264 missing")
	}
	return os.WriteFile(outputPath, []byte("h264-transcode"), 0o644)
}

func (p *fakePolicy) Thumbnail(ctx context.Context, videoPath, thumbPath string, offsetSeconds float64) error {
	if p.failThumb {
		return errors.New("no frame at offset")
	}
	return os.WriteFile(thumbPath, []byte("jpeg-thumb"), 0o644)
}

func newTestExtractor(t *testing.T, policy EncodePolicy) (*Extractor, *buffer.Ring) {
	t.Helper()
	ring := buffer.NewRing(time.Minute, 2)
	e := NewExtractor(ring, policy, metrics.New(), ExtractorConfig{
		PreWindow:     15 * time.Second,
		PostWindow:    15 * time.Second,
		DefaultFPS:    30,
		EncodeTimeout: 5 * time.Second,
		VideosDir:     t.TempDir(),
	})
	return e, ring
}

func fillRing(ring *buffer.Ring, base time.Time, n int, step time.Duration) {
	for i := 0; i < n; i++ {
		ring.Add(types.Frame{
			Data:       []byte("jpeg"),
			CapturedAt: base.Add(time.Duration(i) * step),
			DeviceID:   "pi-01",
		})
	}
}

func TestExtractProducesClipFromWindow(t *testing.T) {
	policy := &fakePolicy{}
	e, ring := newTestExtractor(t, policy)

	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	fillRing(ring, base, 20, time.Second)

	clip, err := e.Extract(context.Background(), base.Add(10*time.Second), "fall", 0.92)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	// 15s window on both sides covers the whole 20-frame span.
	if clip.SourceFrameCount != 20 {
		t.Fatalf("source_frame_count = %d, want 20", clip.SourceFrameCount)
	}
	if policy.encodeFrames != 20 {
		t.Fatalf("encoded %d frames", policy.encodeFrames)
	}
	// 19 intervals over 19 seconds.
	if policy.encodeFPS != 1.0 {
		t.Fatalf("fps = %f, want 1.0", policy.encodeFPS)
	}
	if clip.Confidence != 0.92 {
		t.Fatalf("confidence = %f", clip.Confidence)
	}
	if clip.ThumbnailPath == "" {
		t.Fatal("thumbnail missing")
	}

	videoPath := filepath.Join(e.cfg.VideosDir, clip.VideoPath)
	data, err := os.ReadFile(videoPath)
	if err != nil {
		t.Fatalf("reading clip: %v", err)
	}
	if string(data) != "h264-transcode" {
		t.Fatalf("clip content = %q, want transcoded output", data)
	}
}

func TestExtractFallsBackToFullBufferOnEmptyWindow(t *testing.T) {
	policy := &fakePolicy{}
	e, ring := newTestExtractor(t, policy)

	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	fillRing(ring, base, 10, time.Second)

	// Incident far outside the buffered range.
	clip, err := e.Extract(context.Background(), base.Add(time.Hour), "fall", 0.8)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if clip.SourceFrameCount != 10 {
		t.Fatalf("source_frame_count = %d, want full buffer of 10", clip.SourceFrameCount)
	}
}

func TestExtractEmptyBuffer(t *testing.T) {
	e, _ := newTestExtractor(t, &fakePolicy{})
	if _, err := e.Extract(context.Background(), time.Now(), "fall", 0.8); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("err = %v, want ErrNoFrames", err)
	}
}

func TestExtractTranscodeFailureKeepsPrimaryEncode(t *testing.T) {
	policy := &fakePolicy{failTranscode: true}
	e, ring := newTestExtractor(t, policy)

	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	fillRing(ring, base, 5, time.Second)

	clip, err := e.Extract(context.Background(), base.Add(2*time.Second), "fall", 0.8)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	videoPath := filepath.Join(e.cfg.VideosDir, clip.VideoPath)
	data, err := os.ReadFile(videoPath)
	if err != nil {
		t.Fatalf("reading fallback clip: %v", err)
	}
	if string(data) != "primary-encode" {
		t.Fatalf("clip content = %q, want primary encode", data)
	}

	// The temp file must not linger.
	entries, _ := os.ReadDir(e.cfg.VideosDir)
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".mp4" && entry.Name() != clip.VideoPath {
			t.Fatalf("leftover file %s", entry.Name())
		}
	}
}

func TestExtractThumbnailFailureIsNonFatal(t *testing.T) {
	policy := &fakePolicy{failThumb: true}
	e, ring := newTestExtractor(t, policy)

	fillRing(ring, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC), 5, time.Second)

	clip, err := e.Extract(context.Background(), time.Date(2025, 1, 10, 12, 0, 2, 0, time.UTC), "fall", 0.8)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if clip.ThumbnailPath != "" {
		t.Fatalf("thumbnail_path = %q, want empty", clip.ThumbnailPath)
	}
}

func TestRemoveArtifacts(t *testing.T) {
	policy := &fakePolicy{}
	e, ring := newTestExtractor(t, policy)

	fillRing(ring, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC), 5, time.Second)
	clip, err := e.Extract(context.Background(), time.Date(2025, 1, 10, 12, 0, 2, 0, time.UTC), "fall", 0.8)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	e.RemoveArtifacts(clip)

	if _, err := os.Stat(filepath.Join(e.cfg.VideosDir, clip.VideoPath)); !os.IsNotExist(err) {
		t.Fatal("video survived cleanup")
	}
	if _, err := os.Stat(filepath.Join(e.cfg.VideosDir, clip.ThumbnailPath)); !os.IsNotExist(err) {
		t.Fatal("thumbnail survived cleanup")
	}
}

func TestInferFPSDegenerateCases(t *testing.T) {
	e, _ := newTestExtractor(t, &fakePolicy{})

	single := []types.Frame{{CapturedAt: time.Now()}}
	if fps := e.inferFPS(single); fps != 30 {
		t.Fatalf("single-frame fps = %f, want 30", fps)
	}

	same := time.Now()
	zeroSpan := []types.Frame{{CapturedAt: same}, {CapturedAt: same}}
	if fps := e.inferFPS(zeroSpan); fps != 30 {
		t.Fatalf("zero-span fps = %f, want 30", fps)
	}
}
