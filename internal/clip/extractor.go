package clip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/safefall/streaming-server/internal/buffer"
	"github.com/safefall/streaming-server/internal/logger"
	"github.com/safefall/streaming-server/internal/metrics"
	"github.com/safefall/streaming-server/pkg/types"
)

// ErrNoFrames is returned when the buffer holds nothing to extract.
var ErrNoFrames = errors.New("no frames available for extraction")

// ExtractorConfig carries the window and encode tunables.
type ExtractorConfig struct {
	PreWindow     time.Duration
	PostWindow    time.Duration
	DefaultFPS    float64
	EncodeTimeout time.Duration
	VideosDir     string
}

// Extractor pulls the frames surrounding an incident out of the window
// buffer and drives the encode policy into a durable clip.
type Extractor struct {
	ring   *buffer.Ring
	policy EncodePolicy
	mets   *metrics.Metrics
	cfg    ExtractorConfig
}

func NewExtractor(ring *buffer.Ring, policy EncodePolicy, mets *metrics.Metrics, cfg ExtractorConfig) *Extractor {
	if cfg.DefaultFPS <= 0 {
		cfg.DefaultFPS = 30
	}
	return &Extractor{ring: ring, policy: policy, mets: mets, cfg: cfg}
}

// Extract builds an incident clip around detectedAt. It selects the
// pre/post window from the buffer, falls back to everything buffered
// when the window is empty, encodes, transcodes with fallback, and
// generates a midpoint thumbnail. The caller persists the returned
// descriptor; on persistence failure it must call RemoveArtifacts.
func (e *Extractor) Extract(ctx context.Context, detectedAt time.Time, incidentType string, confidence float64) (*types.IncidentClip, error) {
	frames := e.ring.SelectWindow(detectedAt, e.cfg.PreWindow, e.cfg.PostWindow)
	if len(frames) == 0 {
		logger.Warn("clip", "No frames in incident window, using full buffer")
		frames = e.ring.SnapshotAll()
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	fps := e.inferFPS(frames)
	span := frames[len(frames)-1].CapturedAt.Sub(frames[0].CapturedAt).Seconds()
	logger.Info("clip", "Extracting %d frames (span %.2fs, %.2f fps)", len(frames), span, fps)

	if err := os.MkdirAll(e.cfg.VideosDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating videos dir: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102_150405")
	videoName := fmt.Sprintf("incident_%s_%s.mp4", incidentType, stamp)
	videoPath := filepath.Join(e.cfg.VideosDir, videoName)
	tempPath := strings.TrimSuffix(videoPath, ".mp4") + "_temp.mp4"

	encodeCtx, cancel := context.WithTimeout(ctx, e.cfg.EncodeTimeout)
	defer cancel()

	if err := e.policy.Encode(encodeCtx, frames, fps, tempPath); err != nil {
		e.mets.EncodeFailures.Add(1)
		os.Remove(tempPath)
		return nil, fmt.Errorf("primary encode: %w", err)
	}

	transcodeCtx, cancel2 := context.WithTimeout(ctx, e.cfg.EncodeTimeout)
	defer cancel2()

	if err := e.policy.Transcode(transcodeCtx, tempPath, videoPath); err != nil {
		// A playable primary encode beats a failed incident.
		e.mets.TranscodeFallbacks.Add(1)
		logger.Warn("clip", "Transcode failed, keeping primary encode: %v", err)
		os.Remove(videoPath)
		if renameErr := os.Rename(tempPath, videoPath); renameErr != nil {
			os.Remove(tempPath)
			return nil, fmt.Errorf("transcode failed and fallback rename failed: %w", renameErr)
		}
	} else {
		os.Remove(tempPath)
	}

	clip := &types.IncidentClip{
		DetectedAt:       detectedAt.UTC(),
		SourceFrameCount: len(frames),
		VideoPath:        videoName,
		DurationSeconds:  span,
		Confidence:       confidence,
	}

	thumbName := fmt.Sprintf("thumb_%s.jpg", stamp)
	thumbPath := filepath.Join(e.cfg.VideosDir, thumbName)
	thumbCtx, cancel3 := context.WithTimeout(ctx, e.cfg.EncodeTimeout)
	defer cancel3()

	if err := e.policy.Thumbnail(thumbCtx, videoPath, thumbPath, span/2); err != nil {
		logger.Warn("clip", "Thumbnail generation failed: %v", err)
	} else {
		clip.ThumbnailPath = thumbName
	}

	e.mets.ClipsEncoded.Add(1)
	logger.Info("clip", "Incident clip ready: %s", videoName)
	return clip, nil
}

// RemoveArtifacts deletes the clip's files from disk. Called when
// persistence fails so no orphaned media survives without a record.
func (e *Extractor) RemoveArtifacts(clip *types.IncidentClip) {
	if clip == nil {
		return
	}
	if clip.VideoPath != "" {
		path := filepath.Join(e.cfg.VideosDir, clip.VideoPath)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("clip", "Failed to clean up video %s: %v", path, err)
		}
	}
	if clip.ThumbnailPath != "" {
		path := filepath.Join(e.cfg.VideosDir, clip.ThumbnailPath)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("clip", "Failed to clean up thumbnail %s: %v", path, err)
		}
	}
}

// inferFPS derives the encode rate from the frame timestamps. A zero
// or negative span, or a single frame, falls back to the default rate.
func (e *Extractor) inferFPS(frames []types.Frame) float64 {
	if len(frames) < 2 {
		return e.cfg.DefaultFPS
	}
	span := frames[len(frames)-1].CapturedAt.Sub(frames[0].CapturedAt).Seconds()
	if span <= 0 {
		return e.cfg.DefaultFPS
	}
	return float64(len(frames)-1) / span
}
