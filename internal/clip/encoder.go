package clip

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/safefall/streaming-server/internal/logger"
	"github.com/safefall/streaming-server/pkg/types"
)

// Transcoded outputs smaller than this are treated as corrupt.
const minValidVideoBytes = 1000

// EncodePolicy turns an ordered frame sequence into video artifacts.
// Implementations may shell out to an external tool; every call takes a
// context so a hung tool is bounded by the caller's timeout.
type EncodePolicy interface {
	// Encode writes the frames to outputPath in the primary container.
	Encode(ctx context.Context, frames []types.Frame, fps float64, outputPath string) error
	// Transcode rewrites inputPath into a web-compatible codec at
	// outputPath.
	Transcode(ctx context.Context, inputPath, outputPath string) error
	// Thumbnail extracts a single scaled frame at offsetSeconds into
	// the clip.
	Thumbnail(ctx context.Context, videoPath, thumbPath string, offsetSeconds float64) error
}

// FFmpeg is the EncodePolicy backed by the ffmpeg binary. The primary
// encode pipes JPEG frames to an mp4v container; the transcode pass
// produces an H.264 file browsers can play.
type FFmpeg struct {
	Bin string
}

func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{Bin: bin}
}

func (f *FFmpeg) Encode(ctx context.Context, frames []types.Frame, fps float64, outputPath string) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to encode")
	}

	cmd := exec.CommandContext(ctx, f.Bin,
		"-f", "image2pipe",
		"-framerate", fmt.Sprintf("%.3f", fps),
		"-i", "-",
		"-c:v", "mpeg4",
		"-q:v", "5",
		"-y",
		outputPath,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening encoder stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	writeErr := func() error {
		defer stdin.Close()
		for _, frame := range frames {
			if _, err := stdin.Write(frame.Data); err != nil {
				return fmt.Errorf("piping frame: %w", err)
			}
		}
		return nil
	}()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encode: %w", err)
	}
	if writeErr != nil {
		return writeErr
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("primary encode produced no output at %s", outputPath)
	}
	logger.Debug("clip", "Primary encode done: %s (%d frames, %.2f fps)", outputPath, len(frames), fps)
	return nil
}

func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, f.Bin,
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg transcode: %w (%s)", err, firstLine(out))
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() < minValidVideoBytes {
		return fmt.Errorf("transcoded file invalid at %s", outputPath)
	}
	logger.Debug("clip", "Transcode done: %s (%.2f MB)", outputPath, float64(info.Size())/(1024*1024))
	return nil
}

func (f *FFmpeg) Thumbnail(ctx context.Context, videoPath, thumbPath string, offsetSeconds float64) error {
	cmd := exec.CommandContext(ctx, f.Bin,
		"-ss", fmt.Sprintf("%.3f", offsetSeconds),
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", "scale=640:360",
		"-q:v", "2",
		"-y",
		thumbPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg thumbnail: %w (%s)", err, firstLine(out))
	}
	if info, err := os.Stat(thumbPath); err != nil || info.Size() == 0 {
		return fmt.Errorf("thumbnail produced no output at %s", thumbPath)
	}
	return nil
}

func firstLine(out []byte) string {
	for i, b := range out {
		if b == '\n' {
			return string(out[:i])
		}
	}
	return string(out)
}
