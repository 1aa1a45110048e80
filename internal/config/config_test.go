package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.RetentionSeconds != 30 {
		t.Fatalf("RetentionSeconds = %d, want 30", cfg.RetentionSeconds)
	}
	if cfg.NominalFPS != 30 {
		t.Fatalf("NominalFPS = %d, want 30", cfg.NominalFPS)
	}
	if cfg.MaxFrameBytes != 10*1024*1024 {
		t.Fatalf("MaxFrameBytes = %d", cfg.MaxFrameBytes)
	}
	if cfg.EncodeTimeout != 60*time.Second {
		t.Fatalf("EncodeTimeout = %v", cfg.EncodeTimeout)
	}
	if cfg.FFmpegBin != "ffmpeg" {
		t.Fatalf("FFmpegBin = %q", cfg.FFmpegBin)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BUFFER_DURATION", "10")
	t.Setenv("STREAM_FPS", "15")
	t.Setenv("ANNOTATE_FRAMES", "off")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.75")

	cfg := Load()

	if cfg.RetentionSeconds != 10 {
		t.Fatalf("RetentionSeconds = %d, want 10", cfg.RetentionSeconds)
	}
	if cfg.NominalFPS != 15 {
		t.Fatalf("NominalFPS = %d, want 15", cfg.NominalFPS)
	}
	if cfg.AnnotateFrames {
		t.Fatal("AnnotateFrames = true, want false")
	}
	if cfg.ConfidenceThreshold != 0.75 {
		t.Fatalf("ConfidenceThreshold = %f", cfg.ConfidenceThreshold)
	}
}

func TestBufferCapacity(t *testing.T) {
	cfg := &Config{RetentionSeconds: 30, NominalFPS: 30}
	if got := cfg.BufferCapacity(); got != 900 {
		t.Fatalf("BufferCapacity = %d, want 900", got)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("BUFFER_DURATION", "not-a-number")
	t.Setenv("MAX_FRAME_BYTES", "lots")

	cfg := Load()

	if cfg.RetentionSeconds != 30 {
		t.Fatalf("RetentionSeconds = %d, want default 30", cfg.RetentionSeconds)
	}
	if cfg.MaxFrameBytes != 10*1024*1024 {
		t.Fatalf("MaxFrameBytes = %d, want default", cfg.MaxFrameBytes)
	}
}
