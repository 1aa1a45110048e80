package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/safefall/streaming-server/internal/logger"
)

// Config holds the runtime configuration for the streaming server.
// Values come from the environment, optionally seeded from a .env file.
type Config struct {
	// Frame window buffer
	RetentionSeconds int // rolling window kept in memory
	NominalFPS       int // expected producer frame rate

	// Incident clip window
	PreSeconds  int // seconds of footage kept before the incident
	PostSeconds int // seconds of footage kept after the incident

	// Ingestion limits
	MaxFrameBytes  int64 // uploads above this are rejected
	WarnFrameBytes int64 // uploads above this are accepted with a warning

	// Detection stage
	DetectorURL          string // external detector endpoint, empty disables detection
	DetectQueueSize      int
	BroadcastQueueSize   int
	AnnotateFrames       bool
	ConfidenceThreshold  float64
	AspectRatioThreshold float64
	CooldownSeconds      int

	// Live delivery
	StreamFPS int // MJPEG broadcast target rate

	// Encoding
	FFmpegBin     string
	EncodeTimeout time.Duration

	// Storage
	VideosDir string
	DBPath    string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		logger.Info("Config", "Loaded environment from .env file")
	}

	return &Config{
		RetentionSeconds:     getEnvAsInt("BUFFER_DURATION", 30),
		NominalFPS:           getEnvAsInt("STREAM_FPS", 30),
		PreSeconds:           getEnvAsInt("INCIDENT_PRE_SECONDS", 15),
		PostSeconds:          getEnvAsInt("INCIDENT_POST_SECONDS", 15),
		MaxFrameBytes:        getEnvAsInt64("MAX_FRAME_BYTES", 10*1024*1024),
		WarnFrameBytes:       getEnvAsInt64("WARN_FRAME_BYTES", 5*1024*1024),
		DetectorURL:          getEnv("DETECTOR_URL", ""),
		DetectQueueSize:      getEnvAsInt("DETECT_QUEUE_SIZE", 100),
		BroadcastQueueSize:   getEnvAsInt("BROADCAST_QUEUE_SIZE", 30),
		AnnotateFrames:       getEnvAsBool("ANNOTATE_FRAMES", true),
		ConfidenceThreshold:  getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		AspectRatioThreshold: getEnvAsFloat("ASPECT_RATIO_THRESHOLD", 1.5),
		CooldownSeconds:      getEnvAsInt("INCIDENT_COOLDOWN_SECONDS", 5),
		StreamFPS:            getEnvAsInt("MJPEG_FPS", 30),
		FFmpegBin:            getEnv("FFMPEG_BIN", "ffmpeg"),
		EncodeTimeout:        time.Duration(getEnvAsInt("ENCODE_TIMEOUT_SECONDS", 60)) * time.Second,
		VideosDir:            getEnv("VIDEOS_DIR", filepath.Join(".", "videos")),
		DBPath:               getEnv("DB_PATH", filepath.Join(".", "instance", "safefall.db")),
	}
}

// BufferCapacity returns the frame window capacity in frames.
func (c *Config) BufferCapacity() int {
	return c.RetentionSeconds * c.NominalFPS
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}
