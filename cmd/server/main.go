package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/safefall/streaming-server/internal/buffer"
	"github.com/safefall/streaming-server/internal/clip"
	"github.com/safefall/streaming-server/internal/config"
	"github.com/safefall/streaming-server/internal/detect"
	"github.com/safefall/streaming-server/internal/logger"
	"github.com/safefall/streaming-server/internal/metrics"
	"github.com/safefall/streaming-server/internal/server"
	"github.com/safefall/streaming-server/internal/session"
	"github.com/safefall/streaming-server/internal/store"
	"github.com/safefall/streaming-server/pkg/types"
)

var (
	// Command-line flags
	httpAddr = flag.String("http", ":8080", "HTTP server address")
	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "SafeFall streaming server starting...")
	logger.Info("Main", "Log level: %s", level)

	cfg := config.Load()

	if err := os.MkdirAll(cfg.VideosDir, 0o755); err != nil {
		log.Fatalf("Failed to create videos directory: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	mets := metrics.New()

	ring := buffer.NewRing(time.Duration(cfg.RetentionSeconds)*time.Second, cfg.NominalFPS)
	logger.Info("Main", "Frame buffer: %ds retention at %d fps (%d frames)",
		cfg.RetentionSeconds, cfg.NominalFPS, cfg.BufferCapacity())

	latest := &buffer.LatestSlot{}
	tracker := session.NewTracker()

	db, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open incident database: %v", err)
	}

	extractor := clip.NewExtractor(ring, clip.NewFFmpeg(cfg.FFmpegBin), mets, clip.ExtractorConfig{
		PreWindow:     time.Duration(cfg.PreSeconds) * time.Second,
		PostWindow:    time.Duration(cfg.PostSeconds) * time.Second,
		DefaultFPS:    float64(cfg.NominalFPS),
		EncodeTimeout: cfg.EncodeTimeout,
		VideosDir:     cfg.VideosDir,
	})

	var detector detect.Detector
	if cfg.DetectorURL != "" {
		logger.Info("Main", "Using remote detector at %s", cfg.DetectorURL)
		detector = detect.NewRemoteDetector(cfg.DetectorURL, 10*time.Second)
	} else {
		logger.Warn("Main", "DETECTOR_URL not set, server-side detection disabled")
		detector = detect.Func(func(ctx context.Context, f types.Frame) ([]types.Detection, error) {
			return nil, nil
		})
	}

	// The stage's incident callback closes over srv, which is assigned
	// before the stage starts.
	var srv *server.Server
	stage := detect.NewStage(detector, mets, func(at time.Time, det types.Detection) {
		srv.HandleDetection(at, det)
	}, detect.StageConfig{
		QueueSize:          cfg.DetectQueueSize,
		BroadcastQueueSize: cfg.BroadcastQueueSize,
		Annotate:           cfg.AnnotateFrames,
		ConfThreshold:      cfg.ConfidenceThreshold,
		ARThreshold:        cfg.AspectRatioThreshold,
		Cooldown:           time.Duration(cfg.CooldownSeconds) * time.Second,
	})

	srv = server.New(*cfg, server.Deps{
		Ring:      ring,
		Latest:    latest,
		Tracker:   tracker,
		Stage:     stage,
		Extractor: extractor,
		Store:     db,
		Metrics:   mets,
	})

	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: srv.Handler(),
	}

	stage.Start()
	srv.Start()

	go func() {
		logger.Info("Main", "HTTP server listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}

	stage.Stop(5 * time.Second)
	srv.Shutdown()

	if err := db.Close(); err != nil {
		logger.Warn("Main", "Closing database: %v", err)
	}

	logger.Info("Main", "Server stopped")
}
