package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/safefall/streaming-server/internal/broadcast"
	"github.com/safefall/streaming-server/internal/buffer"
	"github.com/safefall/streaming-server/internal/clip"
	"github.com/safefall/streaming-server/internal/config"
	"github.com/safefall/streaming-server/internal/detect"
	"github.com/safefall/streaming-server/internal/logger"
	"github.com/safefall/streaming-server/internal/metrics"
	"github.com/safefall/streaming-server/internal/session"
	"github.com/safefall/streaming-server/internal/store"
)

// Deps bundles the pipeline components the server composes.
type Deps struct {
	Ring      *buffer.Ring
	Latest    *buffer.LatestSlot
	Tracker   *session.Tracker
	Stage     *detect.Stage
	Extractor *clip.Extractor
	Store     *store.Store
	Metrics   *metrics.Metrics
}

// Server exposes the ingestion, live-view, incident, and clip-delivery
// HTTP surface and runs the broadcast worker that feeds live viewers.
type Server struct {
	cfg    config.Config
	ring   *buffer.Ring
	latest *buffer.LatestSlot
	track  *session.Tracker
	stage  *detect.Stage
	ext    *clip.Extractor
	db     *store.Store
	mets   *metrics.Metrics

	frames *broadcast.Broadcaster
	events *broadcast.Broadcaster

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.Config, deps Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		ring:   deps.Ring,
		latest: deps.Latest,
		track:  deps.Tracker,
		stage:  deps.Stage,
		ext:    deps.Extractor,
		db:     deps.Store,
		mets:   deps.Metrics,
		frames: broadcast.New("LiveFrames"),
		events: broadcast.New("IncidentEvents"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /mjpeg", s.handleMJPEG)
	mux.HandleFunc("GET /stream/live", s.handleLiveStream)
	mux.HandleFunc("GET /frame/latest", s.handleLatestFrame)

	mux.HandleFunc("GET /session/start", s.handleSessionStart)
	mux.HandleFunc("POST /session/start", s.handleSessionStart)
	mux.HandleFunc("POST /session/stop", s.handleSessionStop)
	mux.HandleFunc("GET /session/status", s.handleSessionStatus)
	mux.HandleFunc("GET /buffer/status", s.handleBufferStatus)

	mux.HandleFunc("POST /incidents/report", s.handleIncidentReport)
	mux.HandleFunc("GET /incidents", s.handleIncidentList)
	mux.HandleFunc("GET /incidents/{id}", s.handleIncidentGet)
	mux.HandleFunc("POST /incidents/{id}/checked", s.handleIncidentChecked)
	mux.HandleFunc("GET /events/incidents", s.handleIncidentEvents)

	mux.HandleFunc("GET /clips/{id}", s.handleClip)
	mux.HandleFunc("GET /clips/{id}/thumbnail", s.handleThumbnail)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.mets.Handler())

	return mux
}

// Start launches the broadcast worker that drains the detection
// stage's output into the live-frame fanout.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.broadcastWorker()
}

// Shutdown stops the broadcast worker and disconnects live clients.
func (s *Server) Shutdown() {
	s.cancel()
	s.wg.Wait()
	s.frames.Close()
	s.events.Close()
}

func (s *Server) broadcastWorker() {
	defer s.wg.Done()
	logger.Info("server", "Broadcast worker started")

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("server", "Broadcast worker stopped")
			return
		case payload := <-s.stage.Output():
			s.frames.Publish(payload)
		}
	}
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		deviceID = r.FormValue("device_id")
	}
	if deviceID == "" {
		deviceID = "unknown"
	}

	sess := s.track.Start(deviceID)
	s.ring.Clear()
	s.mets.UpdateBufferUsage(0, s.ring.Capacity())

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"session": sess,
	})
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	sess, err := s.track.Stop()
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			writeError(w, http.StatusBadRequest, "no_active_session", "No active session to stop")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"session": sess,
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.track.Status())
}

func (s *Server) handleBufferStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ring.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.ring.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"session":   s.track.Status(),
		"buffer": map[string]any{
			"frame_count":   status.FrameCount,
			"usage_percent": status.UsagePercent,
		},
		"detect_stage": s.stage.State().String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("server", "Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error":   code,
		"message": message,
	})
}
