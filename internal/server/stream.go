package server

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/safefall/streaming-server/internal/logger"
)

// blankJPEG renders the placeholder shown before any frame arrives.
func blankJPEG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	bg := color.RGBA{R: 24, G: 24, B: 24, A: 255}
	grid := color.RGBA{R: 48, G: 48, B: 48, A: 255}

	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			if x%40 == 0 || y%40 == 0 {
				img.SetRGBA(x, y, grid)
			} else {
				img.SetRGBA(x, y, bg)
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handleMJPEG emits the newest raw frame at the configured rate. The
// stream has no server-side timeout; it ends when the client leaves.
func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")

	blank, err := blankJPEG()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	s.mets.ActiveStreamClients.Add(1)
	s.mets.TotalStreamClients.Add(1)
	defer func() { s.mets.ActiveStreamClients.Add(^uint64(0)) }()

	fps := s.cfg.StreamFPS
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		jpegData := blank
		if data, ok := s.latest.Get(); ok {
			jpegData = data
		}

		if err := writeMultipartFrame(w, jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// handleLiveStream emits the detection stage's output, annotated when
// annotation is enabled, via the frame broadcaster.
func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")

	blank, err := blankJPEG()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)

	s.mets.ActiveStreamClients.Add(1)
	s.mets.TotalStreamClients.Add(1)
	defer func() { s.mets.ActiveStreamClients.Add(^uint64(0)) }()

	for {
		var jpegData []byte
		select {
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			jpegData = data
		case <-time.After(5 * time.Second):
			// No frame for 5 seconds, send the placeholder to keep the
			// connection alive.
			jpegData = blank
		case <-r.Context().Done():
			return
		}

		if err := writeMultipartFrame(w, jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected: %v", err)
			return
		}
		flusher.Flush()
	}
}

func writeMultipartFrame(w http.ResponseWriter, jpegData []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// handleLatestFrame serves the newest raw frame as a single image.
// Cache-disabling headers are set on every response so intermediaries
// never serve a stale frame.
func (s *Server) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")

	data, ok := s.latest.Get()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	if _, err := w.Write(data); err != nil {
		logger.Debug("server", "Snapshot write failed: %v", err)
	}
}

// handleIncidentEvents streams newly recorded incidents as SSE.
func (s *Server) handleIncidentEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", event); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()
		case <-time.After(30 * time.Second):
			// Keepalive comment to prevent idle timeouts.
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
