package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/safefall/streaming-server/internal/logger"
	"github.com/safefall/streaming-server/internal/store"
	"github.com/safefall/streaming-server/pkg/types"
)

var allowedIncidentTypes = map[string]bool{
	"fall":              true,
	"collapse":          true,
	"abnormal_behavior": true,
	"emergency":         true,
	"unknown":           true,
}

// handleUpload accepts one JPEG frame as multipart form data with a
// "frame" file field and an optional "device_id" value.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Generous multipart overhead on top of the frame limit.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFrameBytes+64*1024)

	file, _, err := r.FormFile("frame")
	if err != nil {
		s.mets.FramesRejected.Add(1)
		logger.Warn("server", "Upload rejected: no frame field (%v)", err)
		writeError(w, http.StatusBadRequest, "no_frame", "No frame provided")
		return
	}
	defer file.Close()

	deviceID := r.FormValue("device_id")
	if deviceID == "" {
		deviceID = "unknown"
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.mets.FramesRejected.Add(1)
		writeError(w, http.StatusBadRequest, "unreadable_frame", "Failed to read frame data")
		return
	}
	if len(data) == 0 {
		s.mets.FramesRejected.Add(1)
		logger.Warn("server", "Upload rejected: empty frame from %s", deviceID)
		writeError(w, http.StatusBadRequest, "empty_frame", "Empty frame data")
		return
	}
	if int64(len(data)) > s.cfg.MaxFrameBytes {
		s.mets.FramesRejected.Add(1)
		logger.Warn("server", "Upload rejected: %d bytes from %s exceeds limit", len(data), deviceID)
		writeError(w, http.StatusRequestEntityTooLarge, "frame_too_large",
			fmt.Sprintf("Frame exceeds %d byte limit", s.cfg.MaxFrameBytes))
		return
	}
	if int64(len(data)) > s.cfg.WarnFrameBytes {
		logger.Warn("server", "Large frame: %d bytes from %s", len(data), deviceID)
	}

	frame := types.Frame{
		Data:       data,
		CapturedAt: time.Now().UTC(),
		DeviceID:   deviceID,
	}

	s.ring.Add(frame)
	s.latest.Set(data)
	s.track.ObserveFrame(deviceID)
	s.stage.Offer(frame)

	s.mets.FramesIngested.Add(1)
	s.mets.UpdateIngestLatency(frame.CapturedAt)
	status := s.ring.Status()
	s.mets.UpdateBufferUsage(status.FrameCount, status.MaxFrames)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"buffer_status": status,
	})
}

type incidentReport struct {
	DeviceID     string  `json:"device_id"`
	IncidentType string  `json:"incident_type"`
	DetectedAt   string  `json:"detected_at"`
	Confidence   float64 `json:"confidence"`
}

// handleIncidentReport lets the camera agent signal an incident it
// detected on-device. The endpoint is unauthenticated so constrained
// IoT clients can reach it.
func (s *Server) handleIncidentReport(w http.ResponseWriter, r *http.Request) {
	var report incidentReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be JSON")
		return
	}
	if report.IncidentType == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "incident_type required")
		return
	}
	if !allowedIncidentTypes[report.IncidentType] {
		writeError(w, http.StatusBadRequest, "invalid_incident_type", "Unknown incident_type")
		return
	}

	detectedAt := time.Now().UTC()
	if report.DetectedAt != "" {
		parsed, err := time.Parse(time.RFC3339, report.DetectedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timestamp", "detected_at must be RFC3339")
			return
		}
		detectedAt = parsed.UTC()
	}

	deviceID := report.DeviceID
	if deviceID == "" {
		deviceID = "unknown"
	}

	inc, err := s.RecordIncident(r.Context(), detectedAt, report.IncidentType, report.Confidence, deviceID)
	if err != nil {
		logger.Error("server", "Incident recording failed: %v", err)
		writeError(w, http.StatusInternalServerError, "incident_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":   "success",
		"message":  "Incident recorded",
		"incident": inc,
	})
}

// RecordIncident extracts the clip around detectedAt, persists the
// incident record, and notifies event subscribers. When persistence
// fails the extracted files are removed so no orphaned media remains.
func (s *Server) RecordIncident(ctx context.Context, detectedAt time.Time, incidentType string, confidence float64, deviceID string) (*store.Incident, error) {
	clipDesc, err := s.ext.Extract(ctx, detectedAt, incidentType, confidence)
	if err != nil {
		return nil, fmt.Errorf("extracting clip: %w", err)
	}

	inc := &store.Incident{
		IncidentType:  incidentType,
		DetectedAt:    clipDesc.DetectedAt,
		VideoPath:     clipDesc.VideoPath,
		ThumbnailPath: clipDesc.ThumbnailPath,
		Duration:      clipDesc.DurationSeconds,
		Confidence:    clipDesc.Confidence,
		FrameCount:    clipDesc.SourceFrameCount,
		DeviceID:      deviceID,
	}
	if err := s.db.CreateIncident(inc); err != nil {
		s.ext.RemoveArtifacts(clipDesc)
		return nil, fmt.Errorf("persisting incident: %w", err)
	}

	if payload, err := json.Marshal(inc); err == nil {
		s.events.Publish(payload)
	}

	logger.Info("server", "Incident %s recorded (%s, %d frames)", inc.ID, incidentType, inc.FrameCount)
	return inc, nil
}

// HandleDetection is the incident callback wired into the detection
// stage. The device id comes from the active session.
func (s *Server) HandleDetection(detectedAt time.Time, det types.Detection) {
	deviceID := "unknown"
	if status := s.track.Status(); status.Active {
		deviceID = status.Session.DeviceID
	}

	if _, err := s.RecordIncident(s.ctx, detectedAt, "fall", det.Confidence, deviceID); err != nil {
		logger.Error("server", "Automatic incident handling failed: %v", err)
	}
}

func (s *Server) handleIncidentList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		fmt.Sscanf(raw, "%d", &limit)
	}

	incidents, err := s.db.ListIncidents(limit, r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if incidents == nil {
		incidents = []store.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

func (s *Server) handleIncidentGet(w http.ResponseWriter, r *http.Request) {
	inc, err := s.db.GetIncident(r.PathValue("id"))
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "incident_not_found", "No incident with id "+r.PathValue("id"))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleIncidentChecked(w http.ResponseWriter, r *http.Request) {
	if err := s.db.MarkChecked(r.PathValue("id")); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "incident_not_found", "No incident with id "+r.PathValue("id"))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}
