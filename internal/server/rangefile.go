package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/safefall/streaming-server/internal/logger"
	"github.com/safefall/streaming-server/internal/store"
)

// handleClip serves the incident's video file with byte-range support
// so players can seek and resume.
func (s *Server) handleClip(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inc, err := s.db.GetIncident(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident_not_found", "No incident with id "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	path, err := store.SafeJoin(s.cfg.VideosDir, inc.VideoPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsafe_path", "Stored video path is invalid")
		return
	}

	s.serveFileRange(w, r, path, "video/mp4")
}

// handleThumbnail serves the incident's thumbnail image.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inc, err := s.db.GetIncident(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident_not_found", "No incident with id "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if inc.ThumbnailPath == "" {
		writeError(w, http.StatusNotFound, "no_thumbnail", "Incident has no thumbnail")
		return
	}

	path, err := store.SafeJoin(s.cfg.VideosDir, inc.ThumbnailPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsafe_path", "Stored thumbnail path is invalid")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "file_missing", "Thumbnail file missing on disk")
			return
		}
		writeError(w, http.StatusInternalServerError, "io_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// serveFileRange implements the byte-range delivery protocol: full
// file on no or malformed Range, 206 on a valid range, 416 with
// Content-Range bytes */N and no body on an invalid one.
func (s *Server) serveFileRange(w http.ResponseWriter, r *http.Request, path, contentType string) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// A record exists but its media is gone; distinct from an
			// unknown id for operability.
			writeError(w, http.StatusNotFound, "file_missing", "Media file missing on disk")
			return
		}
		writeError(w, http.StatusInternalServerError, "io_error", err.Error())
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "io_error", err.Error())
		return
	}
	size := info.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	start, end, ok := parseRange(r.Header.Get("Range"), size)
	if !ok {
		// No Range header or unparseable syntax: serve the whole file.
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, file); err != nil {
			logger.Debug("server", "Clip delivery aborted: %v", err)
		}
		return
	}

	if start < 0 || start > end || end > size-1 {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "io_error", err.Error())
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, file, length); err != nil {
		logger.Debug("server", "Partial clip delivery aborted: %v", err)
	}
}

// parseRange parses "bytes=<start>-<end>" with either bound optional.
// The third return is false when the header is absent or malformed,
// which callers must treat as a full-file request.
func parseRange(header string, size int64) (int64, int64, bool) {
	if header == "" || !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false
	}

	spec := strings.TrimPrefix(header, "bytes=")
	// Multiple ranges are not supported; treat as malformed.
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	start, end := int64(0), size-1
	startGiven := strings.TrimSpace(parts[0]) != ""
	endGiven := strings.TrimSpace(parts[1]) != ""
	if !startGiven && !endGiven {
		return 0, 0, false
	}

	var err error
	if startGiven {
		if start, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64); err != nil {
			return 0, 0, false
		}
	}
	if endGiven {
		if end, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64); err != nil {
			return 0, 0, false
		}
	}
	return start, end, true
}
