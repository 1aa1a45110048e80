package types

import "time"

// Frame is one encoded JPEG image flowing through the pipeline.
// The payload is immutable once created; downstream consumers must not
// modify Data in place.
type Frame struct {
	Data       []byte    // Encoded JPEG bytes
	CapturedAt time.Time // Capture timestamp, normalized to UTC
	DeviceID   string    // Producer device identifier
}

// BoundingBox is a detection rectangle in pixel coordinates.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// AspectRatio returns width/height, or 0 when the box has no height.
func (b BoundingBox) AspectRatio() float64 {
	if b.H <= 0 {
		return 0
	}
	return float64(b.W) / float64(b.H)
}

// Detection is the result of running the external detector on one frame.
type Detection struct {
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// IncidentClip describes an encoded incident video on disk.
// Paths are filenames relative to the clip directory; ThumbnailPath is
// empty when thumbnail generation failed.
type IncidentClip struct {
	DetectedAt       time.Time `json:"detected_at"`
	SourceFrameCount int       `json:"frame_count"`
	VideoPath        string    `json:"video_path"`
	ThumbnailPath    string    `json:"thumbnail_path,omitempty"`
	DurationSeconds  float64   `json:"duration"`
	Confidence       float64   `json:"confidence"`
}
