package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleIncident() *Incident {
	return &Incident{
		IncidentType:  "fall",
		DetectedAt:    time.Date(2025, 1, 10, 12, 34, 56, 0, time.UTC),
		VideoPath:     "incident_fall_20250110_123456.mp4",
		ThumbnailPath: "thumb_20250110_123456.jpg",
		Duration:      29.5,
		Confidence:    0.92,
		FrameCount:    450,
		DeviceID:      "pi-01",
	}
}

func TestCreateAndGetIncident(t *testing.T) {
	s := newTestStore(t)

	inc := sampleIncident()
	if err := s.CreateIncident(inc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if inc.ID == "" {
		t.Fatal("no id assigned")
	}

	got, err := s.GetIncident(inc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.VideoPath != inc.VideoPath {
		t.Fatalf("video_path = %q", got.VideoPath)
	}
	if got.ThumbnailPath != inc.ThumbnailPath {
		t.Fatalf("thumbnail_path = %q", got.ThumbnailPath)
	}
	if !got.DetectedAt.Equal(inc.DetectedAt) {
		t.Fatalf("detected_at = %v, want %v", got.DetectedAt, inc.DetectedAt)
	}
	if got.Confidence != 0.92 || got.FrameCount != 450 {
		t.Fatalf("got %+v", got)
	}
}

func TestGetIncidentNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetIncident("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNullThumbnailRoundTrip(t *testing.T) {
	s := newTestStore(t)

	inc := sampleIncident()
	inc.ThumbnailPath = ""
	if err := s.CreateIncident(inc); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetIncident(inc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ThumbnailPath != "" {
		t.Fatalf("thumbnail_path = %q, want empty", got.ThumbnailPath)
	}
}

func TestListIncidentsNewestFirst(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		inc := sampleIncident()
		inc.DetectedAt = base.Add(time.Duration(i) * time.Hour)
		if err := s.CreateIncident(inc); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	incidents, err := s.ListIncidents(0, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(incidents) != 3 {
		t.Fatalf("len = %d", len(incidents))
	}
	if !incidents[0].DetectedAt.After(incidents[2].DetectedAt) {
		t.Fatal("not ordered newest first")
	}

	limited, err := s.ListIncidents(2, "")
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited len = %d", len(limited))
	}
}

func TestListIncidentsByType(t *testing.T) {
	s := newTestStore(t)

	types := []string{"fall", "collapse", "fall"}
	for i, typ := range types {
		inc := sampleIncident()
		inc.IncidentType = typ
		inc.DetectedAt = inc.DetectedAt.Add(time.Duration(i) * time.Minute)
		if err := s.CreateIncident(inc); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	falls, err := s.ListIncidents(0, "fall")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(falls) != 2 {
		t.Fatalf("len = %d, want 2", len(falls))
	}
	for _, inc := range falls {
		if inc.IncidentType != "fall" {
			t.Fatalf("incident_type = %q", inc.IncidentType)
		}
	}

	none, err := s.ListIncidents(0, "emergency")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("len = %d, want 0", len(none))
	}
}

func TestMarkChecked(t *testing.T) {
	s := newTestStore(t)

	inc := sampleIncident()
	if err := s.CreateIncident(inc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkChecked(inc.ID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	got, _ := s.GetIncident(inc.ID)
	if !got.IsChecked {
		t.Fatal("incident not marked checked")
	}

	if err := s.MarkChecked("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSafeJoin(t *testing.T) {
	dir := t.TempDir()

	good, err := SafeJoin(dir, "incident_fall_20250110_123456.mp4")
	if err != nil {
		t.Fatalf("safe join: %v", err)
	}
	if filepath.Dir(good) != dir {
		t.Fatalf("joined outside dir: %s", good)
	}

	for _, bad := range []string{"../etc/passwd", "..", "a/../../b", ""} {
		if _, err := SafeJoin(dir, bad); err == nil {
			t.Fatalf("SafeJoin accepted %q", bad)
		}
	}
}
