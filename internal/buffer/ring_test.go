package buffer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/safefall/streaming-server/pkg/types"
)

func frameAt(t time.Time) types.Frame {
	return types.Frame{
		Data:       []byte(fmt.Sprintf("jpeg-%d", t.UnixNano())),
		CapturedAt: t,
		DeviceID:   "pi-01",
	}
}

func TestRingEvictsOldestAtCapacity(t *testing.T) {
	r := NewRing(1*time.Second, 5) // capacity 5
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		r.Add(frameAt(base.Add(time.Duration(i) * 100 * time.Millisecond)))
	}

	frames := r.SnapshotAll()
	if len(frames) != 5 {
		t.Fatalf("snapshot length = %d, want 5", len(frames))
	}
	// Oldest surviving frame is insertion 7 of 12.
	want := base.Add(700 * time.Millisecond)
	if !frames[0].CapturedAt.Equal(want) {
		t.Fatalf("oldest frame at %v, want %v", frames[0].CapturedAt, want)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].CapturedAt.Before(frames[i-1].CapturedAt) {
			t.Fatalf("snapshot not sorted at index %d", i)
		}
	}
}

func TestRingSelectWindow(t *testing.T) {
	r := NewRing(time.Minute, 1) // capacity 60
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		r.Add(frameAt(base.Add(time.Duration(i) * time.Second)))
	}

	center := base.Add(10 * time.Second)
	window := r.SelectWindow(center, 3*time.Second, 3*time.Second)
	if len(window) != 7 {
		t.Fatalf("window length = %d, want 7", len(window))
	}
	if !window[0].CapturedAt.Equal(base.Add(7 * time.Second)) {
		t.Fatalf("window starts at %v", window[0].CapturedAt)
	}
	if !window[6].CapturedAt.Equal(base.Add(13 * time.Second)) {
		t.Fatalf("window ends at %v", window[6].CapturedAt)
	}
}

func TestRingSelectWindowNormalizesZone(t *testing.T) {
	r := NewRing(time.Minute, 1)
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	r.Add(frameAt(base))

	// Same instant expressed in a different zone must match.
	kst := time.FixedZone("KST", 9*3600)
	window := r.SelectWindow(base.In(kst), time.Second, time.Second)
	if len(window) != 1 {
		t.Fatalf("window length = %d, want 1", len(window))
	}
}

func TestRingSelectWindowEmptyBuffer(t *testing.T) {
	r := NewRing(time.Minute, 1)
	window := r.SelectWindow(time.Now(), 15*time.Second, 15*time.Second)
	if len(window) != 0 {
		t.Fatalf("window length = %d, want 0", len(window))
	}
}

func TestRingClear(t *testing.T) {
	r := NewRing(time.Minute, 1)
	for i := 0; i < 10; i++ {
		r.Add(frameAt(time.Now()))
	}
	r.Clear()
	if got := len(r.SnapshotAll()); got != 0 {
		t.Fatalf("snapshot length after clear = %d", got)
	}
	status := r.Status()
	if status.FrameCount != 0 || status.OldestFrame != nil {
		t.Fatalf("status after clear = %+v", status)
	}
}

func TestRingStatus(t *testing.T) {
	r := NewRing(10*time.Second, 3) // capacity 30
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		r.Add(frameAt(base.Add(time.Duration(i) * time.Second)))
	}

	status := r.Status()
	if status.FrameCount != 15 {
		t.Fatalf("frame_count = %d, want 15", status.FrameCount)
	}
	if status.MaxFrames != 30 {
		t.Fatalf("max_frames = %d, want 30", status.MaxFrames)
	}
	if status.UsagePercent != 50 {
		t.Fatalf("usage_percent = %f, want 50", status.UsagePercent)
	}
	if status.DurationSeconds != 14 {
		t.Fatalf("duration_seconds = %f, want 14", status.DurationSeconds)
	}
	if status.OldestFrame == nil || status.NewestFrame == nil {
		t.Fatalf("timestamps missing: %+v", status)
	}
}

func TestRingConcurrentAddAndStatus(t *testing.T) {
	r := NewRing(time.Second, 50) // capacity 50
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r.Add(frameAt(time.Now()))
			}
		}()
	}
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				status := r.Status()
				if status.FrameCount > status.MaxFrames {
					t.Errorf("frame_count %d exceeds capacity %d", status.FrameCount, status.MaxFrames)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestLatestSlot(t *testing.T) {
	slot := &LatestSlot{}

	if _, ok := slot.Get(); ok {
		t.Fatal("empty slot reported a value")
	}

	slot.Set([]byte("first"))
	slot.Set([]byte("second"))
	data, ok := slot.Get()
	if !ok || string(data) != "second" {
		t.Fatalf("slot = %q, %v; want second", data, ok)
	}
}
