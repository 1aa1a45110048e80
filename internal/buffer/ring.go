package buffer

import (
	"sync"
	"time"

	"github.com/safefall/streaming-server/pkg/types"
)

// Ring is a fixed-capacity, time-ordered window of recent frames.
// Capacity is derived from the retention duration and the nominal frame
// rate; when full, adding a frame evicts the oldest one. All methods are
// safe for concurrent use.
type Ring struct {
	mu     sync.Mutex
	frames []types.Frame
	head   int // index of the oldest frame
	count  int
}

// Status describes the buffer contents at a point in time. Field names
// mirror the upstream streaming API.
type Status struct {
	FrameCount      int     `json:"frame_count"`
	MaxFrames       int     `json:"max_frames"`
	DurationSeconds float64 `json:"duration_seconds"`
	OldestFrame     *string `json:"oldest_frame"`
	NewestFrame     *string `json:"newest_frame"`
	UsagePercent    float64 `json:"usage_percent"`
}

// NewRing creates a ring holding retention*fps frames.
func NewRing(retention time.Duration, fps int) *Ring {
	capacity := int(retention.Seconds()) * fps
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{frames: make([]types.Frame, capacity)}
}

// Capacity returns the fixed frame capacity.
func (r *Ring) Capacity() int {
	return len(r.frames)
}

// Add appends a frame, evicting the oldest when full. It never blocks
// and never fails.
func (r *Ring) Add(frame types.Frame) {
	frame.CapturedAt = frame.CapturedAt.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.count) % len(r.frames)
	r.frames[tail] = frame
	if r.count == len(r.frames) {
		r.head = (r.head + 1) % len(r.frames)
	} else {
		r.count++
	}
}

// SnapshotAll returns a consistent copy of the buffered frames, oldest
// first. The buffer may change as soon as the call returns; the copy is
// the stable view.
func (r *Ring) SnapshotAll() []types.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Frame, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.frames[(r.head+i)%len(r.frames)]
	}
	return out
}

// SelectWindow returns the frames captured within [center-before,
// center+after]. The center timestamp is normalized to UTC before
// comparison. An empty buffer yields an empty result.
func (r *Ring) SelectWindow(center time.Time, before, after time.Duration) []types.Frame {
	center = center.UTC()
	lo := center.Add(-before)
	hi := center.Add(after)

	snapshot := r.SnapshotAll()
	out := make([]types.Frame, 0, len(snapshot))
	for _, f := range snapshot {
		if !f.CapturedAt.Before(lo) && !f.CapturedAt.After(hi) {
			out = append(out, f)
		}
	}
	return out
}

// Clear empties the buffer. Used when a new ingestion session begins.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.frames {
		r.frames[i] = types.Frame{}
	}
	r.head = 0
	r.count = 0
}

// Status reports the buffer state, computed from a snapshot so readers
// never observe a half-updated structure.
func (r *Ring) Status() Status {
	snapshot := r.SnapshotAll()

	status := Status{
		FrameCount: len(snapshot),
		MaxFrames:  r.Capacity(),
	}
	if len(snapshot) > 0 {
		oldest := snapshot[0].CapturedAt.Format(time.RFC3339Nano)
		newest := snapshot[len(snapshot)-1].CapturedAt.Format(time.RFC3339Nano)
		status.OldestFrame = &oldest
		status.NewestFrame = &newest
		status.DurationSeconds = snapshot[len(snapshot)-1].CapturedAt.Sub(snapshot[0].CapturedAt).Seconds()
	}
	status.UsagePercent = float64(len(snapshot)) / float64(r.Capacity()) * 100
	return status
}
