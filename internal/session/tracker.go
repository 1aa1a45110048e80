package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safefall/streaming-server/internal/logger"
)

// ErrNoActiveSession is returned by Stop when no session is running.
var ErrNoActiveSession = errors.New("no active session")

// Session records one ingestion run from a single camera agent.
type Session struct {
	ID          string     `json:"id"`
	DeviceID    string     `json:"device_id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	IsActive    bool       `json:"is_active"`
	TotalFrames int64      `json:"total_frames"`
}

// Status is the health-check view of the tracker.
type Status struct {
	Active  bool     `json:"active"`
	Session *Session `json:"session,omitempty"`
}

// Tracker owns the single active ingestion session. At most one session
// is active at any time; starting a new one ends the previous one.
type Tracker struct {
	mu     sync.Mutex
	active *Session
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Start ends the active session, if any, and begins a new one for the
// given device. It returns a copy of the new session.
func (t *Tracker) Start(deviceID string) Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	if t.active != nil {
		t.active.EndedAt = &now
		t.active.IsActive = false
		logger.Info("session", "Session %s ended (superseded), %d frames", t.active.ID, t.active.TotalFrames)
	}

	t.active = &Session{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		StartedAt: now,
		IsActive:  true,
	}
	logger.Info("session", "Session %s started for device %s", t.active.ID, deviceID)
	return *t.active
}

// Stop ends the active session and returns a copy of it. It fails with
// ErrNoActiveSession when nothing is running.
func (t *Tracker) Stop() (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return Session{}, ErrNoActiveSession
	}

	now := time.Now().UTC()
	t.active.EndedAt = &now
	t.active.IsActive = false
	ended := *t.active
	t.active = nil

	logger.Info("session", "Session %s stopped, %d frames", ended.ID, ended.TotalFrames)
	return ended, nil
}

// ObserveFrame counts one accepted frame against the active session,
// auto-starting a session for the device when none is active.
func (t *Tracker) ObserveFrame(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		now := time.Now().UTC()
		t.active = &Session{
			ID:        uuid.NewString(),
			DeviceID:  deviceID,
			StartedAt: now,
			IsActive:  true,
		}
		logger.Info("session", "Session %s auto-started for device %s", t.active.ID, deviceID)
	}
	t.active.TotalFrames++
}

// Status reports whether a session is active and its counters.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return Status{Active: false}
	}
	s := *t.active
	return Status{Active: true, Session: &s}
}
