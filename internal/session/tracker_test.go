package session

import (
	"sync"
	"testing"
)

func TestStartSupersedesActiveSession(t *testing.T) {
	tr := NewTracker()

	first := tr.Start("pi-01")
	superseded := tr.active
	second := tr.Start("pi-02")

	if first.ID == second.ID {
		t.Fatal("sessions share an id")
	}
	// The superseded session must carry an end timestamp.
	if superseded.EndedAt == nil {
		t.Fatal("superseded session has no end time")
	}
	if superseded.IsActive {
		t.Fatal("superseded session still marked active")
	}
	if superseded.EndedAt.After(second.StartedAt) {
		t.Fatalf("end time %v after successor start %v", superseded.EndedAt, second.StartedAt)
	}

	status := tr.Status()
	if !status.Active {
		t.Fatal("no active session after start")
	}
	if status.Session.ID != second.ID {
		t.Fatalf("active session = %s, want %s", status.Session.ID, second.ID)
	}

	ended, err := tr.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if ended.EndedAt == nil {
		t.Fatal("stopped session has no end time")
	}
}

func TestStopWithoutActiveSession(t *testing.T) {
	tr := NewTracker()
	if _, err := tr.Stop(); err != ErrNoActiveSession {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestObserveFrameAutoStartsSession(t *testing.T) {
	tr := NewTracker()

	tr.ObserveFrame("pi-01")
	tr.ObserveFrame("pi-01")
	tr.ObserveFrame("pi-01")

	status := tr.Status()
	if !status.Active {
		t.Fatal("observe did not auto-start a session")
	}
	if status.Session.DeviceID != "pi-01" {
		t.Fatalf("device = %s", status.Session.DeviceID)
	}
	if status.Session.TotalFrames != 3 {
		t.Fatalf("total_frames = %d, want 3", status.Session.TotalFrames)
	}
}

func TestConcurrentObserve(t *testing.T) {
	tr := NewTracker()
	tr.Start("pi-01")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				tr.ObserveFrame("pi-01")
			}
		}()
	}
	wg.Wait()

	status := tr.Status()
	if status.Session.TotalFrames != 2000 {
		t.Fatalf("total_frames = %d, want 2000", status.Session.TotalFrames)
	}
}
