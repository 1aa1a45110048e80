package buffer

import "sync"

// LatestSlot is a single-slot, last-writer-wins cell holding the most
// recent frame payload. Readers get whatever was latest at some point
// during the call; no staleness guarantee beyond that.
type LatestSlot struct {
	mu   sync.RWMutex
	data []byte
	set  bool
}

// Set replaces the held payload unconditionally.
func (s *LatestSlot) Set(data []byte) {
	s.mu.Lock()
	s.data = data
	s.set = true
	s.mu.Unlock()
}

// Get returns the current payload, or false if nothing has ever been set.
func (s *LatestSlot) Get() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, s.set
}
