package broadcast

import (
	"sync"

	"github.com/safefall/streaming-server/internal/logger"
)

// Broadcaster fans out byte payloads to multiple subscribed clients.
// It carries JPEG frames for the live MJPEG feed and serialized JSON
// events for SSE incident notifications. Publishing never blocks: a
// client that cannot keep up misses the payload.
type Broadcaster struct {
	mu      sync.Mutex
	name    string
	clients map[int]chan []byte
	nextID  int
	closed  bool
}

func New(name string) *Broadcaster {
	return &Broadcaster{
		name:    name,
		clients: make(map[int]chan []byte),
	}
}

// Subscribe adds a new client and returns a channel for receiving
// payloads. The channel buffers 2 entries so a briefly slow client
// does not stall the publisher.
func (b *Broadcaster) Subscribe() (int, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan []byte, 2)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch

	logger.Debug(b.name, "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug(b.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Publish delivers the payload to every subscriber without blocking.
// A subscriber whose channel is full skips this payload; recency wins
// over completeness on the live paths.
func (b *Broadcaster) Publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this payload for this client.
		}
	}
}

// Close unsubscribes every client. Subsequent Publish calls are no-ops
// and subsequent Subscribe calls receive an already-closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
	logger.Debug(b.name, "Broadcaster closed")
}
