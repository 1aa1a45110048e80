package broadcast

import (
	"testing"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New("test")
	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	b.Publish([]byte("frame-1"))

	for i, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case data := <-ch:
			if string(data) != "frame-1" {
				t.Fatalf("subscriber %d got %q", i, data)
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestSlowSubscriberSkipsPayloads(t *testing.T) {
	b := New("test")
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	// Channel buffers 2; the rest must be dropped, not block.
	for i := 0; i < 10; i++ {
		b.Publish([]byte("frame"))
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != 2 {
				t.Fatalf("received %d payloads, want 2", received)
			}
			return
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New("test")
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("client count = %d", b.ClientCount())
	}
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	b := New("test")
	_, ch := b.Subscribe()
	b.Close()

	if _, open := <-ch; open {
		t.Fatal("channel still open after close")
	}

	// A publish after close must not panic.
	b.Publish([]byte("late"))

	_, late := b.Subscribe()
	if _, open := <-late; open {
		t.Fatal("subscribe after close returned an open channel")
	}
}
