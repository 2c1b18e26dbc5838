package transport

import (
	"sync"
	"testing"
	"time"

	"council/message"
)

func TestMemoryTransportSendAndBroadcast(t *testing.T) {
	bus := NewMemoryBus()
	m1 := bus.Register("M1", []string{"M2", "M3"})
	m2 := bus.Register("M2", []string{"M1", "M3"})
	m3 := bus.Register("M3", []string{"M1", "M2"})

	var mu sync.Mutex
	got := map[string]int{}
	record := func(id string) Handler {
		return func(msg message.Message) {
			mu.Lock()
			got[id]++
			mu.Unlock()
		}
	}
	if err := m1.Start(record("M1")); err != nil {
		t.Fatal(err)
	}
	if err := m2.Start(record("M2")); err != nil {
		t.Fatal(err)
	}
	if err := m3.Start(record("M3")); err != nil {
		t.Fatal(err)
	}

	if err := m1.Broadcast(message.Message{Type: message.Prepare, SenderID: "M1"}); err != nil {
		t.Fatalf("broadcast error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := got["M2"] == 1 && got["M3"] == 1 && got["M1"] == 0
		mu.Unlock()
		if done {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("broadcast did not reach expected peers: %v", got)
}

func TestMemoryTransportSendUnknownPeer(t *testing.T) {
	bus := NewMemoryBus()
	m1 := bus.Register("M1", []string{"M2"})
	if err := m1.Start(func(message.Message) {}); err != nil {
		t.Fatal(err)
	}
	if err := m1.Send("GHOST", message.Message{Type: message.Prepare, SenderID: "M1"}); err == nil {
		t.Fatal("expected ErrUnknownPeer")
	}
}

func TestMemoryTransportCloseIsIdempotent(t *testing.T) {
	bus := NewMemoryBus()
	m1 := bus.Register("M1", nil)
	if err := m1.Start(func(message.Message) {}); err != nil {
		t.Fatal(err)
	}
	if err := m1.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := m1.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
