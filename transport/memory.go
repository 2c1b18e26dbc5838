package transport

import (
	"fmt"
	"sync"

	"council/message"
)

// MemoryBus is an in-process registry of MemoryTransport endpoints,
// used in place of real sockets for unit and property tests (S4). It
// satisfies the same Transport contract as TCPTransport: at-most-once
// delivery, no ordering guarantee, best-effort broadcast.
type MemoryBus struct {
	mu    sync.RWMutex
	nodes map[string]*MemoryTransport
}

// NewMemoryBus returns an empty bus. Call Register for each member id
// before calling Start on any of the returned transports.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{nodes: make(map[string]*MemoryTransport)}
}

// Register creates and returns a MemoryTransport for id, backed by
// this bus. peers lists every other member id the transport may
// Send/Broadcast to.
func (b *MemoryBus) Register(id string, peers []string) *MemoryTransport {
	t := &MemoryTransport{selfID: id, bus: b, peers: append([]string(nil), peers...)}
	b.mu.Lock()
	b.nodes[id] = t
	b.mu.Unlock()
	return t
}

func (b *MemoryBus) deliver(peerID string, msg message.Message) error {
	b.mu.RLock()
	target, ok := b.nodes[peerID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	return target.receive(msg)
}

// MemoryTransport is a Transport backed by a MemoryBus instead of
// sockets. Each Send dispatches the handler call on its own goroutine,
// mirroring the "each inbound message is handled on its own worker
// task" requirement of spec.md §5 without any network I/O.
type MemoryTransport struct {
	selfID string
	bus    *MemoryBus
	peers  []string

	mu      sync.Mutex
	handler Handler
	closed  bool
}

// Start implements Transport.
func (t *MemoryTransport) Start(handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("%w: transport closed", ErrTransportStart)
	}
	t.handler = handler
	return nil
}

func (t *MemoryTransport) receive(msg message.Message) error {
	t.mu.Lock()
	handler := t.handler
	closed := t.closed
	t.mu.Unlock()
	if closed || handler == nil {
		return nil
	}
	// Dispatch on its own goroutine, mirroring TCPTransport where the
	// ack (and thus Send's return) precedes the handler call.
	go handler(msg)
	return nil
}

// Send implements Transport.
func (t *MemoryTransport) Send(peerID string, msg message.Message) error {
	found := false
	for _, p := range t.peers {
		if p == peerID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	return t.bus.deliver(peerID, msg)
}

// Broadcast implements Transport.
func (t *MemoryTransport) Broadcast(msg message.Message) error {
	for _, peerID := range t.peers {
		_ = t.bus.deliver(peerID, msg)
	}
	return nil
}

// Close implements Transport. Idempotent.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
