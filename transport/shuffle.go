package transport

import (
	"math/rand"
	"sync"
	"time"

	"council/message"
)

// ShuffleTransport decorates another Transport, randomly delaying and
// reordering delivery to exercise the property tests of spec.md §8 S4
// (the core must stay correct under arbitrary message delay and
// reordering). It never drops messages and never mutates them; it only
// perturbs timing.
type ShuffleTransport struct {
	inner  Transport
	maxLag time.Duration
	rng    *rand.Rand

	mu sync.Mutex
}

// NewShuffleTransport wraps inner, delaying each delivered message by a
// random duration in [0, maxLag). seed makes the perturbation
// reproducible across test runs.
func NewShuffleTransport(inner Transport, maxLag time.Duration, seed int64) *ShuffleTransport {
	return &ShuffleTransport{inner: inner, maxLag: maxLag, rng: rand.New(rand.NewSource(seed))}
}

// Start implements Transport. The wrapped handler is invoked after a
// random jitter on its own goroutine, so concurrent inbound messages
// may be delivered to the handler out of send order.
func (s *ShuffleTransport) Start(handler Handler) error {
	return s.inner.Start(func(msg message.Message) {
		go func() {
			time.Sleep(s.jitter())
			handler(msg)
		}()
	})
}

func (s *ShuffleTransport) jitter() time.Duration {
	if s.maxLag <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.rng.Int63n(int64(s.maxLag)))
}

// Send implements Transport.
func (s *ShuffleTransport) Send(peerID string, msg message.Message) error {
	return s.inner.Send(peerID, msg)
}

// Broadcast implements Transport.
func (s *ShuffleTransport) Broadcast(msg message.Message) error {
	return s.inner.Broadcast(msg)
}

// Close implements Transport.
func (s *ShuffleTransport) Close() error {
	return s.inner.Close()
}
