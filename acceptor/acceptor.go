// Package acceptor implements the Paxos acceptor role: the per-node
// durable-in-memory record of the highest promised proposal number and
// the last accepted (number, value) pair, and the state transitions
// spec.md §4.4 defines over it.
package acceptor

import (
	"sync"

	"council/pn"
)

// Snapshot is a point-in-time copy of the acceptor's state, returned to
// callers that need it without holding the internal lock (e.g. to
// decide what to piggyback on a PROMISE).
type Snapshot struct {
	HighestPromised    pn.PN
	HasHighestPromised bool
	AcceptedNumber     pn.PN
	HasAccepted        bool
	AcceptedValue      string
}

// State is the per-node acceptor record described in spec.md §3. All
// three fields start unset. Invariants, enforced by construction:
//
//	A1: if AcceptedNumber is set then HighestPromised is set and >= it.
//	A2: once set, HighestPromised is monotonic non-decreasing.
//	A3: AcceptedValue is set iff AcceptedNumber is set.
//
// All mutation happens under a single mutual-exclusion region spanning
// the read-then-write sequence of OnPrepare/OnAcceptRequest, per
// spec.md §5.
type State struct {
	mu sync.Mutex

	highestPromised    pn.PN
	hasHighestPromised bool
	acceptedNumber     pn.PN
	hasAccepted        bool
	acceptedValue      string
}

// New returns a fresh acceptor state with nothing set.
func New() *State {
	return &State{}
}

// OnPrepare implements the PREPARE handler of spec.md §4.4. It returns
// (snapshot, true) when the proposal is promised, or (Snapshot{}, false)
// when it is silently rejected (no NACK is emitted; the caller simply
// sends nothing).
//
// "n >= highestPromised" (not strictly greater) is used deliberately:
// duplicate PREPAREs for the same n must be idempotent, and
// re-promising the same n is safe because highestPromised never
// decreases.
func (s *State) OnPrepare(n pn.PN) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasHighestPromised && pn.Less(n, s.highestPromised) {
		return Snapshot{}, false
	}
	s.highestPromised = n
	s.hasHighestPromised = true

	return Snapshot{
		HighestPromised:    s.highestPromised,
		HasHighestPromised: true,
		AcceptedNumber:     s.acceptedNumber,
		HasAccepted:        s.hasAccepted,
		AcceptedValue:      s.acceptedValue,
	}, true
}

// OnAcceptRequest implements the ACCEPT_REQUEST handler of spec.md
// §4.4. It returns true when the value is accepted, false when it is
// silently rejected. Equality (n == highestPromised) is accepted: the
// only way to reach equality is a PREPARE this acceptor already
// promised for the same n, and refusing would cost liveness without
// improving safety.
func (s *State) OnAcceptRequest(n pn.PN, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasHighestPromised && pn.Less(n, s.highestPromised) {
		return false
	}
	s.highestPromised = n
	s.hasHighestPromised = true
	s.acceptedNumber = n
	s.hasAccepted = true
	s.acceptedValue = value
	return true
}

// Snapshot returns a consistent point-in-time copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		HighestPromised:    s.highestPromised,
		HasHighestPromised: s.hasHighestPromised,
		AcceptedNumber:     s.acceptedNumber,
		HasAccepted:        s.hasAccepted,
		AcceptedValue:      s.acceptedValue,
	}
}
