// Package learner implements the Paxos learner role: majority-counting
// over ACCEPTED messages (with deduplication by acceptor id) and the
// at-most-once CONSENSUS announcement.
package learner

import (
	"fmt"
	"sync"
	"sync/atomic"

	"council/message"
	"council/pn"
)

// Announcer is invoked exactly once, the moment this node's learner
// decides, carrying the chosen value. Node wiring supplies an
// implementation that prints the public-contract CONSENSUS line.
type Announcer func(value string)

// Learner tallies ACCEPTED messages per (PN, value) pair and announces
// the first value to reach quorum. Per spec.md §4.6, once decided it
// ignores all further input.
type Learner struct {
	selfID  string
	quorum  int
	announce Announcer
	logf    func(format string, args ...any)

	decided atomic.Bool

	mu    sync.Mutex
	votes map[pn.PN]map[string]map[string]bool // PN -> value -> set(acceptorId)
}

// New constructs a Learner requiring quorum votes before announcing,
// via announce.
func New(selfID string, quorum int, announce Announcer, logf func(string, ...any)) *Learner {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Learner{
		selfID:   selfID,
		quorum:   quorum,
		announce: announce,
		logf:     logf,
		votes:    make(map[pn.PN]map[string]map[string]bool),
	}
}

// Decided reports whether this learner has already announced.
func (l *Learner) Decided() bool {
	return l.decided.Load()
}

// OnAccepted implements spec.md §4.6: record the sender's vote for
// (msg.Proposal, msg.Value); if this node hasn't decided and the vote
// now has quorum support, decide and announce. The learner observes
// ACCEPTED messages dispatched to it regardless of whether this node's
// own proposer originated the round.
func (l *Learner) OnAccepted(msg message.Message) {
	if l.decided.Load() || !msg.HasProposal || !msg.HasValue {
		return
	}

	l.mu.Lock()
	byValue, ok := l.votes[msg.Proposal]
	if !ok {
		byValue = make(map[string]map[string]bool)
		l.votes[msg.Proposal] = byValue
	}
	voters, ok := byValue[msg.Value]
	if !ok {
		voters = make(map[string]bool)
		byValue[msg.Value] = voters
	}
	voters[msg.SenderID] = true
	reached := len(voters) >= l.quorum
	l.mu.Unlock()

	if reached && l.decided.CompareAndSwap(false, true) {
		l.logf("[%s] learner reached quorum for %s = %q via ACCEPTED\n", l.selfID, pn.Format(msg.Proposal), msg.Value)
		l.announce(msg.Value)
	}
}

// OnDecide implements spec.md §4.6: on a DECIDE message, announce the
// carried value if this learner hasn't already decided. Idempotent
// otherwise.
func (l *Learner) OnDecide(msg message.Message) {
	if !msg.HasValue {
		return
	}
	if l.decided.CompareAndSwap(false, true) {
		l.logf("[%s] learner decided %q via DECIDE\n", l.selfID, msg.Value)
		l.announce(msg.Value)
	}
}

// Announcement is the public-contract line spec.md §6 requires: test
// harnesses grep for this exact format.
func Announcement(value string) string {
	return fmt.Sprintf("CONSENSUS: %s has been elected Council President!", value)
}
