// Package proposer implements the Paxos proposer role: minting
// proposal numbers, driving phase 1 (PREPARE/PROMISE) and phase 2
// (ACCEPT_REQUEST/ACCEPTED), and the value-choice rule that is the
// safety hinge of the whole protocol.
package proposer

import (
	"sync"

	"github.com/google/uuid"

	"council/message"
	"council/pn"
	"council/transport"
)

// priorAccept is one acceptor's previously-accepted (number, value)
// pair, reported on a PROMISE.
type priorAccept struct {
	number pn.PN
	value  string
}

// round holds the per-PN state a proposer accumulates while driving
// one attempt. Everything here is guarded by the enclosing Proposer's
// lock; phase2Started and decided are checked and flipped atomically
// with the quorum-size check under that same lock, so the follow-on
// broadcast happens exactly once even under concurrent handlers.
type round struct {
	originalValue string

	promises      map[string]bool
	priorAccepted map[string]priorAccept
	accepteds     map[string]bool

	phase2Started bool
	decided       bool
}

func newRound(originalValue string) *round {
	return &round{
		originalValue: originalValue,
		promises:      make(map[string]bool),
		priorAccepted: make(map[string]priorAccept),
		accepteds:     make(map[string]bool),
	}
}

// Proposer drives the two-phase protocol on behalf of one node. A
// single instance may run many concurrent rounds (one per minted PN);
// state for each round is held in open-ended maps keyed by PN, as
// spec.md §9 describes.
type Proposer struct {
	selfID string
	gen    *pn.Generator
	tr     transport.Transport
	quorum int
	logf   func(format string, args ...any)

	mu     sync.Mutex
	rounds map[pn.PN]*round
}

// New constructs a Proposer that mints PNs owned by selfID, sends
// phase 1/2 messages over tr, and requires quorum replies to cross
// each latch.
func New(selfID string, tr transport.Transport, quorum int, logf func(string, ...any)) *Proposer {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Proposer{
		selfID: selfID,
		gen:    pn.NewGenerator(selfID),
		tr:     tr,
		quorum: quorum,
		logf:   logf,
		rounds: make(map[pn.PN]*round),
	}
}

// StartPrepare mints a fresh PN, records candidate as that round's
// original value, and broadcasts PREPARE(pn). It does not validate
// candidate against the known member set; spec.md §4.5 places that
// responsibility on the caller.
func (p *Proposer) StartPrepare(candidate string) pn.PN {
	n := p.gen.Next()

	p.mu.Lock()
	p.rounds[n] = newRound(candidate)
	p.mu.Unlock()

	trace := uuid.New().String()
	p.logf("[%s] %s starting phase 1 for %s with candidate %q\n", p.selfID, trace, pn.Format(n), candidate)

	p.broadcast(message.Message{
		Type:        message.Prepare,
		SenderID:    p.selfID,
		Proposal:    n,
		HasProposal: true,
	})
	return n
}

// OnPromise implements the PROMISE handler of spec.md §4.5: record the
// sender's promise (and any prior-accepted pair it piggybacked), and
// when quorum is first reached, compute the phase-2 value via the
// value-choice rule and broadcast ACCEPT_REQUEST.
func (p *Proposer) OnPromise(msg message.Message) {
	if !msg.HasProposal {
		return
	}
	n := msg.Proposal

	p.mu.Lock()
	r, ok := p.rounds[n]
	if !ok {
		// Round was pruned or never started by this node; nothing to do.
		p.mu.Unlock()
		return
	}
	r.promises[msg.SenderID] = true

	if accNumStr, okN := msg.Extra["accNum"]; okN {
		if accValStr, okV := msg.Extra["accVal"]; okV {
			if accN, err := pn.Parse(accNumStr); err == nil {
				r.priorAccepted[msg.SenderID] = priorAccept{number: accN, value: accValStr}
			}
		}
	}

	crossedQuorum := len(r.promises) >= p.quorum
	fireNow := crossedQuorum && !r.phase2Started
	if fireNow {
		r.phase2Started = true
	}

	var snapshot map[string]priorAccept
	var originalValue string
	if fireNow {
		snapshot = make(map[string]priorAccept, len(r.priorAccepted))
		for k, v := range r.priorAccepted {
			snapshot[k] = v
		}
		originalValue = r.originalValue
	}
	p.mu.Unlock()

	if !fireNow {
		return
	}

	value := chooseValue(snapshot, originalValue)
	p.logf("[%s] phase 1 quorum reached for %s, proposing value %q\n", p.selfID, pn.Format(n), value)
	p.broadcast(message.Message{
		Type:        message.AcceptRequest,
		SenderID:    p.selfID,
		Proposal:    n,
		HasProposal: true,
		Value:       value,
		HasValue:    true,
	})
}

// chooseValue implements the value-choice rule (spec.md §4.5): among
// all prior-accepted pairs collected so far, pick the one with the
// maximum accepted number and propose its value; if none were
// reported, propose the proposer's own original candidate. Ties on
// accepted number cannot occur because PNs are globally unique.
func chooseValue(snapshot map[string]priorAccept, originalValue string) string {
	var best *priorAccept
	for id := range snapshot {
		entry := snapshot[id]
		if best == nil || pn.Less(best.number, entry.number) {
			e := entry
			best = &e
		}
	}
	if best == nil {
		return originalValue
	}
	return best.value
}

// OnAccepted implements the proposer-side ACCEPTED handler of spec.md
// §4.5: record the sender's acceptance, and when quorum is first
// reached, broadcast DECIDE exactly once.
func (p *Proposer) OnAccepted(msg message.Message) {
	if !msg.HasProposal || !msg.HasValue {
		return
	}
	n := msg.Proposal

	p.mu.Lock()
	r, ok := p.rounds[n]
	if !ok {
		p.mu.Unlock()
		return
	}
	r.accepteds[msg.SenderID] = true

	fireNow := len(r.accepteds) >= p.quorum && !r.decided
	if fireNow {
		r.decided = true
	}
	p.mu.Unlock()

	if !fireNow {
		return
	}

	p.logf("[%s] phase 2 quorum reached for %s, deciding value %q\n", p.selfID, pn.Format(n), msg.Value)
	p.broadcast(message.Message{
		Type:        message.Decide,
		SenderID:    p.selfID,
		Proposal:    n,
		HasProposal: true,
		Value:       msg.Value,
		HasValue:    true,
	})
}

// Prune drops round state for every PN strictly below decidedBelow.
// This is a memory-bound optimization spec.md §9 explicitly allows
// ("decision-driven cleanup sweep"); it changes no observable
// semantics because superseded rounds are never referenced again.
func (p *Proposer) Prune(decidedBelow pn.PN) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for n := range p.rounds {
		if pn.Less(n, decidedBelow) {
			delete(p.rounds, n)
		}
	}
}

// RoundCount returns the number of rounds currently tracked. Exposed
// for tests asserting Prune's effect.
func (p *Proposer) RoundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rounds)
}

func (p *Proposer) broadcast(msg message.Message) {
	if err := p.tr.Broadcast(msg); err != nil {
		p.logf("[%s] WARN: broadcast failed: %v\n", p.selfID, err)
	}
}
