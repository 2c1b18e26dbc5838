// Package node wires the acceptor, proposer, and learner roles to a
// Transport and routes inbound messages between them: the dispatcher
// table of spec.md §4.7, plus process-level concerns (interactive
// proposal input, scheduled auto-propose, startup/shutdown).
package node

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"council/acceptor"
	"council/config"
	"council/learner"
	"council/message"
	"council/pn"
	"council/proposer"
	"council/transport"
)

// ErrUnknownCandidate is returned when an interactive propose command
// names a candidate outside the cluster's known member set.
var ErrUnknownCandidate = errors.New("node: unknown candidate")

// Node composes one cluster member's acceptor, proposer, and learner
// around a Transport, and routes inbound messages by type.
type Node struct {
	SelfID  string
	Cluster *config.Cluster

	tr       transport.Transport
	acceptor *acceptor.State
	proposer *proposer.Proposer
	learner  *learner.Learner
	logf     func(format string, args ...any)

	mu      sync.Mutex
	started bool
}

// New constructs a Node for selfID over cluster, using tr as the
// transport. logf defaults to a no-op when nil. On consensus, the
// node prints the CONSENSUS line to stdout per spec.md §6.
func New(selfID string, cluster *config.Cluster, tr transport.Transport, logf func(string, ...any)) *Node {
	return NewWithAnnouncer(selfID, cluster, tr, defaultAnnounce, logf)
}

// NewWithAnnouncer is like New but lets the caller observe (or
// replace) the consensus announcement, e.g. so tests can assert on it
// without scraping stdout.
func NewWithAnnouncer(selfID string, cluster *config.Cluster, tr transport.Transport, announce learner.Announcer, logf func(string, ...any)) *Node {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if announce == nil {
		announce = defaultAnnounce
	}
	quorum := cluster.Quorum()
	n := &Node{
		SelfID:   selfID,
		Cluster:  cluster,
		tr:       tr,
		acceptor: acceptor.New(),
		logf:     logf,
	}
	n.proposer = proposer.New(selfID, tr, quorum, logf)
	n.learner = learner.New(selfID, quorum, announce, logf)
	return n
}

func defaultAnnounce(value string) {
	fmt.Println(learner.Announcement(value))
}

// Start installs the dispatcher as the transport's handler and begins
// listening.
func (n *Node) Start() error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = true
	n.mu.Unlock()

	return n.tr.Start(n.Dispatch)
}

// Close tears down the transport.
func (n *Node) Close() error {
	return n.tr.Close()
}

// Dispatch implements the routing table of spec.md §4.7: a pure
// fan-out switch on msg.Type. ACCEPTED is delivered to both the
// proposer and the learner, in that order; unknown types are dropped
// silently.
func (n *Node) Dispatch(msg message.Message) {
	switch msg.Type {
	case message.Prepare:
		n.handlePrepare(msg)
	case message.Promise:
		n.proposer.OnPromise(msg)
	case message.AcceptRequest:
		n.handleAcceptRequest(msg)
	case message.Accepted:
		n.proposer.OnAccepted(msg)
		n.learner.OnAccepted(msg)
	case message.Decide:
		n.learner.OnDecide(msg)
		n.pruneOnDecide(msg)
	default:
		// unknown → drop silently
	}
}

func (n *Node) handlePrepare(msg message.Message) {
	if !msg.HasProposal {
		return
	}
	snap, promised := n.acceptor.OnPrepare(msg.Proposal)
	if !promised {
		return // silent reject: no NACK is emitted
	}

	reply := message.Message{
		Type:        message.Promise,
		SenderID:    n.SelfID,
		Proposal:    msg.Proposal,
		HasProposal: true,
	}
	if snap.HasAccepted {
		reply.Extra = map[string]string{
			"accNum": pn.Format(snap.AcceptedNumber),
			"accVal": snap.AcceptedValue,
		}
	}
	n.sendTo(msg.SenderID, reply)
}

func (n *Node) handleAcceptRequest(msg message.Message) {
	if !msg.HasProposal || !msg.HasValue {
		return
	}
	if !n.acceptor.OnAcceptRequest(msg.Proposal, msg.Value) {
		return // silent reject
	}
	n.sendTo(msg.SenderID, message.Message{
		Type:        message.Accepted,
		SenderID:    n.SelfID,
		Proposal:    msg.Proposal,
		HasProposal: true,
		Value:       msg.Value,
		HasValue:    true,
	})
}

func (n *Node) pruneOnDecide(msg message.Message) {
	if msg.HasProposal {
		n.proposer.Prune(msg.Proposal)
	}
}

func (n *Node) sendTo(peerID string, msg message.Message) {
	if err := n.tr.Send(peerID, msg); err != nil {
		n.logf("[%s] WARN: send to %s failed: %v\n", n.SelfID, peerID, err)
	}
}

// Propose validates candidate against the cluster's known member set
// and, if valid, starts phase 1 on this node's proposer.
func (n *Node) Propose(candidate string) error {
	if !n.Cluster.Has(candidate) {
		return fmt.Errorf("%w: %q", ErrUnknownCandidate, candidate)
	}
	n.proposer.StartPrepare(candidate)
	return nil
}

// ScheduleAutoPropose implements the --propose/--delay CLI contract
// (spec.md §6): after delay elapses, Propose(candidate) is invoked
// once.
func (n *Node) ScheduleAutoPropose(candidate string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if err := n.Propose(candidate); err != nil {
			n.logf("[%s] auto-propose failed: %v\n", n.SelfID, err)
		}
	})
}

// RunInteractive reads candidate ids line by line from r until EOF,
// feeding each known id to Propose and diagnosing unknown ones, per
// spec.md §6.
func (n *Node) RunInteractive(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		candidate := scanner.Text()
		if candidate == "" {
			continue
		}
		if err := n.Propose(candidate); err != nil {
			fmt.Printf("[%s] %v\n", n.SelfID, err)
			continue
		}
	}
	return scanner.Err()
}
