// Package transport implements the abstract best-effort message bus
// the consensus core depends on, plus a concrete TCP realization.
package transport

import (
	"errors"
	"fmt"

	"council/message"
)

// ErrUnknownPeer is returned by Send when the target peer id is not in
// the configured cluster.
var ErrUnknownPeer = errors.New("transport: unknown peer")

// ErrUnreachable is returned by Send when a peer is configured but the
// message could not be delivered (connection refused, timeout, ...).
var ErrUnreachable = errors.New("transport: peer unreachable")

// ErrTransportStart is returned by Start when the transport cannot
// begin listening (e.g. the configured address is already in use).
var ErrTransportStart = errors.New("transport: failed to start")

// Handler receives every inbound message exactly once.
type Handler func(message.Message)

// Transport is the abstract capability the consensus core depends on.
// Implementations must guarantee at-most-once delivery of any
// individual Send, but make no ordering or delivery guarantee across
// distinct sends, and must never hold role-level locks across a
// network call (that discipline lives in the caller, not here).
type Transport interface {
	// Start begins listening and delivers every received message to
	// handler. It must fail synchronously (ErrTransportStart) if it
	// cannot start.
	Start(handler Handler) error

	// Send delivers msg to exactly one peer. It returns ErrUnknownPeer
	// for an unconfigured peer id, or a wrapped ErrUnreachable error on
	// delivery failure.
	Send(peerID string, msg message.Message) error

	// Broadcast best-effort sends msg to every configured peer except
	// self. Per-peer failures are swallowed (TCPTransport logs each as
	// a WARN line; MemoryTransport drops them silently); the call as a
	// whole only fails if peers could not even be enumerated.
	Broadcast(msg message.Message) error

	// Close stops accepting new connections and tears down any
	// background workers. Idempotent.
	Close() error
}

func wrapUnreachable(peerID string, err error) error {
	return fmt.Errorf("%w: peer %s: %v", ErrUnreachable, peerID, err)
}
