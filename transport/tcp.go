package transport

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"council/config"
	"council/message"
)

const dialTimeout = 5 * time.Second

// TCPTransport is the concrete realization spec.md §4.3 describes: one
// encoded line per TCP connection, a synchronous "OK\n" ack, and a
// short-lived outbound connection per Send. Structurally this is the
// teacher's tcp.Server/tcp.Client (accept loop + per-connection
// goroutine + bufio line read/write) generalized to carry Message
// envelopes instead of echo text, and to fan out via Broadcast.
type TCPTransport struct {
	selfID  string
	cluster *config.Cluster
	logf    func(format string, args ...any)

	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	handler Handler
	closed  bool
}

// NewTCPTransport constructs a transport for selfID bound to the
// address configured for selfID in cluster. logf defaults to log.Printf
// when nil.
func NewTCPTransport(selfID string, cluster *config.Cluster, logf func(string, ...any)) *TCPTransport {
	if logf == nil {
		logf = log.Printf
	}
	return &TCPTransport{
		selfID:  selfID,
		cluster: cluster,
		logf:    logf,
		quit:    make(chan struct{}),
	}
}

// Start implements Transport.
func (t *TCPTransport) Start(handler Handler) error {
	self, ok := t.cluster.Peer(t.selfID)
	if !ok {
		return fmt.Errorf("%w: self id %q not present in cluster configuration", ErrTransportStart, t.selfID)
	}
	addr := net.JoinHostPort(self.Host, strconv.Itoa(self.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportStart, err)
	}
	t.mu.Lock()
	t.listener = listener
	t.handler = handler
	t.mu.Unlock()

	t.logf("[%s] listening on %d\n", t.selfID, self.Port)

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.quit:
				return
			default:
				t.logf("[%s] accept error: %v\n", t.selfID, err)
				continue
			}
		}
		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *TCPTransport) handleConn(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		// Peer connected and closed before writing a line. Tolerate it.
		return
	}
	msg, err := message.Decode(line)
	if err != nil {
		t.logf("[%s] dropping malformed message: %v\n", t.selfID, err)
		t.ackAndClose(conn)
		return
	}

	t.ackAndClose(conn)

	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

func (t *TCPTransport) ackAndClose(conn net.Conn) {
	// The ack is a pure flow-control signal; receipt of "OK" does not
	// imply processing, so write errors here are not surfaced.
	_, _ = conn.Write([]byte("OK\n"))
}

// Send implements Transport.
func (t *TCPTransport) Send(peerID string, msg message.Message) error {
	peer, ok := t.cluster.Peer(peerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	addr := net.JoinHostPort(peer.Host, strconv.Itoa(peer.Port))

	traceID := uuid.New().String()
	t.logf("[%s] send %s %s -> %s\n", t.selfID, traceID, msg.Type, peerID)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return wrapUnreachable(peerID, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", message.Encode(msg)); err != nil {
		return wrapUnreachable(peerID, err)
	}

	reader := bufio.NewReader(conn)
	if _, err := reader.ReadString('\n'); err != nil {
		return wrapUnreachable(peerID, err)
	}
	return nil
}

// Broadcast implements Transport. Per-peer failures are logged as WARN
// lines and swallowed; the call only fails if peers cannot be
// enumerated at all, which cannot happen given a loaded cluster.
func (t *TCPTransport) Broadcast(msg message.Message) error {
	for _, peerID := range t.cluster.Peers(t.selfID) {
		if err := t.Send(peerID, msg); err != nil {
			t.logf("[%s] WARN: broadcast to %s failed: %v\n", t.selfID, peerID, err)
		}
	}
	return nil
}

// Close implements Transport. Idempotent.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.quit)
	if t.listener != nil {
		t.listener.Close()
	}
	t.wg.Wait()
	t.logf("[%s] transport closed\n", t.selfID)
	return nil
}
