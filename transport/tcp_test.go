package transport

import (
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/nettest"

	"council/config"
	"council/message"
	"council/pn"
)

// freeTCPPort asks the OS for an unused port via golang.org/x/net/nettest
// rather than hardcoding one, so transport tests don't collide with
// each other or with anything else on the machine.
func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("failed to allocate ephemeral listener: %v", err)
	}
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		t.Fatalf("failed to split listener address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("failed to parse port: %v", err)
	}
	return port
}

func buildCluster(t *testing.T, ids []string) *config.Cluster {
	t.Helper()
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte(',')
		b.WriteString("127.0.0.1")
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(freeTCPPort(t)))
		b.WriteByte('\n')
	}
	dir := t.TempDir()
	path := dir + "/cluster.conf"
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("failed to write cluster config: %v", err)
	}
	c, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("failed to load cluster config: %v", err)
	}
	return c
}

func TestTCPTransportSendReceivesMessage(t *testing.T) {
	cluster := buildCluster(t, []string{"M1", "M2"})

	received := make(chan message.Message, 1)
	t2 := NewTCPTransport("M2", cluster, t.Logf)
	if err := t2.Start(func(m message.Message) { received <- m }); err != nil {
		t.Fatalf("M2 failed to start: %v", err)
	}
	defer t2.Close()

	t1 := NewTCPTransport("M1", cluster, t.Logf)
	if err := t1.Start(func(message.Message) {}); err != nil {
		t.Fatalf("M1 failed to start: %v", err)
	}
	defer t1.Close()

	msg := message.Message{Type: message.Prepare, SenderID: "M1", Proposal: pn.PN{Counter: 1, ProposerID: "M1"}, HasProposal: true}
	if err := t1.Send("M2", msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if got.SenderID != "M1" || got.Type != message.Prepare {
			t.Fatalf("unexpected message: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestTCPTransportSendUnknownPeer(t *testing.T) {
	cluster := buildCluster(t, []string{"M1"})
	t1 := NewTCPTransport("M1", cluster, t.Logf)
	if err := t1.Start(func(message.Message) {}); err != nil {
		t.Fatalf("M1 failed to start: %v", err)
	}
	defer t1.Close()

	err := t1.Send("GHOST", message.Message{Type: message.Prepare, SenderID: "M1"})
	if err == nil {
		t.Fatal("expected ErrUnknownPeer")
	}
}

func TestTCPTransportBroadcastExcludesSelf(t *testing.T) {
	cluster := buildCluster(t, []string{"M1", "M2", "M3"})

	var mu sync.Mutex
	receivedFrom := map[string]bool{}
	var wg sync.WaitGroup
	wg.Add(2)

	start := func(id string) *TCPTransport {
		tr := NewTCPTransport(id, cluster, t.Logf)
		if err := tr.Start(func(m message.Message) {
			mu.Lock()
			if !receivedFrom[id] {
				receivedFrom[id] = true
				wg.Done()
			}
			mu.Unlock()
		}); err != nil {
			t.Fatalf("%s failed to start: %v", id, err)
		}
		return tr
	}

	t2 := start("M2")
	defer t2.Close()
	t3 := start("M3")
	defer t3.Close()

	selfReceived := false
	t1 := NewTCPTransport("M1", cluster, t.Logf)
	if err := t1.Start(func(message.Message) {
		mu.Lock()
		selfReceived = true
		mu.Unlock()
	}); err != nil {
		t.Fatalf("M1 failed to start: %v", err)
	}
	defer t1.Close()

	if err := t1.Broadcast(message.Message{Type: message.Prepare, SenderID: "M1"}); err != nil {
		t.Fatalf("Broadcast returned error: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if selfReceived {
		t.Fatal("expected broadcast not to be delivered to the sender itself")
	}
}

func TestTCPTransportClosesCleanlyOnEarlyDisconnect(t *testing.T) {
	cluster := buildCluster(t, []string{"M1"})
	t1 := NewTCPTransport("M1", cluster, t.Logf)
	if err := t1.Start(func(message.Message) {}); err != nil {
		t.Fatalf("M1 failed to start: %v", err)
	}
	defer t1.Close()

	self, _ := cluster.Peer("M1")
	conn, err := net.Dial("tcp", self.String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	conn.Close() // disconnect before writing a line

	time.Sleep(50 * time.Millisecond) // give the server goroutine a moment
}
