package worker

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/berryscan/relayctl/internal/testutil/testlog"
	"github.com/berryscan/relayctl/internal/wire"
)

// fakeRelay is a loopback coordinator double: one UDP socket plus
// helpers to wait for specific message kinds from the worker.
type fakeRelay struct {
	t    *testing.T
	conn net.PacketConn
	peer net.Addr
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &fakeRelay{t: t, conn: conn}
}

func (r *fakeRelay) addr() string {
	return r.conn.LocalAddr().String()
}

func (r *fakeRelay) send(datagram string) {
	r.t.Helper()
	if _, err := r.conn.WriteTo([]byte(datagram), r.peer); err != nil {
		r.t.Fatalf("relay send: %v", err)
	}
}

// waitFor reads datagrams until one of the wanted kind arrives,
// skipping heartbeats and anything else interleaved.
func (r *fakeRelay) waitFor(kind wire.Kind, timeout time.Duration) wire.Message {
	r.t.Helper()
	deadline := time.Now().Add(timeout)
	buf := make([]byte, wire.MaxDatagramSize)
	for time.Now().Before(deadline) {
		_ = r.conn.SetReadDeadline(deadline)
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			break
		}
		r.peer = from
		msg, err := wire.Parse(buf[:n])
		if err != nil {
			continue
		}
		if msg.Kind == kind {
			return msg
		}
	}
	r.t.Fatalf("no %s within %v", kind, timeout)
	return wire.Message{}
}

func startWorker(t *testing.T, relayAddr string) (*Service, *net.UDPConn) {
	t.Helper()
	testlog.Start(t)

	cfg := DefaultServiceConfig()
	cfg.DeviceID = "cam-09"
	cfg.RelayAddr = relayAddr
	cfg.RegisterAckWait = 2 * time.Second
	cfg.HeartbeatInterval = 200 * time.Millisecond
	svc := NewServiceWithConfig(cfg)
	svc.node.collab = NewCollaborators(
		CollaboratorConfig{ListDir: t.TempDir()},
		&fakeRunner{out: []byte("total 0\n")},
	)

	raddr, err := net.ResolveUDPAddr("udp4", relayAddr)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return svc, conn
}

func TestRegisterAckedByRelay(t *testing.T) {
	relay := newFakeRelay(t)
	svc, conn := startWorker(t, relay.addr())

	registered := make(chan bool, 1)
	go func() { registered <- svc.register(conn) }()

	msg := relay.waitFor(wire.KindRegister, 3*time.Second)
	if id, err := msg.DeviceID(); err != nil || id != "cam-09" {
		t.Fatalf("register id=%q err=%v", id, err)
	}
	relay.send("REGISTERED:OK\n")

	if !<-registered {
		t.Fatalf("registration not acknowledged")
	}
}

func TestRegisterDegradesOnSilenceAndRejection(t *testing.T) {
	relay := newFakeRelay(t)
	svc, conn := startWorker(t, relay.addr())
	svc.cfg.RegisterAckWait = 300 * time.Millisecond

	// Silent coordinator: single attempt, no retry, degraded mode.
	if svc.register(conn) {
		t.Fatalf("registered with no ack")
	}

	registered := make(chan bool, 1)
	go func() { registered <- svc.register(conn) }()
	relay.waitFor(wire.KindRegister, 2*time.Second)
	relay.send("ERROR:registry full\n")
	if <-registered {
		t.Fatalf("registered despite rejection")
	}
}

func TestServeAnswersRequestsAndHeartbeats(t *testing.T) {
	relay := newFakeRelay(t)
	svc, conn := startWorker(t, relay.addr())

	registered := make(chan bool, 1)
	go func() { registered <- svc.register(conn) }()
	relay.waitFor(wire.KindRegister, 3*time.Second)
	relay.send("REGISTERED:OK\n")
	<-registered

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- svc.serve(ctx, conn) }()

	relay.send("TIME_REQUEST\n")
	msg := relay.waitFor(wire.KindTimeResponse, 3*time.Second)
	if id, err := msg.DeviceID(); err != nil || id != "cam-09" {
		t.Fatalf("time reply id=%q err=%v", id, err)
	}

	// Collaborator-backed request completes off-loop and still replies.
	relay.send("LS_REQUEST\n")
	msg = relay.waitFor(wire.KindListResponse, 3*time.Second)
	if !strings.Contains(msg.Detail(), "total 0") {
		t.Fatalf("listing detail=%q", msg.Detail())
	}

	// Heartbeats flow on their own cadence.
	relay.waitFor(wire.KindHeartbeat, 3*time.Second)

	// Termination sends a best-effort UNREGISTER.
	cancel()
	relay.waitFor(wire.KindUnregister, 3*time.Second)
	if err := <-served; err != nil {
		t.Fatalf("serve err=%v", err)
	}
}
