package worker

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/berryscan/relayctl/internal/testutil/testlog"
	"github.com/berryscan/relayctl/internal/wire"
)

type fakeRunner struct {
	out   []byte
	code  int32
	err   error
	calls [][]string
	dirs  []string
}

func (f *fakeRunner) Run(dir, name string, args ...string) ([]byte, int32, error) {
	f.dirs = append(f.dirs, dir)
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.out, f.code, f.err
}

type stubClock struct {
	stamp string
	err   error
}

func (c stubClock) Now() (string, error) {
	return c.stamp, c.err
}

func newTestNode(t *testing.T, clock TimeSource, runner *fakeRunner) *Node {
	t.Helper()
	testlog.Start(t)
	cfg := DefaultCollaboratorConfig()
	cfg.ListDir = "/data/frames"
	return NewNode("cam-01", clock, NewCollaborators(cfg, runner))
}

func TestTimeRequestAnsweredInline(t *testing.T) {
	n := newTestNode(t, stubClock{stamp: "2026-08-30 10:15:00"}, &fakeRunner{})

	reply, job := n.HandleRequest(wire.KindTimeRequest, time.Now())
	if job != nil {
		t.Fatalf("time request deferred a job")
	}
	if string(reply) != "TIME_RESPONSE:cam-01:2026-08-30 10:15:00\n" {
		t.Fatalf("reply=%q", reply)
	}
}

func TestTimeSourceFailureFallsBackToSystemClock(t *testing.T) {
	n := newTestNode(t, stubClock{err: errors.New("ntp unreachable")}, &fakeRunner{})

	reply, _ := n.HandleRequest(wire.KindTimeRequest, time.Now())
	msg, err := wire.Parse(reply)
	if err != nil || msg.Kind != wire.KindTimeResponse {
		t.Fatalf("fallback reply=%q err=%v", reply, err)
	}
	if _, err := time.Parse(TimeStampLayout, msg.Detail()); err != nil {
		t.Fatalf("fallback stamp %q: %v", msg.Detail(), err)
	}
}

func TestListRequestDefersCollaborator(t *testing.T) {
	runner := &fakeRunner{out: []byte("total 12\n-rw-r--r-- 1 pi pi 42 frame.png\n")}
	n := newTestNode(t, stubClock{stamp: "x"}, runner)

	reply, job := n.HandleRequest(wire.KindListRequest, time.Now())
	if reply != nil || job == nil {
		t.Fatalf("list request reply=%q job=%v", reply, job != nil)
	}

	out := job()
	if !strings.HasPrefix(string(out), "LS_RESPONSE:cam-01:") {
		t.Fatalf("job output=%q", out)
	}
	if !strings.Contains(string(out), "frame.png") {
		t.Fatalf("listing lost: %q", out)
	}
	if runner.dirs[0] != "/data/frames" {
		t.Fatalf("listing ran in %q", runner.dirs[0])
	}
}

func TestOverlappingCollaboratorRequestsRejected(t *testing.T) {
	n := newTestNode(t, stubClock{stamp: "x"}, &fakeRunner{})

	if reply, job := n.HandleRequest(wire.KindListRequest, time.Now()); reply != nil || job == nil {
		t.Fatalf("first request not deferred")
	}

	// Any collaborator kind is rejected while one is in flight.
	reply, job := n.HandleRequest(wire.KindCameraRequest, time.Now())
	if job != nil {
		t.Fatalf("overlapping request deferred a second job")
	}
	if string(reply) != "CAMERA_RESPONSE:cam-01:ERROR:collaborator busy\n" {
		t.Fatalf("busy reply=%q", reply)
	}

	// Time requests still answer inline while a collaborator runs.
	if reply, _ := n.HandleRequest(wire.KindTimeRequest, time.Now()); reply == nil {
		t.Fatalf("time request starved by collaborator")
	}

	n.JobDone()
	if reply, job := n.HandleRequest(wire.KindCameraRequest, time.Now()); reply != nil || job == nil {
		t.Fatalf("node still busy after JobDone")
	}
}

// Oversized collaborator output must still produce one well-formed,
// terminated datagram that parses back to the right device.
func TestOversizedListingTruncatedToWireLimit(t *testing.T) {
	runner := &fakeRunner{out: []byte(strings.Repeat("-rw-r--r-- 1 pi pi 4096 frame.png\n", 200))}
	n := newTestNode(t, stubClock{stamp: "x"}, runner)

	_, job := n.HandleRequest(wire.KindListRequest, time.Now())
	out := job()
	if len(out) != wire.MaxDatagramSize {
		t.Fatalf("len=%d want %d", len(out), wire.MaxDatagramSize)
	}
	if out[len(out)-1] != '\n' {
		t.Fatalf("terminator lost")
	}
	msg, err := wire.Parse(out)
	if err != nil || msg.Kind != wire.KindListResponse {
		t.Fatalf("truncated reply unparseable: %v", err)
	}
	if id, err := msg.DeviceID(); err != nil || id != "cam-01" {
		t.Fatalf("device id lost: %q err=%v", id, err)
	}
}

func TestNonRequestKindsYieldNothing(t *testing.T) {
	n := newTestNode(t, stubClock{stamp: "x"}, &fakeRunner{})
	for _, kind := range []wire.Kind{wire.KindRegistered, wire.KindHeartbeat, wire.KindError, wire.KindTimeResponse} {
		if reply, job := n.HandleRequest(kind, time.Now()); reply != nil || job != nil {
			t.Fatalf("kind %q produced output", kind)
		}
	}
}
