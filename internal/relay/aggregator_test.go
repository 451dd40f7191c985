package relay

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/berryscan/relayctl/internal/wire"
)

func requester(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: port}
}

func TestAggregatorCollectsUntilExpected(t *testing.T) {
	a := NewAggregator()
	t0 := time.Now()

	if a.State() != StateIdle {
		t.Fatalf("initial state=%v", a.State())
	}
	if a.Requester() != nil {
		t.Fatalf("requester before any session: %v", a.Requester())
	}

	if err := a.Begin(wire.KindTimeRequest, requester(5000), 2, t0, 2*time.Second); err != nil {
		t.Fatalf("begin err=%v", err)
	}
	if a.State() != StateCollecting {
		t.Fatalf("state after begin=%v", a.State())
	}

	tallied, done := a.ObserveReply(t0.Add(100 * time.Millisecond))
	if !tallied || done {
		t.Fatalf("first reply tallied=%v done=%v", tallied, done)
	}
	tallied, done = a.ObserveReply(t0.Add(200 * time.Millisecond))
	if !tallied || !done {
		t.Fatalf("second reply tallied=%v done=%v", tallied, done)
	}
	if a.State() != StateIdle {
		t.Fatalf("state after tally satisfied=%v", a.State())
	}
}

func TestAggregatorRejectsConcurrentBroadcast(t *testing.T) {
	a := NewAggregator()
	t0 := time.Now()

	if err := a.Begin(wire.KindTimeRequest, requester(5000), 3, t0, 2*time.Second); err != nil {
		t.Fatalf("begin err=%v", err)
	}
	err := a.Begin(wire.KindListRequest, requester(5001), 3, t0.Add(time.Second), 2*time.Second)
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}

	// The running session is untouched.
	cur := a.Current()
	if cur.Kind != wire.KindTimeRequest || cur.Requester.String() != requester(5000).String() {
		t.Fatalf("running session clobbered: %+v", cur)
	}
}

func TestAggregatorDeadlineDiscardsPartialTally(t *testing.T) {
	a := NewAggregator()
	t0 := time.Now()
	window := 2 * time.Second

	if err := a.Begin(wire.KindTimeRequest, requester(5000), 3, t0, window); err != nil {
		t.Fatalf("begin err=%v", err)
	}
	a.ObserveReply(t0.Add(time.Second))

	if a.ExpireIfDue(t0.Add(window - time.Millisecond)) {
		t.Fatalf("expired before deadline")
	}
	if !a.ExpireIfDue(t0.Add(window)) {
		t.Fatalf("did not expire at deadline")
	}
	if a.State() != StateIdle {
		t.Fatalf("state after expiry=%v", a.State())
	}

	// Late replies are not tallied and do not reopen the session.
	tallied, done := a.ObserveReply(t0.Add(window + time.Second))
	if tallied || done {
		t.Fatalf("late reply tallied=%v done=%v", tallied, done)
	}
	if a.State() != StateIdle {
		t.Fatalf("late reply reopened the session")
	}
	// But they still have a forwarding destination.
	if a.Requester() == nil || a.Requester().String() != requester(5000).String() {
		t.Fatalf("late requester=%v", a.Requester())
	}
}

func TestAggregatorIdlesAgainAfterNewSession(t *testing.T) {
	a := NewAggregator()
	t0 := time.Now()

	if err := a.Begin(wire.KindTimeRequest, requester(5000), 1, t0, time.Second); err != nil {
		t.Fatalf("begin err=%v", err)
	}
	if _, done := a.ObserveReply(t0); !done {
		t.Fatalf("single-reply session did not close")
	}

	if err := a.Begin(wire.KindListRequest, requester(5001), 1, t0.Add(2*time.Second), time.Second); err != nil {
		t.Fatalf("second begin err=%v", err)
	}
	if a.Requester().String() != requester(5001).String() {
		t.Fatalf("requester not rebound: %v", a.Requester())
	}
}
