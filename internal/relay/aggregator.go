package relay

import (
	"errors"
	"net"
	"time"

	"github.com/berryscan/relayctl/internal/wire"
)

// ErrSessionBusy rejects a broadcast request while one is already
// collecting; the running session is never clobbered.
var ErrSessionBusy = errors.New("relay: broadcast session already collecting")

// SessionState is the aggregator phase.
type SessionState int

const (
	StateIdle SessionState = iota
	StateCollecting
)

func (s SessionState) String() string {
	if s == StateCollecting {
		return "collecting"
	}
	return "idle"
}

// Session describes one in-flight broadcast: who asked, what they asked
// for, how many replies are owed, and when collection gives up.
type Session struct {
	Kind      wire.Kind
	Requester net.Addr
	StartedAt time.Time
	Deadline  time.Time
	Expected  int
	Received  int
}

// Aggregator is the at-most-one broadcast session state machine. It is
// owned by the coordinator loop and is not safe for concurrent use.
type Aggregator struct {
	state   SessionState
	session Session

	// Requester of the most recent session, kept after close so late
	// replies still have somewhere to go.
	lastRequester net.Addr
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Begin transitions Idle -> Collecting, snapshotting the expected reply
// count and arming the deadline. A session already collecting is not
// clobbered; the caller relays ErrSessionBusy to the requester.
func (a *Aggregator) Begin(kind wire.Kind, requester net.Addr, expected int, now time.Time, window time.Duration) error {
	if a.state == StateCollecting {
		return ErrSessionBusy
	}
	a.state = StateCollecting
	a.session = Session{
		Kind:      kind,
		Requester: requester,
		StartedAt: now,
		Deadline:  now.Add(window),
		Expected:  expected,
	}
	a.lastRequester = requester
	return nil
}

// ObserveReply records one worker reply. tallied reports whether the
// reply counted toward the session; done reports whether it satisfied
// the tally and closed the session. Late replies (Idle) are never
// tallied but callers still forward them to Requester().
func (a *Aggregator) ObserveReply(now time.Time) (tallied, done bool) {
	if a.state != StateCollecting {
		return false, false
	}
	a.session.Received++
	if a.session.Received >= a.session.Expected {
		a.state = StateIdle
		return true, true
	}
	return true, false
}

// ExpireIfDue closes a collecting session whose deadline has passed,
// discarding the partial tally. Callers run this before dispatching each
// datagram and on every tick.
func (a *Aggregator) ExpireIfDue(now time.Time) bool {
	if a.state != StateCollecting || now.Before(a.session.Deadline) {
		return false
	}
	a.state = StateIdle
	return true
}

// Requester is the destination for forwarded replies: the collecting
// session's requester, or the most recent one for late replies. Nil
// until the first broadcast arrives.
func (a *Aggregator) Requester() net.Addr {
	if a.state == StateCollecting {
		return a.session.Requester
	}
	return a.lastRequester
}

// State returns the current phase.
func (a *Aggregator) State() SessionState {
	return a.state
}

// Current returns a copy of the session most recently begun. Meaningful
// counts require StateCollecting.
func (a *Aggregator) Current() Session {
	return a.session
}
