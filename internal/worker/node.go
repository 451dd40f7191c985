// Package worker implements the autonomous node role: it registers with
// the relay coordinator, answers broadcast requests, and heartbeats on
// a fixed cadence. Collaborator-backed requests run off the receive
// loop so a slow capture or upload never starves the heartbeat.
package worker

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/berryscan/relayctl/internal/wire"
)

// Job is one deferred collaborator invocation. The service runs it on a
// background goroutine and posts the finished reply back into the loop.
type Job func() []byte

// Node holds the request-handling state of one worker. It is owned by
// the service loop goroutine; the busy flag is only read and written
// there.
type Node struct {
	deviceID string
	clock    TimeSource
	collab   *Collaborators

	// One collaborator in flight at a time; overlapping requests are
	// answered with an ERROR detail instead of queueing.
	busy bool
}

func NewNode(deviceID string, clock TimeSource, collab *Collaborators) *Node {
	if clock == nil {
		clock = SystemTime{}
	}
	return &Node{deviceID: deviceID, clock: clock, collab: collab}
}

func (n *Node) DeviceID() string {
	return n.deviceID
}

// HandleRequest maps an inbound broadcast request to either an
// immediate reply or a deferred Job, never both. Non-request kinds
// yield neither and are dropped by the caller.
func (n *Node) HandleRequest(kind wire.Kind, now time.Time) (reply []byte, job Job) {
	switch kind {
	case wire.KindTimeRequest:
		return n.timeReply(), nil
	case wire.KindListRequest:
		return n.deferCollaborator(kind, func() string { return n.collab.List() })
	case wire.KindCameraRequest:
		return n.deferCollaborator(kind, func() string { return n.collab.Capture(now) })
	case wire.KindUploadRequest:
		return n.deferCollaborator(kind, func() string { return n.collab.Upload(now) })
	}
	return nil, nil
}

// JobDone clears the in-flight marker once the service has drained a
// finished job's reply.
func (n *Node) JobDone() {
	n.busy = false
}

func (n *Node) timeReply() []byte {
	stamp, err := n.clock.Now()
	if err != nil {
		log.Warn().Err(err).Msg("worker.Node time source failed, falling back to system clock")
		stamp, _ = SystemTime{}.Now()
	}
	return wire.Format(wire.KindTimeResponse, n.deviceID, stamp)
}

func (n *Node) deferCollaborator(kind wire.Kind, run func() string) ([]byte, Job) {
	respKind := kind.ResponseKind()
	if n.busy {
		log.Warn().Str("kind", string(kind)).Msg("worker.Node collaborator already running, rejecting")
		return wire.Format(respKind, n.deviceID, "ERROR:collaborator busy"), nil
	}
	n.busy = true
	return nil, func() []byte {
		detail := run()
		return wire.Format(respKind, n.deviceID, detail)
	}
}
