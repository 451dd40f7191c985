package worker

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/berryscan/relayctl/internal/tools"
	"github.com/berryscan/relayctl/internal/wire"
)

var ErrMissingDeviceID = errors.New("worker: device id is required")

const readPollInterval = 250 * time.Millisecond

// TimeSourceKind selects where TIME_RESPONSE stamps come from.
type TimeSourceKind string

const (
	TimeSourceSystem TimeSourceKind = "system"
	TimeSourceNTP    TimeSourceKind = "ntp"
)

// ServiceConfig configures one worker node.
type ServiceConfig struct {
	DeviceID          string
	RelayAddr         string
	HeartbeatInterval time.Duration
	RegisterAckWait   time.Duration
	TimeSource        TimeSourceKind
	NTPServer         string
	Collaborators     CollaboratorConfig
}

// Worker defaults mirroring the rig's field constants.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		RelayAddr:         "127.0.0.1:8080",
		HeartbeatInterval: 30 * time.Second,
		RegisterAckWait:   5 * time.Second,
		TimeSource:        TimeSourceSystem,
		NTPServer:         "pool.ntp.org",
		Collaborators:     DefaultCollaboratorConfig(),
	}
}

// Service runs the worker lifecycle: dial, register once, serve.
type Service struct {
	cfg  ServiceConfig
	node *Node

	// Finished collaborator replies posted back into the loop.
	results chan []byte
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.RelayAddr) == "" {
		cfg.RelayAddr = DefaultServiceConfig().RelayAddr
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultServiceConfig().HeartbeatInterval
	}
	if cfg.RegisterAckWait <= 0 {
		cfg.RegisterAckWait = DefaultServiceConfig().RegisterAckWait
	}

	var clock TimeSource = SystemTime{}
	if cfg.TimeSource == TimeSourceNTP && strings.TrimSpace(cfg.NTPServer) != "" {
		clock = NTPTime{Server: strings.TrimSpace(cfg.NTPServer)}
	}
	collab := NewCollaborators(cfg.Collaborators, tools.ExecRunner{})

	return &Service{
		cfg:     cfg,
		node:    NewNode(strings.TrimSpace(cfg.DeviceID), clock, collab),
		results: make(chan []byte, 1),
	}
}

// Node exposes the request-handling state owner, mostly for tests.
func (s *Service) Node() *Node {
	return s.node
}

// Run blocks until SIGINT/SIGTERM. Registration is attempted exactly
// once; a silent coordinator leaves the worker in a degraded,
// unacknowledged mode rather than aborting.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := wire.ValidateDeviceID(s.node.DeviceID()); err != nil {
		return errors.Join(ErrMissingDeviceID, err)
	}

	raddr, err := net.ResolveUDPAddr("udp4", s.cfg.RelayAddr)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info().Str("device_id", s.node.DeviceID()).Str("relay", raddr.String()).
		Msg("worker.Service dialed relay")

	if !s.register(conn) {
		log.Warn().Str("device_id", s.node.DeviceID()).
			Msg("worker.Service running unacknowledged, no registration ack")
	}
	return s.serve(ctx, conn)
}

// register sends REGISTER and waits, bounded, for the coordinator's
// acknowledgment. Never retried; heartbeats re-assert liveness later.
func (s *Service) register(conn net.Conn) bool {
	if _, err := conn.Write(wire.Format(wire.KindRegister, s.node.DeviceID())); err != nil {
		log.Error().Err(err).Msg("worker.Service registration send failed")
		return false
	}

	buf := make([]byte, wire.MaxDatagramSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.RegisterAckWait))
	n, err := conn.Read(buf)
	if err != nil {
		return false
	}
	msg, err := wire.Parse(buf[:n])
	if err != nil {
		return false
	}
	switch msg.Kind {
	case wire.KindRegistered:
		log.Info().Str("device_id", s.node.DeviceID()).Msg("worker.Service registered")
		return true
	case wire.KindError:
		log.Error().Str("detail", msg.Payload).Msg("worker.Service registration rejected")
		return false
	}
	return false
}

// serve is the worker's single event loop: short-deadline reads, one
// finished collaborator reply drained per wakeup, heartbeats on their
// own cadence regardless of inbound traffic.
func (s *Service) serve(ctx context.Context, conn net.Conn) error {
	// Wake the blocked read promptly when the signal lands; the socket
	// itself stays open for the parting UNREGISTER.
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	lastHeartbeat := time.Now()
	buf := make([]byte, wire.MaxDatagramSize)

	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := conn.Read(buf)
		now := time.Now()

		switch {
		case err == nil:
			s.handleDatagram(conn, buf[:n], now)
		case ctx.Err() != nil:
			// Shutdown wake.
		default:
			var nerr net.Error
			if !errors.As(err, &nerr) || !nerr.Timeout() {
				// Connected UDP sockets surface ICMP refusals here when
				// the coordinator is down; keep serving.
				log.Debug().Err(err).Msg("worker.Service receive failed")
			}
		}

		select {
		case reply := <-s.results:
			s.node.JobDone()
			if _, err := conn.Write(reply); err != nil {
				log.Error().Err(err).Msg("worker.Service reply send failed")
			}
		default:
		}

		if now.Sub(lastHeartbeat) >= s.cfg.HeartbeatInterval {
			if _, err := conn.Write(wire.Format(wire.KindHeartbeat, s.node.DeviceID())); err != nil {
				log.Warn().Err(err).Msg("worker.Service heartbeat send failed")
			} else {
				log.Debug().Str("device_id", s.node.DeviceID()).Msg("worker.Service heartbeat")
			}
			lastHeartbeat = now
		}
	}

	// Best-effort parting message; no acknowledgment wait.
	_, _ = conn.Write(wire.Format(wire.KindUnregister, s.node.DeviceID()))
	log.Info().Str("device_id", s.node.DeviceID()).Msg("worker.Service shutdown")
	return nil
}

func (s *Service) handleDatagram(conn net.Conn, raw []byte, now time.Time) {
	msg, err := wire.Parse(raw)
	if err != nil {
		log.Debug().Err(err).Msg("worker.Service dropped datagram")
		return
	}
	if !msg.Kind.IsRequest() {
		// Duplicate REGISTERED acks and anything misdirected.
		log.Debug().Str("kind", string(msg.Kind)).Msg("worker.Service ignored datagram")
		return
	}

	log.Info().Str("kind", string(msg.Kind)).Msg("worker.Service request received")
	reply, job := s.node.HandleRequest(msg.Kind, now)
	if reply != nil {
		if _, err := conn.Write(reply); err != nil {
			log.Error().Err(err).Msg("worker.Service reply send failed")
		}
	}
	if job != nil {
		go func(run Job) {
			s.results <- run()
		}(job)
	}
}
