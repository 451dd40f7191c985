package relay

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/berryscan/relayctl/internal/observability"
	"github.com/berryscan/relayctl/internal/registry"
	"github.com/berryscan/relayctl/internal/wire"
)

// PacketSender is the outbound half of the rendezvous socket.
// *net.UDPConn satisfies it; tests substitute a capture double.
type PacketSender interface {
	WriteTo(p []byte, addr net.Addr) (n int, err error)
}

// ServerConfig carries the coordinator's protocol timing and bounds.
type ServerConfig struct {
	RelayID         string
	Capacity        int
	ResponseWindow  time.Duration
	LivenessTimeout time.Duration
	SweepInterval   time.Duration
}

// Coordinator dispatch defaults mirroring the rig's field constants.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RelayID:         "relay.local",
		Capacity:        registry.DefaultCapacity,
		ResponseWindow:  2 * time.Second,
		LivenessTimeout: 90 * time.Second,
		SweepInterval:   30 * time.Second,
	}
}

// Server owns the registry and the broadcast aggregator and classifies
// every datagram the rendezvous socket receives. All protocol state is
// mutated from the coordinator's single event loop; the mutex exists
// only so the admin surface can read consistent snapshots.
type Server struct {
	cfg ServerConfig

	mu        sync.RWMutex
	registry  *registry.Registry
	agg       *Aggregator
	lastSweep time.Time
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.RelayID == "" {
		cfg.RelayID = DefaultServerConfig().RelayID
	}
	if cfg.ResponseWindow <= 0 {
		cfg.ResponseWindow = DefaultServerConfig().ResponseWindow
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = DefaultServerConfig().LivenessTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultServerConfig().SweepInterval
	}
	return &Server{
		cfg:      cfg,
		registry: registry.New(cfg.Capacity),
		agg:      NewAggregator(),
	}
}

// HandleDatagram classifies and dispatches one received datagram.
// Malformed input is logged and dropped; the loop keeps serving.
func (s *Server) HandleDatagram(sender PacketSender, raw []byte, from net.Addr, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDue(now)

	msg, err := wire.Parse(raw)
	if err != nil {
		log.Debug().Err(err).Str("from", from.String()).Msg("relay.Server dropped datagram")
		observability.RecordDrop("unparseable")
		return
	}
	observability.RecordDatagram(string(msg.Kind))

	switch {
	case msg.Kind == wire.KindRegister:
		s.handleRegister(sender, msg, from, now)
	case msg.Kind == wire.KindHeartbeat:
		s.handleHeartbeat(msg, now)
	case msg.Kind == wire.KindUnregister:
		s.handleUnregister(msg)
	case msg.Kind.IsRequest():
		s.handleBroadcastRequest(sender, msg, raw, from, now)
	case msg.Kind.IsResponse():
		s.handleWorkerReply(sender, msg, raw, now)
	default:
		// REGISTERED and ERROR never arrive at the coordinator.
		log.Debug().Str("kind", string(msg.Kind)).Str("from", from.String()).
			Msg("relay.Server dropped misdirected datagram")
		observability.RecordDrop("misdirected")
	}
}

// Tick drives the time-based transitions: session expiry and the
// periodic liveness sweep. The loop calls it on every wakeup.
func (s *Server) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDue(now)

	if s.lastSweep.IsZero() {
		s.lastSweep = now
		return
	}
	if now.Sub(s.lastSweep) < s.cfg.SweepInterval {
		return
	}
	s.lastSweep = now
	stale := s.registry.Sweep(now, s.cfg.LivenessTimeout)
	for _, id := range stale {
		log.Warn().Str("device_id", id).Msg("relay.Server marked device inactive, heartbeat silence")
	}
	observability.SetActiveDevices(s.registry.ActiveCount())
}

// Collecting reports whether a broadcast session is in flight; the loop
// shortens its wakeup deadline while one is.
func (s *Server) Collecting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agg.State() == StateCollecting
}

func (s *Server) expireIfDue(now time.Time) {
	session := s.agg.Current()
	if !s.agg.ExpireIfDue(now) {
		return
	}
	log.Warn().
		Str("kind", string(session.Kind)).
		Int("expected", session.Expected).
		Int("received", session.Received).
		Msg("relay.Server session deadline elapsed, discarding partial tally")
	observability.RecordSession("timeout", now.Sub(session.StartedAt))
}

func (s *Server) handleRegister(sender PacketSender, msg wire.Message, from net.Addr, now time.Time) {
	id, err := msg.DeviceID()
	if err == nil {
		err = wire.ValidateDeviceID(id)
	}
	if err != nil {
		log.Warn().Err(err).Str("from", from.String()).Msg("relay.Server rejected registration")
		observability.RecordRegistration("invalid_id")
		s.send(sender, wire.Format(wire.KindError, "invalid device id"), from)
		return
	}

	if err := s.registry.Register(id, from, now); err != nil {
		log.Error().Err(err).Str("device_id", id).Msg("relay.Server registration failed")
		observability.RecordRegistration("rejected_full")
		s.send(sender, wire.Format(wire.KindError, "registry full"), from)
		return
	}
	log.Info().Str("device_id", id).Str("addr", from.String()).
		Int("registered", s.registry.Len()).Msg("relay.Server registered device")
	observability.RecordRegistration("ok")
	observability.SetActiveDevices(s.registry.ActiveCount())
	s.send(sender, wire.Format(wire.KindRegistered, "OK"), from)
}

func (s *Server) handleHeartbeat(msg wire.Message, now time.Time) {
	id, err := msg.DeviceID()
	if err != nil {
		log.Debug().Err(err).Msg("relay.Server dropped malformed heartbeat")
		observability.RecordDrop("malformed_heartbeat")
		return
	}
	if err := s.registry.Heartbeat(id, now); err != nil {
		// Not an implicit re-registration; the device must REGISTER.
		log.Warn().Str("device_id", id).Msg("relay.Server heartbeat from unknown device ignored")
		observability.RecordDrop("unknown_heartbeat")
		return
	}
	log.Debug().Str("device_id", id).Msg("relay.Server heartbeat")
}

func (s *Server) handleUnregister(msg wire.Message) {
	id, err := msg.DeviceID()
	if err != nil {
		observability.RecordDrop("malformed_unregister")
		return
	}
	if err := s.registry.Deactivate(id); err != nil {
		log.Debug().Str("device_id", id).Msg("relay.Server unregister for unknown device")
		return
	}
	log.Info().Str("device_id", id).Msg("relay.Server device unregistered")
	observability.SetActiveDevices(s.registry.ActiveCount())
}

func (s *Server) handleBroadcastRequest(sender PacketSender, msg wire.Message, raw []byte, from net.Addr, now time.Time) {
	targets := s.registry.Active()
	if err := s.agg.Begin(msg.Kind, from, len(targets), now, s.cfg.ResponseWindow); err != nil {
		if errors.Is(err, ErrSessionBusy) {
			log.Warn().Str("kind", string(msg.Kind)).Str("from", from.String()).
				Msg("relay.Server rejected broadcast, session busy")
			observability.RecordSession("rejected_busy", 0)
			s.send(sender, wire.Format(wire.KindError, "busy"), from)
		}
		return
	}

	log.Info().Str("kind", string(msg.Kind)).Str("requester", from.String()).
		Int("targets", len(targets)).Msg("relay.Server fan-out")
	if len(targets) == 0 {
		log.Warn().Str("kind", string(msg.Kind)).Msg("relay.Server broadcast with no active devices")
	}
	for _, rec := range targets {
		if _, err := sender.WriteTo(raw, rec.Addr); err != nil {
			log.Error().Err(err).Str("device_id", rec.DeviceID).Msg("relay.Server fan-out send failed")
		}
	}
}

func (s *Server) handleWorkerReply(sender PacketSender, msg wire.Message, raw []byte, now time.Time) {
	requester := s.agg.Requester()
	if requester == nil {
		log.Debug().Str("kind", string(msg.Kind)).Msg("relay.Server reply with no requester on record")
		observability.RecordDrop("orphan_reply")
		return
	}

	// Forward first, in arrival order, then tally. Late replies still
	// reach the controller; they just no longer count.
	s.send(sender, raw, requester)

	id, _ := msg.DeviceID()
	session := s.agg.Current()
	tallied, done := s.agg.ObserveReply(now)
	observability.RecordForwardedReply(tallied)
	log.Info().Str("kind", string(msg.Kind)).Str("device_id", id).
		Bool("tallied", tallied).Msg("relay.Server forwarded reply")
	if done {
		log.Info().Int("received", session.Expected).Msg("relay.Server session complete, all devices replied")
		observability.RecordSession("complete", now.Sub(session.StartedAt))
	}
}

func (s *Server) send(sender PacketSender, datagram []byte, to net.Addr) {
	if _, err := sender.WriteTo(datagram, to); err != nil {
		log.Error().Err(err).Str("to", to.String()).Msg("relay.Server send failed")
	}
}

// DeviceStatus is one registry record shaped for the admin surface.
type DeviceStatus struct {
	DeviceID      string    `json:"device_id"`
	Addr          string    `json:"addr"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Active        bool      `json:"active"`
}

// StatusReport is the admin-surface view of coordinator state.
type StatusReport struct {
	RelayID       string         `json:"relay_id"`
	SessionState  string         `json:"session_state"`
	SessionKind   string         `json:"session_kind,omitempty"`
	ExpectedCount int            `json:"expected_count"`
	ReceivedCount int            `json:"received_count"`
	ActiveDevices int            `json:"active_devices"`
	Devices       []DeviceStatus `json:"devices"`
}

// Status snapshots registry and session state for /status.
func (s *Server) Status() StatusReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := StatusReport{
		RelayID:       s.cfg.RelayID,
		SessionState:  s.agg.State().String(),
		ActiveDevices: s.registry.ActiveCount(),
	}
	if s.agg.State() == StateCollecting {
		session := s.agg.Current()
		report.SessionKind = string(session.Kind)
		report.ExpectedCount = session.Expected
		report.ReceivedCount = session.Received
	}
	for _, rec := range s.registry.Snapshot() {
		report.Devices = append(report.Devices, DeviceStatus{
			DeviceID:      rec.DeviceID,
			Addr:          rec.Addr.String(),
			LastHeartbeat: rec.LastHeartbeat,
			Active:        rec.Active,
		})
	}
	return report
}
