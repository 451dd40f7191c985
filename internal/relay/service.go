// Package relay implements the rendezvous coordinator: one UDP socket,
// a device registry, and the time-boxed fan-out/fan-in of broadcast
// requests between the operator console and the worker fleet.
package relay

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/berryscan/relayctl/internal/wire"
)

const (
	idleReadDeadline       = 1 * time.Second
	collectingReadDeadline = 250 * time.Millisecond
)

// ServiceConfig carries transport endpoints on top of dispatch config.
type ServiceConfig struct {
	ListenAddr      string
	AdminListenAddr string
	Server          ServerConfig
}

// Relay service defaults: rendezvous on every interface, no admin
// surface unless configured.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:      ":8080",
		AdminListenAddr: "",
		Server:          DefaultServerConfig(),
	}
}

// Service owns the rendezvous socket lifecycle around a Server.
type Service struct {
	cfg    ServiceConfig
	server *Server
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultServiceConfig().ListenAddr
	}
	return &Service{
		cfg:    cfg,
		server: NewServer(cfg.Server),
	}
}

// Server exposes the dispatch state owner, mostly for tests and the
// admin surface.
func (s *Service) Server() *Server {
	return s.server
}

// Run blocks serving the rendezvous socket until SIGINT/SIGTERM.
// Startup failures (resolve, bind) are the only fatal errors.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := net.ListenPacket("udp4", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", conn.LocalAddr().String()).
		Str("relay_id", s.cfg.Server.RelayID).Msg("relay.Service listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, addr)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, conn)
	}()

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

// Serve runs the single-threaded dispatch loop on an existing socket.
// Each iteration waits, bounded by the next scheduled tick, for one
// datagram; all handling is synchronous and run-to-completion.
func (s *Service) Serve(ctx context.Context, conn net.PacketConn) error {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, wire.MaxDatagramSize)
	for {
		deadline := idleReadDeadline
		if s.server.Collecting() {
			deadline = collectingReadDeadline
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))

		n, from, err := conn.ReadFrom(buf)
		now := time.Now()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Msg("relay.Service shutdown")
				return nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				s.server.Tick(now)
				continue
			}
			log.Error().Err(err).Msg("relay.Service receive failed")
			continue
		}

		// Only the reported byte count is ever handed to dispatch; the
		// rest of the reuse buffer is dead.
		s.server.HandleDatagram(conn, buf[:n], from, now)
		s.server.Tick(now)
	}
}
