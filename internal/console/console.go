// Package console implements the operator-facing controller: it issues
// broadcast requests to the relay coordinator and streams each
// forwarded worker reply as it arrives. There is no end-of-session
// signal on the wire; the operator infers completion from the reply
// count or a pause in output.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/berryscan/relayctl/internal/wire"
)

const (
	receivePollInterval = 100 * time.Millisecond
	stampLayout         = "2006-01-02 15:04:05"
)

// commands maps operator input to broadcast request kinds.
var commands = map[string]wire.Kind{
	"time":    wire.KindTimeRequest,
	"ls":      wire.KindListRequest,
	"capture": wire.KindCameraRequest,
	"upload":  wire.KindUploadRequest,
}

// Console is the interactive controller session.
type Console struct {
	relayAddr string
	in        io.Reader
	out       io.Writer
}

func New(relayAddr string, in io.Reader, out io.Writer) *Console {
	return &Console{relayAddr: relayAddr, in: in, out: out}
}

// Run dials the coordinator and serves the operator until "quit", EOF,
// or ctx cancellation. Replies print asynchronously as they stream in.
func (c *Console) Run(ctx context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp4", c.relayAddr)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.receiveLoop(ctx, conn)

	fmt.Fprintf(c.out, "Connected to relay at %s\n", raddr)
	fmt.Fprintf(c.out, "Commands: time, ls, capture, upload, status, quit\n")

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "quit":
			fmt.Fprintln(c.out, "Exiting.")
			return nil
		case line == "status":
			fmt.Fprintf(c.out, "[%s] relay=%s\n", time.Now().Format(stampLayout), raddr)
		default:
			kind, ok := commands[line]
			if !ok {
				fmt.Fprintf(c.out, "Unknown command: %s\n", line)
				continue
			}
			if _, err := conn.Write(wire.Format(kind)); err != nil {
				fmt.Fprintf(c.out, "Send failed: %v\n", err)
				continue
			}
			fmt.Fprintf(c.out, "[%s] %s sent, waiting for replies...\n",
				time.Now().Format(stampLayout), kind)
		}
	}
	return scanner.Err()
}

// receiveLoop prints every forwarded reply, tagged with local receive
// time and device id, straight onto the operator's terminal.
func (c *Console) receiveLoop(ctx context.Context, conn net.Conn) {
	buf := make([]byte, wire.MaxDatagramSize)
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(receivePollInterval))
		n, err := conn.Read(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Debug().Err(err).Msg("console receive failed")
			continue
		}
		msg, err := wire.Parse(buf[:n])
		if err != nil {
			log.Debug().Err(err).Msg("console dropped datagram")
			continue
		}
		fmt.Fprint(c.out, RenderReply(msg, time.Now()))
	}
}

// RenderReply formats one forwarded reply for the terminal.
func RenderReply(msg wire.Message, receivedAt time.Time) string {
	stamp := receivedAt.Format(stampLayout)
	id, err := msg.DeviceID()
	if err != nil {
		id = "?"
	}

	switch msg.Kind {
	case wire.KindTimeResponse:
		return fmt.Sprintf("[%s] [%s] Time: %s\n", stamp, id, msg.Detail())
	case wire.KindListResponse:
		return fmt.Sprintf("[%s] [%s] Listing:%s\n", stamp, id, msg.Detail())
	case wire.KindCameraResponse:
		return fmt.Sprintf("[%s] [%s] Capture: %s\n", stamp, id, msg.Detail())
	case wire.KindUploadResponse:
		return fmt.Sprintf("[%s] [%s] Upload: %s\n", stamp, id, msg.Detail())
	case wire.KindError:
		return fmt.Sprintf("[%s] Relay error: %s\n", stamp, msg.Payload)
	}
	return fmt.Sprintf("[%s] %s:%s\n", stamp, msg.Kind, msg.Payload)
}
