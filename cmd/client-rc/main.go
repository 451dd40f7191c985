package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/berryscan/relayctl/internal/console"
	"github.com/berryscan/relayctl/internal/logging"
)

func main() {
	relayAddr := flag.String("relay", "127.0.0.1:8080", "relay rendezvous address")
	flag.Parse()

	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := console.New(*relayAddr, os.Stdin, os.Stdout)
	if err := c.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "client-rc: %v\n", err)
		os.Exit(1)
	}
}
