package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/berryscan/relayctl/internal/logging"
	"github.com/berryscan/relayctl/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "path to relayctl TOML config")
	listenAddr := flag.String("listen", "", "rendezvous listen address override, e.g. :8080")
	adminAddr := flag.String("admin", "", "admin HTTP listen address override")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := relay.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *adminAddr != "" {
		cfg.AdminListenAddr = *adminAddr
	}

	svc := relay.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}
