package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/berryscan/relayctl/internal/logging"
	"github.com/berryscan/relayctl/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to workerctl TOML config")
	deviceID := flag.String("id", "", "device id override")
	relayAddr := flag.String("relay", "", "relay address override, e.g. 127.0.0.1:8080")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := worker.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "workerctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *deviceID != "" {
		cfg.DeviceID = *deviceID
	}
	if *relayAddr != "" {
		cfg.RelayAddr = *relayAddr
	}

	svc := worker.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "workerctl: %v\n", err)
		os.Exit(1)
	}
}
