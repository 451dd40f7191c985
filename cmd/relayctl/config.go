package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/berryscan/relayctl/internal/relay"
)

type fileConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	AdminListenAddr string `toml:"admin_listen_addr"`
	RelayID         string `toml:"relay_id"`
	Capacity        int    `toml:"capacity"`
	ResponseWindow  string `toml:"response_window"`
	LivenessTimeout string `toml:"liveness_timeout"`
	SweepInterval   string `toml:"sweep_interval"`
}

func loadServiceConfig(path string) (relay.ServiceConfig, error) {
	cfg := relay.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return relay.ServiceConfig{}, fmt.Errorf("load relay config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		addr := strings.TrimSpace(raw.ListenAddr)
		if addr != "" {
			cfg.ListenAddr = addr
		}
	}

	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}

	if meta.IsDefined("relay_id") {
		id := strings.TrimSpace(raw.RelayID)
		if id != "" {
			cfg.Server.RelayID = id
		}
	}

	if meta.IsDefined("capacity") {
		if raw.Capacity <= 0 {
			return relay.ServiceConfig{}, fmt.Errorf("parse capacity: must be positive, got %d", raw.Capacity)
		}
		cfg.Server.Capacity = raw.Capacity
	}

	if meta.IsDefined("response_window") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ResponseWindow))
		if err != nil {
			return relay.ServiceConfig{}, fmt.Errorf("parse response_window: %w", err)
		}
		cfg.Server.ResponseWindow = d
	}

	if meta.IsDefined("liveness_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.LivenessTimeout))
		if err != nil {
			return relay.ServiceConfig{}, fmt.Errorf("parse liveness_timeout: %w", err)
		}
		cfg.Server.LivenessTimeout = d
	}

	if meta.IsDefined("sweep_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SweepInterval))
		if err != nil {
			return relay.ServiceConfig{}, fmt.Errorf("parse sweep_interval: %w", err)
		}
		cfg.Server.SweepInterval = d
	}

	return cfg, nil
}
