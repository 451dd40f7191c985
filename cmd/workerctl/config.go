package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/berryscan/relayctl/internal/worker"
)

type fileConfig struct {
	DeviceID          string `toml:"device_id"`
	RelayAddr         string `toml:"relay_addr"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	RegisterAckWait   string `toml:"register_ack_wait"`
	TimeSource        string `toml:"time_source"`
	NTPServer         string `toml:"ntp_server"`
	ListDir           string `toml:"list_dir"`
	CaptureWidth      int    `toml:"capture_width"`
	CaptureHeight     int    `toml:"capture_height"`
	UploadBucket      string `toml:"upload_bucket"`
}

func loadServiceConfig(path string) (worker.ServiceConfig, error) {
	cfg := worker.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return worker.ServiceConfig{}, fmt.Errorf("load worker config: %w", err)
	}

	if meta.IsDefined("device_id") {
		cfg.DeviceID = strings.TrimSpace(raw.DeviceID)
	}

	if meta.IsDefined("relay_addr") {
		addr := strings.TrimSpace(raw.RelayAddr)
		if addr != "" {
			cfg.RelayAddr = addr
		}
	}

	if meta.IsDefined("heartbeat_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatInterval))
		if err != nil {
			return worker.ServiceConfig{}, fmt.Errorf("parse heartbeat_interval: %w", err)
		}
		cfg.HeartbeatInterval = d
	}

	if meta.IsDefined("register_ack_wait") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RegisterAckWait))
		if err != nil {
			return worker.ServiceConfig{}, fmt.Errorf("parse register_ack_wait: %w", err)
		}
		cfg.RegisterAckWait = d
	}

	if meta.IsDefined("time_source") {
		src := worker.TimeSourceKind(strings.ToLower(strings.TrimSpace(raw.TimeSource)))
		switch src {
		case worker.TimeSourceSystem, worker.TimeSourceNTP:
			cfg.TimeSource = src
		default:
			return worker.ServiceConfig{}, fmt.Errorf("parse time_source: unknown kind %q", raw.TimeSource)
		}
	}

	if meta.IsDefined("ntp_server") {
		server := strings.TrimSpace(raw.NTPServer)
		if server != "" {
			cfg.NTPServer = server
		}
	}

	if meta.IsDefined("list_dir") {
		dir := strings.TrimSpace(raw.ListDir)
		if dir != "" {
			cfg.Collaborators.ListDir = dir
		}
	}

	if meta.IsDefined("capture_width") {
		if raw.CaptureWidth <= 0 {
			return worker.ServiceConfig{}, fmt.Errorf("parse capture_width: must be positive, got %d", raw.CaptureWidth)
		}
		cfg.Collaborators.CaptureWidth = raw.CaptureWidth
	}

	if meta.IsDefined("capture_height") {
		if raw.CaptureHeight <= 0 {
			return worker.ServiceConfig{}, fmt.Errorf("parse capture_height: must be positive, got %d", raw.CaptureHeight)
		}
		cfg.Collaborators.CaptureHeight = raw.CaptureHeight
	}

	if meta.IsDefined("upload_bucket") {
		bucket := strings.TrimSpace(raw.UploadBucket)
		if bucket != "" {
			cfg.Collaborators.UploadBucket = bucket
		}
	}

	return cfg, nil
}
