package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/1ureka/rtcdc/internal/compress"
)

type fileConfig struct {
	Role              string          `toml:"role"`
	Listen            string          `toml:"listen"`
	WSURL             string          `toml:"ws_url"`
	Label             string          `toml:"label"`
	Compression       string          `toml:"compression"`
	HeartbeatInterval string          `toml:"heartbeat_interval"`
	StatsInterval     string          `toml:"stats_interval"`
	Debug             bool            `toml:"debug"`
	Association       fileAssociation `toml:"association"`
}

type fileAssociation struct {
	LocalPort          uint16 `toml:"local_port"`
	RemotePort         uint16 `toml:"remote_port"`
	MTU                int    `toml:"mtu"`
	MaxRetransmits     int    `toml:"max_retransmits"`
	RTOInitialMS       int    `toml:"rto_initial_ms"`
	ReceiveWindow      uint32 `toml:"a_rwnd"`
	NumOutboundStreams uint16 `toml:"num_outbound_streams"`
	MaxMessageSize     int    `toml:"max_message_size"`
	CookieLifetime     string `toml:"cookie_lifetime"`
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown key %q: %w", undecoded[0].String(), ErrInvalid)
	}

	if meta.IsDefined("role") {
		if cfg.Role, err = ParseRole(raw.Role); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("ws_url") {
		cfg.WSURL = strings.TrimSpace(raw.WSURL)
	}
	if meta.IsDefined("label") {
		cfg.Label = raw.Label
	}
	if meta.IsDefined("compression") {
		if cfg.Compression, err = compress.ParseAlgorithm(strings.TrimSpace(raw.Compression)); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("heartbeat_interval") {
		if cfg.HeartbeatInterval, err = parseDuration("heartbeat_interval", raw.HeartbeatInterval); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("stats_interval") {
		if cfg.StatsInterval, err = parseDuration("stats_interval", raw.StatsInterval); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}

	a := &cfg.Association
	ra := raw.Association
	if meta.IsDefined("association", "local_port") {
		a.LocalPort = ra.LocalPort
	}
	if meta.IsDefined("association", "remote_port") {
		a.RemotePort = ra.RemotePort
	}
	if meta.IsDefined("association", "mtu") {
		a.MTU = ra.MTU
	}
	if meta.IsDefined("association", "max_retransmits") {
		a.MaxRetransmits = ra.MaxRetransmits
	}
	if meta.IsDefined("association", "rto_initial_ms") {
		a.RTOInitialMS = ra.RTOInitialMS
	}
	if meta.IsDefined("association", "a_rwnd") {
		a.ReceiveWindow = ra.ReceiveWindow
	}
	if meta.IsDefined("association", "num_outbound_streams") {
		a.NumOutboundStreams = ra.NumOutboundStreams
	}
	if meta.IsDefined("association", "max_message_size") {
		a.MaxMessageSize = ra.MaxMessageSize
	}
	if meta.IsDefined("association", "cookie_lifetime") {
		if a.CookieLifetime, err = parseDuration("association.cookie_lifetime", ra.CookieLifetime); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
