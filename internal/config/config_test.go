package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/1ureka/rtcdc/internal/association"
	"github.com/1ureka/rtcdc/internal/compress"
)

func TestParseRole(t *testing.T) {
	testCases := []struct {
		in   string
		want Role
	}{
		{"offerer", RoleOfferer},
		{"host", RoleOfferer},
		{" Client ", RoleAnswerer},
		{"answer", RoleAnswerer},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRole(tc.in)
			if err != nil {
				t.Fatalf("ParseRole(%q) failed: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}

	if _, err := ParseRole("observer"); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("ParseRole(observer) error = %v, want %v", err, ErrUnknownRole)
	}
}

func TestRoleParity(t *testing.T) {
	if RoleOfferer.FirstStreamID() != 0 || RoleAnswerer.FirstStreamID() != 1 {
		t.Fatal("offerer must start at 0, answerer at 1")
	}
	if !RoleOfferer.Owns(42) || RoleOfferer.Owns(7) || !RoleAnswerer.Owns(7) {
		t.Error("Owns disagrees with stream id parity")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	a := cfg.AssociationConfig()

	if a.LocalPort != 5000 || a.RemotePort != 5000 {
		t.Errorf("ports = %d/%d, want 5000/5000", a.LocalPort, a.RemotePort)
	}
	if a.MTU != 1200 || a.MaxRetransmits != 10 || a.RTOInitialMS != 3000 {
		t.Errorf("mtu/retransmits/rto = %d/%d/%d", a.MTU, a.MaxRetransmits, a.RTOInitialMS)
	}
	if a.ReceiveWindow != 65536 || a.NumOutboundStreams != 65535 {
		t.Errorf("a_rwnd/streams = %d/%d", a.ReceiveWindow, a.NumOutboundStreams)
	}
	if a.RTOInitial() != 3*time.Second {
		t.Errorf("RTOInitial() = %s", a.RTOInitial())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtcdc.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
role = "client"
ws_url = "ws://127.0.0.1:8080/ws?pin=1234"
compression = "zstd"
heartbeat_interval = "5s"

[association]
mtu = 1400
rto_initial_ms = 1000
cookie_lifetime = "30s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Role != RoleAnswerer || cfg.Compression != compress.Zstd || cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("top-level fields: %+v", cfg)
	}
	if cfg.Association.MTU != 1400 || cfg.Association.RTOInitialMS != 1000 || cfg.Association.CookieLifetime != 30*time.Second {
		t.Errorf("association fields: %+v", cfg.Association)
	}

	// Keys absent from the file keep their defaults.
	if cfg.Label != "chat" || cfg.Association.MaxRetransmits != association.DefaultMaxRetransmits {
		t.Errorf("defaults lost: label %q, max retransmits %d", cfg.Label, cfg.Association.MaxRetransmits)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadRejects(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		want    error
	}{
		{"unknown role", `role = "observer"`, ErrUnknownRole},
		{"unknown key", `colour = "blue"`, ErrInvalid},
		{"unknown compression", `compression = "brotli"`, compress.ErrUnknownAlgorithm},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.content))
			if !errors.Is(err, tc.want) {
				t.Fatalf("Load error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Role = RoleAnswerer
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("answerer without url: %v", err)
	}

	cfg = Default()
	cfg.Association.MTU = 10
	if err := cfg.Validate(); !errors.Is(err, association.ErrInvalidConfig) {
		t.Errorf("tiny mtu: %v", err)
	}
}
