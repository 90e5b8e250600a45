// Package config holds the role, association settings, and CLI
// configuration, with defaults that a TOML file can override.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/1ureka/rtcdc/internal/association"
	"github.com/1ureka/rtcdc/internal/compress"
)

var (
	ErrUnknownRole = errors.New("config: unknown role")
	ErrInvalid     = errors.New("config: invalid value")
)

// Role decides which side of the session a peer plays. The offerer owns
// even stream ids, the answerer odd ones.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// ParseRole accepts the role names plus the host/client aliases used by
// the CLI.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offerer", "offer", "host":
		return RoleOfferer, nil
	case "answerer", "answer", "client":
		return RoleAnswerer, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownRole)
	}
}

// FirstStreamID is the lowest stream id this role allocates.
func (r Role) FirstStreamID() uint16 {
	if r == RoleAnswerer {
		return 1
	}
	return 0
}

// Owns reports whether id falls in this role's parity class.
func (r Role) Owns(id uint16) bool {
	return id%2 == r.FirstStreamID()
}

func (r Role) Valid() bool {
	return r == RoleOfferer || r == RoleAnswerer
}

// Config stores everything a session needs, gathered from defaults, an
// optional TOML file, flags, and interactive prompts.
type Config struct {
	Role              Role
	Listen            string // offerer: signaling listen address
	WSURL             string // answerer: signaling URL to dial
	Label             string // channel opened by the offerer
	Compression       compress.Algorithm
	HeartbeatInterval time.Duration
	StatsInterval     time.Duration
	Debug             bool

	Association association.Config
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Role:              RoleOfferer,
		Listen:            ":8080",
		Label:             "chat",
		Compression:       compress.None,
		HeartbeatInterval: 30 * time.Second,
		StatsInterval:     10 * time.Second,
		Association:       association.DefaultConfig(),
	}
}

// AssociationConfig returns the association settings.
func (c Config) AssociationConfig() association.Config {
	return c.Association
}

// Validate checks the configuration as a whole.
func (c Config) Validate() error {
	if !c.Role.Valid() {
		return fmt.Errorf("role %q: %w", c.Role, ErrUnknownRole)
	}
	if c.Role == RoleAnswerer && c.WSURL == "" {
		return fmt.Errorf("answerer needs a signaling url: %w", ErrInvalid)
	}
	if c.Role == RoleOfferer && c.Listen == "" {
		return fmt.Errorf("offerer needs a listen address: %w", ErrInvalid)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("heartbeat interval %s: %w", c.HeartbeatInterval, ErrInvalid)
	}
	if err := c.Association.Validate(); err != nil {
		return err
	}
	return nil
}
