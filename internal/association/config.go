package association

import (
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/1ureka/rtcdc/internal/chunk"
)

// Defaults used absent an explicit override. They match what peers assume
// from the RFC defaults.
const (
	DefaultPort               = 5000
	DefaultMTU                = 1200
	DefaultMaxRetransmits     = 10
	DefaultRTOInitialMS       = 3000
	DefaultReceiveWindow      = 65536
	DefaultNumOutboundStreams = 65535
	DefaultMaxMessageSize     = 262144
	DefaultCookieLifetime     = 60 * time.Second
)

// minMTU leaves room for the common header, one DATA chunk header, and at
// least a few bytes of user data.
const minMTU = chunk.CommonHeaderSize + chunk.HeaderSize + chunk.DataHeaderSize + 4

// Config is the immutable configuration of one association.
type Config struct {
	LocalPort          uint16
	RemotePort         uint16
	MTU                int
	MaxRetransmits     int
	RTOInitialMS       int
	ReceiveWindow      uint32
	NumOutboundStreams uint16
	MaxMessageSize     int
	CookieLifetime     time.Duration

	// LoggerFactory creates the association's logger. Nil selects pion's
	// default factory.
	LoggerFactory logging.LoggerFactory
}

// DefaultConfig returns the default association configuration.
func DefaultConfig() Config {
	return Config{
		LocalPort:          DefaultPort,
		RemotePort:         DefaultPort,
		MTU:                DefaultMTU,
		MaxRetransmits:     DefaultMaxRetransmits,
		RTOInitialMS:       DefaultRTOInitialMS,
		ReceiveWindow:      DefaultReceiveWindow,
		NumOutboundStreams: DefaultNumOutboundStreams,
		MaxMessageSize:     DefaultMaxMessageSize,
		CookieLifetime:     DefaultCookieLifetime,
	}
}

// RTOInitial returns the initial retransmission timeout.
func (c Config) RTOInitial() time.Duration {
	return time.Duration(c.RTOInitialMS) * time.Millisecond
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.MTU < minMTU:
		return fmt.Errorf("mtu %d below minimum %d: %w", c.MTU, minMTU, ErrInvalidConfig)
	case c.MTU > chunk.CommonHeaderSize+chunk.HeaderSize+chunk.MaxValueSize:
		return fmt.Errorf("mtu %d exceeds maximum chunk size: %w", c.MTU, ErrInvalidConfig)
	case c.MaxRetransmits < 0:
		return fmt.Errorf("max retransmits %d: %w", c.MaxRetransmits, ErrInvalidConfig)
	case c.RTOInitialMS <= 0:
		return fmt.Errorf("initial rto %dms: %w", c.RTOInitialMS, ErrInvalidConfig)
	case c.NumOutboundStreams == 0:
		return fmt.Errorf("zero outbound streams: %w", ErrInvalidConfig)
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("max message size %d: %w", c.MaxMessageSize, ErrInvalidConfig)
	case c.CookieLifetime <= 0:
		return fmt.Errorf("cookie lifetime %s: %w", c.CookieLifetime, ErrInvalidConfig)
	}
	return nil
}

// maxFragment is the largest user data that fits one DATA chunk in a single
// packet, rounded down to the chunk padding boundary.
func (c Config) maxFragment() int {
	return (c.MTU - chunk.CommonHeaderSize - chunk.HeaderSize - chunk.DataHeaderSize) &^ 3
}
