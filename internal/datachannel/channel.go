// Package datachannel manages the named, typed channels multiplexed over an
// association's streams: id allocation by role parity, the DCEP OPEN/ACK
// handshake, and routing of DATA payloads by PPID.
package datachannel

import (
	"errors"
	"fmt"

	"github.com/1ureka/rtcdc/internal/dcep"
)

var (
	ErrChannelNotFound    = errors.New("datachannel: channel not found")
	ErrChannelClosed      = errors.New("datachannel: channel closed")
	ErrChannelNotOpen     = errors.New("datachannel: channel not open")
	ErrStreamInUse        = errors.New("datachannel: stream id in use")
	ErrNoStreamAvailable  = errors.New("datachannel: no stream id available")
	ErrInvalidStreamID    = errors.New("datachannel: invalid stream id")
	ErrInvalidChannelType = errors.New("datachannel: invalid channel type")
	ErrLabelTooLong       = errors.New("datachannel: label or protocol too long")
)

// State is the lifecycle state of a channel.
type State uint8

const (
	Connecting State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Open:
		return "Open"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DefaultPriority is the priority of channels created without WithPriority.
const DefaultPriority = 256

// Channel is a snapshot of one channel. The manager owns the live record;
// callers only ever see copies.
type Channel struct {
	ID                   uint16           `json:"id"`
	Label                string           `json:"label"`
	Protocol             string           `json:"protocol,omitempty"`
	Type                 dcep.ChannelType `json:"type"`
	ReliabilityParameter uint32           `json:"reliability_parameter,omitempty"`
	Priority             uint16           `json:"priority"`
	Negotiated           bool             `json:"negotiated"`
	Remote               bool             `json:"remote"`
	State                State            `json:"state"`
}

// Ordered reports whether messages are delivered in send order.
func (c Channel) Ordered() bool {
	return !c.Type.Unordered()
}

type channelConfig struct {
	protocol   string
	typ        dcep.ChannelType
	param      uint32
	priority   uint16
	negotiated bool
	id         uint16
}

// ChannelOption customizes CreateChannel.
type ChannelOption func(*channelConfig)

// WithProtocol sets the sub-protocol name announced in the OPEN message.
func WithProtocol(protocol string) ChannelOption {
	return func(c *channelConfig) { c.protocol = protocol }
}

// WithChannelType sets the reliability class. param is the retransmit
// limit or the lifetime in milliseconds for the partial-reliable types and
// is ignored for the others.
func WithChannelType(t dcep.ChannelType, param uint32) ChannelOption {
	return func(c *channelConfig) {
		c.typ = t
		c.param = param
	}
}

// WithPriority sets the channel priority.
func WithPriority(priority uint16) ChannelOption {
	return func(c *channelConfig) { c.priority = priority }
}

// WithNegotiated creates the channel out of band on stream id: both sides
// must create it with the same id, no OPEN is sent, and it starts Open.
func WithNegotiated(id uint16) ChannelOption {
	return func(c *channelConfig) {
		c.negotiated = true
		c.id = id
	}
}

// Event is something the manager reports to its owner.
type Event interface {
	event()
}

// ChannelOpen is emitted when a channel becomes Open.
type ChannelOpen struct {
	Channel Channel
}

// ChannelClosed is emitted when a channel becomes Closed.
type ChannelClosed struct {
	Channel Channel
}

// MessageReceived carries one application message. Text is set for string
// PPIDs. Data is empty, never nil, for the empty-message PPIDs.
type MessageReceived struct {
	StreamID uint16
	Label    string
	Text     bool
	Data     []byte
}

func (ChannelOpen) event()     {}
func (ChannelClosed) event()   {}
func (MessageReceived) event() {}
