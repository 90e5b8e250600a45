// Package dcep implements the data channel establishment protocol: the OPEN
// and ACK control messages, the channel type codes they carry, and the
// payload protocol identifiers that route DATA payloads.
package dcep

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated          = errors.New("dcep: truncated message")
	ErrInvalidLength      = errors.New("dcep: invalid message length")
	ErrUnknownMessageType = errors.New("dcep: unknown message type")
	ErrFieldTooLong       = errors.New("dcep: field exceeds 65535 bytes")
)

// MessageType is the leading byte of every DCEP message.
type MessageType uint8

const (
	MessageTypeAck  MessageType = 0x02
	MessageTypeOpen MessageType = 0x03
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeAck:
		return "DATA_CHANNEL_ACK"
	case MessageTypeOpen:
		return "DATA_CHANNEL_OPEN"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
	}
}

// ChannelType is the reliability class of a channel. The 0x80 bit toggles
// unordered delivery independently of the class in the low bits. Codes
// outside the known set are kept as-is and report Known() == false.
type ChannelType uint8

const unorderedBit ChannelType = 0x80

const (
	ChannelTypeReliable                       ChannelType = 0x00
	ChannelTypeReliableUnordered              ChannelType = 0x80
	ChannelTypeUnreliable                     ChannelType = 0x01
	ChannelTypeUnreliableUnordered            ChannelType = 0x81
	ChannelTypePartialReliableRexmit          ChannelType = 0x02
	ChannelTypePartialReliableRexmitUnordered ChannelType = 0x82
	ChannelTypePartialReliableTimed           ChannelType = 0x03
	ChannelTypePartialReliableTimedUnordered  ChannelType = 0x83
)

// Unordered reports whether messages may be delivered out of order.
func (t ChannelType) Unordered() bool {
	return t&unorderedBit != 0
}

// Class strips the unordered bit.
func (t ChannelType) Class() ChannelType {
	return t &^ unorderedBit
}

// WithUnordered returns t with the unordered bit set or cleared.
func (t ChannelType) WithUnordered(unordered bool) ChannelType {
	if unordered {
		return t | unorderedBit
	}
	return t.Class()
}

// Known reports whether t is one of the defined codes.
func (t ChannelType) Known() bool {
	return t.Class() <= ChannelTypePartialReliableTimed
}

// PartialReliable reports whether the reliability parameter is meaningful:
// a retransmit limit for Rexmit, a lifetime in milliseconds for Timed.
func (t ChannelType) PartialReliable() bool {
	c := t.Class()
	return c == ChannelTypePartialReliableRexmit || c == ChannelTypePartialReliableTimed
}

func (t ChannelType) String() string {
	var name string
	switch t.Class() {
	case ChannelTypeReliable:
		name = "reliable"
	case ChannelTypeUnreliable:
		name = "unreliable"
	case ChannelTypePartialReliableRexmit:
		name = "partial-reliable-rexmit"
	case ChannelTypePartialReliableTimed:
		name = "partial-reliable-timed"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
	}
	if t.Unordered() {
		return name + "-unordered"
	}
	return name + "-ordered"
}

// MarshalText renders the type name for JSON status output.
func (t ChannelType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// PPID is the payload protocol identifier carried by every DATA chunk.
type PPID uint32

const (
	PPIDControl     PPID = 50 // DCEP message
	PPIDString      PPID = 51 // UTF-8 text
	PPIDBinary      PPID = 53 // binary
	PPIDStringEmpty PPID = 56 // empty text
	PPIDBinaryEmpty PPID = 57 // empty binary
)

// EmptyPayload is what goes on the wire for an empty message: a DATA chunk
// cannot carry zero bytes, so the dedicated PPID marks the single filler byte
// as meaningless.
var EmptyPayload = []byte{0x00}

// PPIDForText picks the PPID for a text message with the given payload.
func PPIDForText(payload []byte) PPID {
	if len(payload) == 0 {
		return PPIDStringEmpty
	}
	return PPIDString
}

// PPIDForBinary picks the PPID for a binary message with the given payload.
func PPIDForBinary(payload []byte) PPID {
	if len(payload) == 0 {
		return PPIDBinaryEmpty
	}
	return PPIDBinary
}

// IsString reports whether p carries text.
func (p PPID) IsString() bool {
	return p == PPIDString || p == PPIDStringEmpty
}

// IsEmpty reports whether p marks an empty message.
func (p PPID) IsEmpty() bool {
	return p == PPIDStringEmpty || p == PPIDBinaryEmpty
}

// IsApplication reports whether p carries application data.
func (p PPID) IsApplication() bool {
	return p == PPIDString || p == PPIDBinary || p.IsEmpty()
}

func (p PPID) String() string {
	switch p {
	case PPIDControl:
		return "DCEP"
	case PPIDString:
		return "String"
	case PPIDBinary:
		return "Binary"
	case PPIDStringEmpty:
		return "StringEmpty"
	case PPIDBinaryEmpty:
		return "BinaryEmpty"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(p))
	}
}
