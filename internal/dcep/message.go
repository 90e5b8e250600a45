package dcep

import (
	"encoding/binary"
	"fmt"
	"math"
)

// OpenHeaderSize is the fixed part of an OPEN message:
// Type(1) + ChannelType(1) + Priority(2) + ReliabilityParameter(4) +
// LabelLength(2) + ProtocolLength(2).
const OpenHeaderSize = 12

// Message is a decoded DCEP message: *Open or *Ack.
type Message interface {
	Type() MessageType
	Marshal() ([]byte, error)
}

// Open requests a new channel on the stream it is sent on.
type Open struct {
	ChannelType          ChannelType
	Priority             uint16
	ReliabilityParameter uint32
	Label                string
	Protocol             string
}

// Ack confirms an Open.
type Ack struct{}

func (*Open) Type() MessageType { return MessageTypeOpen }
func (*Ack) Type() MessageType  { return MessageTypeAck }

// Marshal serializes the OPEN message in network byte order. The label and
// protocol lengths travel as 16-bit fields, so longer values are rejected.
func (o *Open) Marshal() ([]byte, error) {
	if len(o.Label) > math.MaxUint16 {
		return nil, fmt.Errorf("label of %d bytes: %w", len(o.Label), ErrFieldTooLong)
	}
	if len(o.Protocol) > math.MaxUint16 {
		return nil, fmt.Errorf("protocol of %d bytes: %w", len(o.Protocol), ErrFieldTooLong)
	}

	buf := make([]byte, OpenHeaderSize+len(o.Label)+len(o.Protocol))
	buf[0] = byte(MessageTypeOpen)
	buf[1] = byte(o.ChannelType)
	binary.BigEndian.PutUint16(buf[2:4], o.Priority)
	binary.BigEndian.PutUint32(buf[4:8], o.ReliabilityParameter)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(o.Label)))
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(o.Protocol)))
	n := copy(buf[OpenHeaderSize:], o.Label)
	copy(buf[OpenHeaderSize+n:], o.Protocol)
	return buf, nil
}

// Marshal serializes the one-byte ACK message.
func (*Ack) Marshal() ([]byte, error) {
	return []byte{byte(MessageTypeAck)}, nil
}

// ParseOpen decodes an OPEN message. A buffer shorter than the fixed header
// plus the declared label and protocol lengths is rejected outright.
func ParseOpen(data []byte) (*Open, error) {
	if len(data) < OpenHeaderSize {
		return nil, fmt.Errorf("OPEN too short: %d bytes (need at least %d): %w", len(data), OpenHeaderSize, ErrTruncated)
	}
	if t := MessageType(data[0]); t != MessageTypeOpen {
		return nil, fmt.Errorf("expected %s, got %s: %w", MessageTypeOpen, t, ErrUnknownMessageType)
	}

	labelLen := int(binary.BigEndian.Uint16(data[8:10]))
	protocolLen := int(binary.BigEndian.Uint16(data[10:12]))
	if want := OpenHeaderSize + labelLen + protocolLen; len(data) < want {
		return nil, fmt.Errorf("OPEN declares label %d + protocol %d bytes, need %d, have %d: %w",
			labelLen, protocolLen, want, len(data), ErrTruncated)
	}

	labelEnd := OpenHeaderSize + labelLen
	return &Open{
		ChannelType:          ChannelType(data[1]),
		Priority:             binary.BigEndian.Uint16(data[2:4]),
		ReliabilityParameter: binary.BigEndian.Uint32(data[4:8]),
		Label:                string(data[OpenHeaderSize:labelEnd]),
		Protocol:             string(data[labelEnd : labelEnd+protocolLen]),
	}, nil
}

// ParseAck decodes an ACK message, which is exactly one byte.
func ParseAck(data []byte) (*Ack, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("ACK of %d bytes: %w", len(data), ErrInvalidLength)
	}
	if t := MessageType(data[0]); t != MessageTypeAck {
		return nil, fmt.Errorf("expected %s, got %s: %w", MessageTypeAck, t, ErrUnknownMessageType)
	}
	return &Ack{}, nil
}

// Parse discriminates on the leading byte and decodes the message.
func Parse(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty DCEP message: %w", ErrTruncated)
	}
	switch t := MessageType(data[0]); t {
	case MessageTypeOpen:
		return ParseOpen(data)
	case MessageTypeAck:
		return ParseAck(data)
	default:
		return nil, fmt.Errorf("leading byte %s: %w", t, ErrUnknownMessageType)
	}
}
