// Package chunk defines the wire format of the association: the chunk type
// taxonomy, chunk framing, the packet common header and the typed chunk bodies.
package chunk

import "fmt"

// Type is the chunk type byte. The ten named kinds occupy 0–9; any other
// value is kept verbatim and reports Known() == false, so a foreign chunk
// never aborts parsing of the packet that carries it.
type Type uint8

// Chunk type constants.
const (
	TypeData       Type = 0
	TypeInit       Type = 1
	TypeInitAck    Type = 2
	TypeSack       Type = 3
	TypeHeartbeat  Type = 4
	TypeCookieEcho Type = 5
	TypeCookieAck  Type = 6
	TypeShutdown   Type = 7
	TypeAbort      Type = 8
	TypeError      Type = 9
)

// Chunk flag bits.
const (
	FlagDataEnd       uint8 = 0x01 // E: last fragment of a user message
	FlagDataBeginning uint8 = 0x02 // B: first fragment of a user message
	FlagDataUnordered uint8 = 0x04 // U: deliver without stream ordering

	FlagHeartbeatAck     uint8 = 0x01 // HEARTBEAT echoing a peer's heartbeat
	FlagShutdownAck      uint8 = 0x01 // SHUTDOWN acknowledging a peer's SHUTDOWN
	FlagShutdownComplete uint8 = 0x02 // SHUTDOWN closing the teardown chain
)

// DecodeType maps a wire byte to a Type. It is total: unrecognized bytes
// come back as Unknown types carrying the original value.
func DecodeType(b byte) Type {
	return Type(b)
}

// EncodeType maps a Type back to its wire byte.
func EncodeType(t Type) byte {
	return byte(t)
}

// Known reports whether t is one of the ten named chunk kinds.
func (t Type) Known() bool {
	return t <= TypeError
}

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeInit:
		return "INIT"
	case TypeInitAck:
		return "INIT_ACK"
	case TypeSack:
		return "SACK"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeCookieEcho:
		return "COOKIE_ECHO"
	case TypeCookieAck:
		return "COOKIE_ACK"
	case TypeShutdown:
		return "SHUTDOWN"
	case TypeAbort:
		return "ABORT"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}
