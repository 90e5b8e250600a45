package chunk

import (
	"encoding/binary"
	"fmt"
)

// Parameter types carried in INIT, INIT_ACK and HEARTBEAT values.
const (
	ParamHeartbeatInfo uint16 = 1
	ParamStateCookie   uint16 = 7
)

// Error cause codes carried in ABORT and ERROR values.
const (
	CauseInvalidStreamID       uint16 = 1
	CauseStaleCookie           uint16 = 3
	CauseUnrecognizedChunkType uint16 = 6
	CauseUserInitiatedAbort    uint16 = 12
	CauseProtocolViolation     uint16 = 13
)

// DataHeaderSize is the DATA value prefix: TSN(4) + StreamID(2) + SSN(2) + PPID(4).
const DataHeaderSize = 12

// Data is the body of a DATA chunk.
type Data struct {
	Unordered bool
	Beginning bool
	Ending    bool

	TSN      uint32
	StreamID uint16
	SSN      uint16
	PPID     uint32
	UserData []byte
}

// Chunk frames d as a DATA chunk.
func (d *Data) Chunk() Chunk {
	var flags uint8
	if d.Unordered {
		flags |= FlagDataUnordered
	}
	if d.Beginning {
		flags |= FlagDataBeginning
	}
	if d.Ending {
		flags |= FlagDataEnd
	}

	value := make([]byte, DataHeaderSize+len(d.UserData))
	binary.BigEndian.PutUint32(value[0:4], d.TSN)
	binary.BigEndian.PutUint16(value[4:6], d.StreamID)
	binary.BigEndian.PutUint16(value[6:8], d.SSN)
	binary.BigEndian.PutUint32(value[8:12], d.PPID)
	copy(value[DataHeaderSize:], d.UserData)

	return Chunk{Type: TypeData, Flags: flags, Value: value}
}

// ParseData decodes a DATA chunk. A DATA chunk without user data is invalid.
func ParseData(c Chunk) (*Data, error) {
	if c.Type != TypeData {
		return nil, fmt.Errorf("want DATA, got %s: %w", c.Type, ErrUnexpectedType)
	}
	if len(c.Value) <= DataHeaderSize {
		return nil, fmt.Errorf("DATA value of %d bytes: %w", len(c.Value), ErrInvalidLength)
	}
	return &Data{
		Unordered: c.Flags&FlagDataUnordered != 0,
		Beginning: c.Flags&FlagDataBeginning != 0,
		Ending:    c.Flags&FlagDataEnd != 0,
		TSN:       binary.BigEndian.Uint32(c.Value[0:4]),
		StreamID:  binary.BigEndian.Uint16(c.Value[4:6]),
		SSN:       binary.BigEndian.Uint16(c.Value[6:8]),
		PPID:      binary.BigEndian.Uint32(c.Value[8:12]),
		UserData:  c.Value[DataHeaderSize:],
	}, nil
}

// initFixedSize is InitiateTag(4) + a_rwnd(4) + OS(2) + MIS(2) + InitialTSN(4).
const initFixedSize = 16

// Init is the body shared by INIT and INIT_ACK. Cookie is only present on
// INIT_ACK.
type Init struct {
	InitiateTag        uint32
	ReceiverWindow     uint32
	NumOutboundStreams uint16
	NumInboundStreams  uint16
	InitialTSN         uint32
	Cookie             []byte
}

// Chunk frames i as an INIT (ack == false) or INIT_ACK chunk.
func (i *Init) Chunk(ack bool) Chunk {
	value := make([]byte, initFixedSize)
	binary.BigEndian.PutUint32(value[0:4], i.InitiateTag)
	binary.BigEndian.PutUint32(value[4:8], i.ReceiverWindow)
	binary.BigEndian.PutUint16(value[8:10], i.NumOutboundStreams)
	binary.BigEndian.PutUint16(value[10:12], i.NumInboundStreams)
	binary.BigEndian.PutUint32(value[12:16], i.InitialTSN)

	t := TypeInit
	if ack {
		t = TypeInitAck
		value = appendParam(value, ParamStateCookie, i.Cookie)
	}
	return Chunk{Type: t, Value: value}
}

// ParseInit decodes an INIT or INIT_ACK chunk. Unrecognized parameters are
// skipped.
func ParseInit(c Chunk) (*Init, error) {
	if c.Type != TypeInit && c.Type != TypeInitAck {
		return nil, fmt.Errorf("want INIT or INIT_ACK, got %s: %w", c.Type, ErrUnexpectedType)
	}
	if len(c.Value) < initFixedSize {
		return nil, fmt.Errorf("%s value of %d bytes: %w", c.Type, len(c.Value), ErrTruncated)
	}

	i := &Init{
		InitiateTag:        binary.BigEndian.Uint32(c.Value[0:4]),
		ReceiverWindow:     binary.BigEndian.Uint32(c.Value[4:8]),
		NumOutboundStreams: binary.BigEndian.Uint16(c.Value[8:10]),
		NumInboundStreams:  binary.BigEndian.Uint16(c.Value[10:12]),
		InitialTSN:         binary.BigEndian.Uint32(c.Value[12:16]),
	}
	if i.InitiateTag == 0 {
		return nil, fmt.Errorf("%s: %w", c.Type, ErrZeroInitiateTag)
	}

	params, err := parseParams(c.Value[initFixedSize:])
	if err != nil {
		return nil, fmt.Errorf("%s parameters: %w", c.Type, err)
	}
	for _, p := range params {
		if p.typ == ParamStateCookie {
			i.Cookie = p.value
		}
	}
	if c.Type == TypeInitAck && len(i.Cookie) == 0 {
		return nil, ErrMissingCookie
	}
	return i, nil
}

// CookieEcho frames an opaque state cookie.
func CookieEcho(cookie []byte) Chunk {
	return Chunk{Type: TypeCookieEcho, Value: cookie}
}

// CookieAck frames an empty COOKIE_ACK.
func CookieAck() Chunk {
	return Chunk{Type: TypeCookieAck}
}

// Heartbeat is a HEARTBEAT request, or an acknowledgement when Ack is set.
// Info is echoed back by the peer unchanged.
type Heartbeat struct {
	Ack  bool
	Info []byte
}

// Chunk frames h.
func (h *Heartbeat) Chunk() Chunk {
	var flags uint8
	if h.Ack {
		flags = FlagHeartbeatAck
	}
	return Chunk{Type: TypeHeartbeat, Flags: flags, Value: appendParam(nil, ParamHeartbeatInfo, h.Info)}
}

// ParseHeartbeat decodes a HEARTBEAT chunk.
func ParseHeartbeat(c Chunk) (*Heartbeat, error) {
	if c.Type != TypeHeartbeat {
		return nil, fmt.Errorf("want HEARTBEAT, got %s: %w", c.Type, ErrUnexpectedType)
	}
	params, err := parseParams(c.Value)
	if err != nil {
		return nil, fmt.Errorf("HEARTBEAT parameters: %w", err)
	}
	for _, p := range params {
		if p.typ == ParamHeartbeatInfo {
			return &Heartbeat{Ack: c.Flags&FlagHeartbeatAck != 0, Info: p.value}, nil
		}
	}
	return nil, fmt.Errorf("HEARTBEAT without info parameter: %w", ErrInvalidLength)
}

// Shutdown is a SHUTDOWN request carrying the sender's cumulative TSN ack.
type Shutdown struct {
	CumulativeTSNAck uint32
}

// Chunk frames s as a SHUTDOWN request.
func (s *Shutdown) Chunk() Chunk {
	value := make([]byte, 4)
	binary.BigEndian.PutUint32(value, s.CumulativeTSNAck)
	return Chunk{Type: TypeShutdown, Value: value}
}

// ShutdownAck frames a SHUTDOWN acknowledgement.
func ShutdownAck() Chunk {
	return Chunk{Type: TypeShutdown, Flags: FlagShutdownAck}
}

// ShutdownComplete frames the final SHUTDOWN of the teardown chain.
func ShutdownComplete() Chunk {
	return Chunk{Type: TypeShutdown, Flags: FlagShutdownComplete}
}

// ParseShutdown decodes a SHUTDOWN request. Use the chunk flags to tell the
// ACK and COMPLETE variants apart before calling it.
func ParseShutdown(c Chunk) (*Shutdown, error) {
	if c.Type != TypeShutdown {
		return nil, fmt.Errorf("want SHUTDOWN, got %s: %w", c.Type, ErrUnexpectedType)
	}
	if len(c.Value) != 4 {
		return nil, fmt.Errorf("SHUTDOWN value of %d bytes: %w", len(c.Value), ErrInvalidLength)
	}
	return &Shutdown{CumulativeTSNAck: binary.BigEndian.Uint32(c.Value)}, nil
}

// ErrorCause is one cause record inside an ABORT or ERROR chunk.
type ErrorCause struct {
	Code uint16
	Info []byte
}

func (e ErrorCause) String() string {
	return fmt.Sprintf("cause %d (%q)", e.Code, e.Info)
}

// Abort frames an ABORT chunk with the given causes.
func Abort(causes ...ErrorCause) Chunk {
	return Chunk{Type: TypeAbort, Value: marshalCauses(causes)}
}

// OperationError frames an ERROR chunk with the given causes.
func OperationError(causes ...ErrorCause) Chunk {
	return Chunk{Type: TypeError, Value: marshalCauses(causes)}
}

// ParseCauses decodes the cause list of an ABORT or ERROR chunk.
func ParseCauses(c Chunk) ([]ErrorCause, error) {
	if c.Type != TypeAbort && c.Type != TypeError {
		return nil, fmt.Errorf("want ABORT or ERROR, got %s: %w", c.Type, ErrUnexpectedType)
	}
	params, err := parseParams(c.Value)
	if err != nil {
		return nil, fmt.Errorf("%s causes: %w", c.Type, err)
	}
	causes := make([]ErrorCause, 0, len(params))
	for _, p := range params {
		causes = append(causes, ErrorCause{Code: p.typ, Info: p.value})
	}
	return causes, nil
}

func marshalCauses(causes []ErrorCause) []byte {
	var value []byte
	for _, cause := range causes {
		value = appendParam(value, cause.Code, cause.Info)
	}
	return value
}

type param struct {
	typ   uint16
	value []byte
}

func appendParam(buf []byte, typ uint16, value []byte) []byte {
	var head [4]byte
	binary.BigEndian.PutUint16(head[0:2], typ)
	binary.BigEndian.PutUint16(head[2:4], uint16(4+len(value)))
	buf = append(buf, head[:]...)
	buf = append(buf, value...)
	for n := 4 + len(value); n%4 != 0; n++ {
		buf = append(buf, 0)
	}
	return buf
}

func parseParams(data []byte) ([]param, error) {
	var params []param
	offset := 0
	for offset < len(data) {
		if len(data)-offset < 4 {
			return nil, fmt.Errorf("parameter header at offset %d: %w", offset, ErrTruncated)
		}
		length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		if length < 4 || offset+length > len(data) {
			return nil, fmt.Errorf("parameter length %d at offset %d: %w", length, offset, ErrInvalidLength)
		}
		params = append(params, param{
			typ:   binary.BigEndian.Uint16(data[offset : offset+2]),
			value: data[offset+4 : offset+length],
		})
		offset += padded(length)
	}
	return params, nil
}
