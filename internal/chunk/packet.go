package chunk

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// CommonHeaderSize is the packet header size:
// SourcePort(2) + DestinationPort(2) + VerificationTag(4) + Checksum(4).
const CommonHeaderSize = 12

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Packet is one datagram: the common header followed by bundled chunks.
type Packet struct {
	SourcePort      uint16
	DestinationPort uint16
	VerificationTag uint32
	Chunks          []Chunk
}

// Len returns the encoded packet size.
func (p *Packet) Len() int {
	n := CommonHeaderSize
	for _, c := range p.Chunks {
		n += c.PaddedLen()
	}
	return n
}

// Marshal serializes the packet and fills in the CRC32c checksum.
func (p *Packet) Marshal() ([]byte, error) {
	buf := make([]byte, CommonHeaderSize, p.Len())
	binary.BigEndian.PutUint16(buf[0:2], p.SourcePort)
	binary.BigEndian.PutUint16(buf[2:4], p.DestinationPort)
	binary.BigEndian.PutUint32(buf[4:8], p.VerificationTag)

	var err error
	for _, c := range p.Chunks {
		if buf, err = c.AppendTo(buf); err != nil {
			return nil, err
		}
	}

	// The checksum is computed with its own field zeroed and stored
	// little-endian, as CRC32c implementations emit it.
	binary.LittleEndian.PutUint32(buf[8:12], crc32.Checksum(buf, castagnoli))
	return buf, nil
}

// ParsePacket decodes a datagram. A bad checksum or damaged chunk framing is
// returned as an error; the caller is expected to log and drop the datagram.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < CommonHeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes (need at least %d): %w", len(data), CommonHeaderSize, ErrTruncated)
	}

	want := binary.LittleEndian.Uint32(data[8:12])
	scratch := make([]byte, len(data))
	copy(scratch, data)
	clear(scratch[8:12])
	if got := crc32.Checksum(scratch, castagnoli); got != want {
		return nil, fmt.Errorf("got %08x, want %08x: %w", got, want, ErrChecksumMismatch)
	}

	chunks, err := ParseChunks(data[CommonHeaderSize:])
	if err != nil {
		return nil, err
	}

	return &Packet{
		SourcePort:      binary.BigEndian.Uint16(data[0:2]),
		DestinationPort: binary.BigEndian.Uint16(data[2:4]),
		VerificationTag: binary.BigEndian.Uint32(data[4:8]),
		Chunks:          chunks,
	}, nil
}
