package chunk

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed chunk header size: Type(1) + Flags(1) + Length(2).
const HeaderSize = 4

// MaxValueSize is the largest value that fits the 16-bit length field.
const MaxValueSize = 0xFFFF - HeaderSize

// Chunk is one framed unit inside a packet. Length on the wire covers the
// header and the value but not the trailing padding to a 4-byte boundary.
type Chunk struct {
	Type  Type
	Flags uint8
	Value []byte
}

// Len returns the unpadded encoded length.
func (c Chunk) Len() int {
	return HeaderSize + len(c.Value)
}

// PaddedLen returns the encoded length rounded up to a 4-byte boundary.
func (c Chunk) PaddedLen() int {
	return padded(c.Len())
}

// Marshal serializes the chunk including padding.
func (c Chunk) Marshal() ([]byte, error) {
	return c.AppendTo(make([]byte, 0, c.PaddedLen()))
}

// AppendTo appends the encoded chunk to buf and returns the extended slice.
func (c Chunk) AppendTo(buf []byte) ([]byte, error) {
	if len(c.Value) > MaxValueSize {
		return nil, fmt.Errorf("%s value of %d bytes: %w", c.Type, len(c.Value), ErrValueTooLarge)
	}

	var head [HeaderSize]byte
	head[0] = EncodeType(c.Type)
	head[1] = c.Flags
	binary.BigEndian.PutUint16(head[2:4], uint16(c.Len()))

	buf = append(buf, head[:]...)
	buf = append(buf, c.Value...)
	for i := c.Len(); i < c.PaddedLen(); i++ {
		buf = append(buf, 0)
	}
	return buf, nil
}

// Unmarshal decodes the first chunk in data. It returns the chunk and the
// number of bytes consumed, padding included. The value is copied.
func Unmarshal(data []byte) (Chunk, int, error) {
	if len(data) < HeaderSize {
		return Chunk{}, 0, fmt.Errorf("chunk header needs %d bytes, have %d: %w", HeaderSize, len(data), ErrTruncated)
	}

	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length < HeaderSize {
		return Chunk{}, 0, fmt.Errorf("declared length %d: %w", length, ErrInvalidLength)
	}
	if length > len(data) {
		return Chunk{}, 0, fmt.Errorf("declared length %d exceeds %d available bytes: %w", length, len(data), ErrTruncated)
	}

	c := Chunk{
		Type:  DecodeType(data[0]),
		Flags: data[1],
		Value: make([]byte, length-HeaderSize),
	}
	copy(c.Value, data[HeaderSize:length])

	// The final chunk of a packet may omit its padding.
	consumed := padded(length)
	if consumed > len(data) {
		consumed = len(data)
	}
	return c, consumed, nil
}

// ParseChunks decodes every chunk in data. Unknown chunk types are returned
// like any other chunk; only framing damage is an error.
func ParseChunks(data []byte) ([]Chunk, error) {
	var chunks []Chunk
	offset := 0
	for offset < len(data) {
		c, n, err := Unmarshal(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("chunk at offset %d: %w", offset, err)
		}
		chunks = append(chunks, c)
		offset += n
	}
	return chunks, nil
}

func padded(n int) int {
	return (n + 3) &^ 3
}
