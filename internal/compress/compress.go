// Package compress wraps channel payloads in an optional compression
// envelope. A compressed payload starts with an 8-byte header: a 4-byte
// magic naming the algorithm, then the original size as a big-endian u32.
// Anything without a recognized magic is passed through untouched.
package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// HeaderSize is magic(4) + original size(4).
	HeaderSize = 8

	// MinSize is the smallest payload worth compressing.
	MinSize = 128

	// MaxDecodedSize bounds the original size a header may declare.
	MaxDecodedSize = 16 << 20
)

var (
	ErrUnknownAlgorithm = errors.New("compress: unknown algorithm")
	ErrCorrupt          = errors.New("compress: corrupt payload")
	ErrTooLarge         = errors.New("compress: declared size too large")
	ErrClosed           = errors.New("compress: codec closed")
)

// Algorithm selects the block codec.
type Algorithm uint8

const (
	None Algorithm = iota
	LZ4
	Zstd
)

var (
	magicLZ4  = [4]byte{'D', 'C', 'Z', '4'}
	magicZstd = [4]byte{'D', 'C', 'Z', 'S'}
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Algorithm(%d)", uint8(a))
	}
}

// ParseAlgorithm maps a config value to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "none", "off":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("%q: %w", s, ErrUnknownAlgorithm)
	}
}

func (a Algorithm) magic() [4]byte {
	if a == Zstd {
		return magicZstd
	}
	return magicLZ4
}

// Header is the decoded compression envelope.
type Header struct {
	Algorithm    Algorithm
	OriginalSize uint32
}

// DecodeHeader reports whether data starts with a compression envelope.
func DecodeHeader(data []byte) (Header, bool) {
	if len(data) < HeaderSize {
		return Header{}, false
	}
	var h Header
	switch {
	case bytes.Equal(data[:4], magicLZ4[:]):
		h.Algorithm = LZ4
	case bytes.Equal(data[:4], magicZstd[:]):
		h.Algorithm = Zstd
	default:
		return Header{}, false
	}
	h.OriginalSize = binary.BigEndian.Uint32(data[4:8])
	return h, true
}

// Codec compresses outgoing payloads with a fixed algorithm and decompresses
// incoming payloads of either algorithm. It is safe for concurrent use.
type Codec struct {
	alg Algorithm

	zstdOnce sync.Once
	zenc     *zstd.Encoder
	zdec     *zstd.Decoder
	zerr     error

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a codec that compresses with alg.
func New(alg Algorithm) *Codec {
	return &Codec{alg: alg}
}

// Algorithm returns the outgoing algorithm.
func (c *Codec) Algorithm() Algorithm {
	return c.alg
}

// Compress wraps data when that makes it smaller. Payloads under MinSize,
// a None codec, and incompressible data come back unchanged with false.
func (c *Codec) Compress(data []byte) ([]byte, bool, error) {
	if c.alg == None || len(data) < MinSize || len(data) > MaxDecodedSize {
		return data, false, nil
	}

	var body []byte
	switch c.alg {
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, false, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			return data, false, nil
		}
		body = dst[:n]
	case Zstd:
		if err := c.initZstd(); err != nil {
			return nil, false, err
		}
		body = c.zenc.EncodeAll(data, nil)
	default:
		return nil, false, fmt.Errorf("%s: %w", c.alg, ErrUnknownAlgorithm)
	}

	if HeaderSize+len(body) >= len(data) {
		return data, false, nil
	}

	out := make([]byte, HeaderSize, HeaderSize+len(body))
	magic := c.alg.magic()
	copy(out, magic[:])
	binary.BigEndian.PutUint32(out[4:8], uint32(len(data)))
	return append(out, body...), true, nil
}

// Decompress unwraps data if it carries a compression envelope. Data
// without one comes back unchanged with false.
func (c *Codec) Decompress(data []byte) ([]byte, bool, error) {
	h, ok := DecodeHeader(data)
	if !ok {
		return data, false, nil
	}
	if h.OriginalSize > MaxDecodedSize {
		return nil, false, fmt.Errorf("declared %d bytes: %w", h.OriginalSize, ErrTooLarge)
	}

	body := data[HeaderSize:]
	switch h.Algorithm {
	case LZ4:
		out := make([]byte, h.OriginalSize)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, false, fmt.Errorf("lz4 decompress: %v: %w", err, ErrCorrupt)
		}
		if n != int(h.OriginalSize) {
			return nil, false, fmt.Errorf("lz4 decoded %d bytes, header says %d: %w", n, h.OriginalSize, ErrCorrupt)
		}
		return out, true, nil
	case Zstd:
		if err := c.initZstd(); err != nil {
			return nil, false, err
		}
		out, err := c.zdec.DecodeAll(body, make([]byte, 0, h.OriginalSize))
		if err != nil {
			return nil, false, fmt.Errorf("zstd decompress: %v: %w", err, ErrCorrupt)
		}
		if len(out) != int(h.OriginalSize) {
			return nil, false, fmt.Errorf("zstd decoded %d bytes, header says %d: %w", len(out), h.OriginalSize, ErrCorrupt)
		}
		return out, true, nil
	}
	return nil, false, ErrUnknownAlgorithm
}

// DecompressAuto unwraps data when it is compressed and returns it as-is
// otherwise.
func (c *Codec) DecompressAuto(data []byte) ([]byte, error) {
	out, _, err := c.Decompress(data)
	return out, err
}

// Close releases the zstd encoder and decoder if they were created. It may
// be called more than once; zstd work after the first call fails with
// ErrClosed.
func (c *Codec) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.zstdOnce.Do(func() { c.zerr = ErrClosed })
		if c.zenc != nil {
			_ = c.zenc.Close()
		}
		if c.zdec != nil {
			c.zdec.Close()
		}
	})
}

func (c *Codec) initZstd() error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.zstdOnce.Do(func() {
		c.zenc, c.zerr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if c.zerr != nil {
			return
		}
		c.zdec, c.zerr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	})
	if c.zerr != nil {
		return fmt.Errorf("zstd init: %w", c.zerr)
	}
	return nil
}
