package compress

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmallPayloadUntouched(t *testing.T) {
	for _, alg := range []Algorithm{LZ4, Zstd} {
		t.Run(alg.String(), func(t *testing.T) {
			data := bytes.Repeat([]byte{'a'}, 100)
			out, compressed, err := New(alg).Compress(data)
			require.NoError(t, err)
			assert.False(t, compressed)
			assert.Equal(t, data, out)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{LZ4, Zstd} {
		t.Run(alg.String(), func(t *testing.T) {
			c := New(alg)
			defer c.Close()

			data := bytes.Repeat([]byte{'x'}, 200)
			wrapped, compressed, err := c.Compress(data)
			require.NoError(t, err)
			require.True(t, compressed)
			assert.Less(t, len(wrapped), len(data))

			h, ok := DecodeHeader(wrapped)
			require.True(t, ok)
			assert.Equal(t, alg, h.Algorithm)
			assert.Equal(t, uint32(200), h.OriginalSize)

			// Any codec can decode either algorithm.
			out, err := New(None).DecompressAuto(wrapped)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestIncompressibleUntouched(t *testing.T) {
	data := make([]byte, 512)
	_, _ = rand.Read(data)

	out, compressed, err := New(LZ4).Compress(data)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, data, out)
}

func TestDecompressPassThrough(t *testing.T) {
	data := []byte("plain text that happens to be long enough to have a header")
	out, compressed, err := New(LZ4).Decompress(data)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, data, out)
}

func TestDecompressRejects(t *testing.T) {
	good, _, err := New(LZ4).Compress(bytes.Repeat([]byte("abcd"), 100))
	require.NoError(t, err)

	t.Run("too large", func(t *testing.T) {
		bad := bytes.Clone(good)
		binary.BigEndian.PutUint32(bad[4:8], MaxDecodedSize+1)
		_, _, err := New(None).Decompress(bad)
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("size mismatch", func(t *testing.T) {
		bad := bytes.Clone(good)
		binary.BigEndian.PutUint32(bad[4:8], 10)
		_, _, err := New(None).Decompress(bad)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]Algorithm{"": None, "none": None, "lz4": LZ4, "zstd": Zstd} {
		got, err := ParseAlgorithm(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "ParseAlgorithm(%q)", in)
	}
	_, err := ParseAlgorithm("brotli")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestCloseTwice(t *testing.T) {
	c := New(Zstd)
	wrapped, compressed, err := c.Compress(bytes.Repeat([]byte{'z'}, 500))
	require.NoError(t, err)
	require.True(t, compressed)

	c.Close()
	c.Close()

	_, _, err = c.Compress(bytes.Repeat([]byte{'z'}, 500))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.DecompressAuto(wrapped)
	assert.ErrorIs(t, err, ErrClosed)

	// LZ4 holds no resources and keeps working.
	lz := New(LZ4)
	lz.Close()
	lz.Close()
	_, compressed, err = lz.Compress(bytes.Repeat([]byte{'z'}, 500))
	require.NoError(t, err)
	assert.True(t, compressed)
}

func TestCloseUnused(t *testing.T) {
	c := New(Zstd)
	c.Close()
	c.Close()
	_, _, err := c.Compress(bytes.Repeat([]byte{'z'}, 500))
	assert.ErrorIs(t, err, ErrClosed)
}
