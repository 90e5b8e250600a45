// Package sack builds and reads selective-acknowledgment records and tracks
// received TSNs on the receive side of an association.
package sack

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/1ureka/rtcdc/internal/chunk"
)

var (
	ErrTruncated      = errors.New("sack: truncated data")
	ErrInvalidGapList = errors.New("sack: gap blocks unsorted or overlapping")
)

// fixedSize is CumulativeTSN(4) + a_rwnd(4) + NumGapBlocks(2) + NumDupTSNs(2).
const fixedSize = 12

// GapBlock marks one contiguous run of TSNs received beyond the cumulative
// TSN. Start and End are offsets from CumulativeTSN, both inclusive.
type GapBlock struct {
	Start uint16
	End   uint16
}

// Sack is a selective acknowledgment record.
type Sack struct {
	CumulativeTSN  uint32
	ReceiverWindow uint32
	GapBlocks      []GapBlock
	DuplicateTSNs  []uint32
}

// CreateSack reports fully contiguous reception up to cumulativeTSN.
func CreateSack(cumulativeTSN, aRwnd uint32) Sack {
	return Sack{CumulativeTSN: cumulativeTSN, ReceiverWindow: aRwnd}
}

// CreateSackWithGaps reports reception up to cumulativeTSN plus the given
// out-of-order runs. Blocks must already be sorted and non-overlapping; they
// are taken as given. Call Validate to check the precondition.
func CreateSackWithGaps(cumulativeTSN, aRwnd uint32, blocks []GapBlock) Sack {
	return Sack{CumulativeTSN: cumulativeTSN, ReceiverWindow: aRwnd, GapBlocks: blocks}
}

// Validate checks that gap blocks are well formed: each Start <= End, the
// first Start is past the cumulative TSN, and runs are sorted with at least
// one missing TSN between them.
func (s Sack) Validate() error {
	var prevEnd uint16
	for i, b := range s.GapBlocks {
		if b.Start == 0 || b.Start > b.End {
			return fmt.Errorf("block %d [%d,%d]: %w", i, b.Start, b.End, ErrInvalidGapList)
		}
		if i > 0 && b.Start <= prevEnd+1 {
			return fmt.Errorf("block %d [%d,%d] after end %d: %w", i, b.Start, b.End, prevEnd, ErrInvalidGapList)
		}
		prevEnd = b.End
	}
	return nil
}

// Acked reports whether tsn is covered by the cumulative TSN or a gap block.
func (s Sack) Acked(tsn uint32) bool {
	if !Less(s.CumulativeTSN, tsn) {
		return true
	}
	offset := tsn - s.CumulativeTSN
	for _, b := range s.GapBlocks {
		if offset >= uint32(b.Start) && offset <= uint32(b.End) {
			return true
		}
	}
	return false
}

// Chunk frames s as a SACK chunk.
func (s Sack) Chunk() chunk.Chunk {
	value := make([]byte, fixedSize, fixedSize+4*len(s.GapBlocks)+4*len(s.DuplicateTSNs))
	binary.BigEndian.PutUint32(value[0:4], s.CumulativeTSN)
	binary.BigEndian.PutUint32(value[4:8], s.ReceiverWindow)
	binary.BigEndian.PutUint16(value[8:10], uint16(len(s.GapBlocks)))
	binary.BigEndian.PutUint16(value[10:12], uint16(len(s.DuplicateTSNs)))

	for _, b := range s.GapBlocks {
		value = binary.BigEndian.AppendUint16(value, b.Start)
		value = binary.BigEndian.AppendUint16(value, b.End)
	}
	for _, tsn := range s.DuplicateTSNs {
		value = binary.BigEndian.AppendUint32(value, tsn)
	}
	return chunk.Chunk{Type: chunk.TypeSack, Value: value}
}

// Parse decodes a SACK chunk.
func Parse(c chunk.Chunk) (Sack, error) {
	if c.Type != chunk.TypeSack {
		return Sack{}, fmt.Errorf("want SACK, got %s: %w", c.Type, chunk.ErrUnexpectedType)
	}
	if len(c.Value) < fixedSize {
		return Sack{}, fmt.Errorf("SACK value of %d bytes (need at least %d): %w", len(c.Value), fixedSize, ErrTruncated)
	}

	numGaps := int(binary.BigEndian.Uint16(c.Value[8:10]))
	numDups := int(binary.BigEndian.Uint16(c.Value[10:12]))
	if want := fixedSize + 4*numGaps + 4*numDups; len(c.Value) < want {
		return Sack{}, fmt.Errorf("SACK declares %d gaps and %d duplicates, need %d bytes, have %d: %w",
			numGaps, numDups, want, len(c.Value), ErrTruncated)
	}

	s := Sack{
		CumulativeTSN:  binary.BigEndian.Uint32(c.Value[0:4]),
		ReceiverWindow: binary.BigEndian.Uint32(c.Value[4:8]),
	}

	offset := fixedSize
	if numGaps > 0 {
		s.GapBlocks = make([]GapBlock, numGaps)
		for i := range s.GapBlocks {
			s.GapBlocks[i] = GapBlock{
				Start: binary.BigEndian.Uint16(c.Value[offset : offset+2]),
				End:   binary.BigEndian.Uint16(c.Value[offset+2 : offset+4]),
			}
			offset += 4
		}
	}
	if numDups > 0 {
		s.DuplicateTSNs = make([]uint32, numDups)
		for i := range s.DuplicateTSNs {
			s.DuplicateTSNs[i] = binary.BigEndian.Uint32(c.Value[offset : offset+4])
			offset += 4
		}
	}
	return s, nil
}

// Less reports whether a precedes b in 32-bit serial number arithmetic
// (RFC 1982), so comparisons survive TSN wrap-around.
func Less(a, b uint32) bool {
	return a != b && b-a < 1<<31
}
