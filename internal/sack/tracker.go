package sack

import (
	"container/heap"
	"math"
)

// maxDuplicates bounds the duplicate list reported in one SACK.
const maxDuplicates = 16

// Tracker records the TSNs an association has received and produces SACKs
// for them. Out-of-order TSNs wait in a min-heap until the cumulative TSN
// catches up with them. It is not safe for concurrent use; the owning
// association serializes access.
type Tracker struct {
	cumulative uint32
	pending    tsnHeap
	seen       map[uint32]struct{}
	duplicates []uint32
}

// NewTracker creates a tracker expecting initialTSN as the first TSN.
func NewTracker(initialTSN uint32) *Tracker {
	return &Tracker{
		cumulative: initialTSN - 1,
		seen:       make(map[uint32]struct{}),
	}
}

// Push records tsn. It returns false for a duplicate, which is remembered
// for the next SACK and must not be delivered again.
func (t *Tracker) Push(tsn uint32) bool {
	if !Less(t.cumulative, tsn) {
		t.addDuplicate(tsn)
		return false
	}
	if _, ok := t.seen[tsn]; ok {
		t.addDuplicate(tsn)
		return false
	}

	if tsn != t.cumulative+1 {
		// Future TSN: buffer it.
		t.seen[tsn] = struct{}{}
		heap.Push(&t.pending, tsn)
		return true
	}

	// tsn is the next expected one: advance and drain consecutive buffered TSNs.
	t.cumulative = tsn
	for t.pending.Len() > 0 && t.pending[0] == t.cumulative+1 {
		next := heap.Pop(&t.pending).(uint32)
		delete(t.seen, next)
		t.cumulative = next
	}
	return true
}

// CumulativeTSN returns the highest TSN below which nothing is missing.
// It never moves backwards.
func (t *Tracker) CumulativeTSN() uint32 {
	return t.cumulative
}

// Complete reports whether nothing is buffered beyond the cumulative TSN.
func (t *Tracker) Complete() bool {
	return t.pending.Len() == 0
}

// Sack builds a SACK describing the current reception state and clears the
// duplicate list.
func (t *Tracker) Sack(aRwnd uint32) Sack {
	s := CreateSackWithGaps(t.cumulative, aRwnd, t.gapBlocks())
	s.DuplicateTSNs = t.duplicates
	t.duplicates = nil
	return s
}

// gapBlocks turns the buffered TSNs into sorted runs relative to the
// cumulative TSN. TSNs too far ahead to express as a 16-bit offset are left
// out of this SACK; the peer retransmits them if needed.
func (t *Tracker) gapBlocks() []GapBlock {
	if t.pending.Len() == 0 {
		return nil
	}

	sorted := make(tsnHeap, len(t.pending))
	copy(sorted, t.pending)

	var blocks []GapBlock
	for sorted.Len() > 0 {
		offset := heap.Pop(&sorted).(uint32) - t.cumulative
		if offset > math.MaxUint16 {
			break
		}
		n := len(blocks)
		if n > 0 && uint32(blocks[n-1].End)+1 == offset {
			blocks[n-1].End = uint16(offset)
			continue
		}
		blocks = append(blocks, GapBlock{Start: uint16(offset), End: uint16(offset)})
	}
	return blocks
}

func (t *Tracker) addDuplicate(tsn uint32) {
	if len(t.duplicates) < maxDuplicates {
		t.duplicates = append(t.duplicates, tsn)
	}
}

type tsnHeap []uint32

func (h tsnHeap) Len() int           { return len(h) }
func (h tsnHeap) Less(i, j int) bool { return Less(h[i], h[j]) }
func (h tsnHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *tsnHeap) Push(x any)        { *h = append(*h, x.(uint32)) }

func (h *tsnHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
