package association

import (
	"slices"

	"github.com/1ureka/rtcdc/internal/chunk"
	"github.com/1ureka/rtcdc/internal/sack"
)

// message is one reassembled user message.
type message struct {
	ppid      uint32
	payload   []byte
	unordered bool
}

// inboundStream reassembles fragments for one stream and releases ordered
// messages strictly by SSN. Unordered messages are released as soon as all
// their fragments are present.
type inboundStream struct {
	nextSSN   uint16
	ordered   map[uint16][]*chunk.Data
	ready     map[uint16]message
	unordered []*chunk.Data
}

func newInboundStream() *inboundStream {
	return &inboundStream{
		ordered: make(map[uint16][]*chunk.Data),
		ready:   make(map[uint16]message),
	}
}

// push buffers d and returns the messages it made deliverable.
func (s *inboundStream) push(d *chunk.Data) []message {
	if d.Unordered {
		s.unordered = insertByTSN(s.unordered, d)
		var out []message
		for {
			m, rest, ok := extractUnordered(s.unordered)
			if !ok {
				break
			}
			s.unordered = rest
			out = append(out, m)
		}
		return out
	}

	frags := insertByTSN(s.ordered[d.SSN], d)
	if m, ok := assemble(frags); ok {
		delete(s.ordered, d.SSN)
		s.ready[d.SSN] = m
	} else {
		s.ordered[d.SSN] = frags
	}

	var out []message
	for {
		m, ok := s.ready[s.nextSSN]
		if !ok {
			break
		}
		delete(s.ready, s.nextSSN)
		s.nextSSN++
		out = append(out, m)
	}
	return out
}

// buffered counts the user data bytes held back in this stream.
func (s *inboundStream) buffered() int {
	n := 0
	for _, frags := range s.ordered {
		for _, d := range frags {
			n += len(d.UserData)
		}
	}
	for _, m := range s.ready {
		n += len(m.payload)
	}
	for _, d := range s.unordered {
		n += len(d.UserData)
	}
	return n
}

func insertByTSN(frags []*chunk.Data, d *chunk.Data) []*chunk.Data {
	i, _ := slices.BinarySearchFunc(frags, d.TSN, func(f *chunk.Data, tsn uint32) int {
		switch {
		case f.TSN == tsn:
			return 0
		case sack.Less(f.TSN, tsn):
			return -1
		default:
			return 1
		}
	})
	return slices.Insert(frags, i, d)
}

// assemble joins frags when they form one complete message: the first
// carries B, the last carries E, and the TSNs are consecutive.
func assemble(frags []*chunk.Data) (message, bool) {
	if len(frags) == 0 || !frags[0].Beginning || !frags[len(frags)-1].Ending {
		return message{}, false
	}
	size := 0
	for i, d := range frags {
		if i > 0 && d.TSN != frags[i-1].TSN+1 {
			return message{}, false
		}
		size += len(d.UserData)
	}

	payload := make([]byte, 0, size)
	for _, d := range frags {
		payload = append(payload, d.UserData...)
	}
	return message{ppid: frags[0].PPID, payload: payload, unordered: frags[0].Unordered}, true
}

// extractUnordered finds the first complete B..E run in frags.
func extractUnordered(frags []*chunk.Data) (message, []*chunk.Data, bool) {
	for i := 0; i < len(frags); i++ {
		if !frags[i].Beginning {
			continue
		}
		for j := i; j < len(frags); j++ {
			if j > i && (frags[j].TSN != frags[j-1].TSN+1 || frags[j].Beginning) {
				break
			}
			if frags[j].Ending {
				m, _ := assemble(frags[i : j+1])
				return m, slices.Delete(frags, i, j+1), true
			}
		}
	}
	return message{}, frags, false
}
