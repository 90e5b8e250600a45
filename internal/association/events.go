package association

import "github.com/1ureka/rtcdc/internal/dcep"

// Event is something the association reports to its owner. Drain them with
// Events after every call that can change state.
type Event interface {
	event()
}

// EventEstablished is emitted once the handshake completes.
type EventEstablished struct{}

// EventMessage carries one fully reassembled user message.
type EventMessage struct {
	StreamID  uint16
	PPID      dcep.PPID
	Payload   []byte
	Unordered bool
}

// EventClosed is emitted exactly once when the association reaches Closed
// from a live state. Reason is nil after an orderly shutdown and wraps
// ErrAborted or ErrRetransmitExhausted otherwise.
type EventClosed struct {
	Reason error
}

func (EventEstablished) event() {}
func (EventMessage) event()     {}
func (EventClosed) event()      {}
