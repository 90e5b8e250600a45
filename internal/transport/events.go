package transport

import (
	"sync"

	"github.com/1ureka/rtcdc/internal/datachannel"
)

// eventQueue hands channel events from the loop to the deliver goroutine.
// push never blocks, so a slow handler cannot stall the loop, and a handler
// that calls back into the Transport cannot deadlock it.
type eventQueue struct {
	mu      sync.Mutex
	pending []datachannel.Event
	closed  bool
	wake    chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e datachannel.Event) {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.mu.Unlock()
	q.signal()
}

// close marks the end of the stream. Events already pushed are still
// delivered.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// take waits for events and returns all of them. It reports false once the
// queue is closed and drained.
func (q *eventQueue) take() ([]datachannel.Event, bool) {
	for {
		q.mu.Lock()
		batch, closed := q.pending, q.closed
		q.pending = nil
		q.mu.Unlock()

		if len(batch) > 0 {
			return batch, true
		}
		if closed {
			return nil, false
		}
		<-q.wake
	}
}
