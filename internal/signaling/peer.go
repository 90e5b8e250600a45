package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrUnexpectedMessage = errors.New("signaling: unexpected message")

// Peer serializes signaling messages on one WebSocket. Writes are guarded
// by a mutex; reads happen from one goroutine at a time.
type Peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewPeer wraps an established WebSocket.
func NewPeer(conn *websocket.Conn) *Peer {
	return &Peer{conn: conn}
}

// Conn returns the underlying WebSocket.
func (p *Peer) Conn() *websocket.Conn {
	return p.conn
}

// Send writes a signaling message to the WebSocket, guarded by a mutex.
func (p *Peer) Send(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// Receive reads the next signaling message. Cancelling ctx interrupts the
// read and leaves the socket unusable.
func (p *Peer) Receive(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() {
		p.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var msg Message
	if err := p.conn.ReadJSON(&msg); err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		return Message{}, fmt.Errorf("failed to read WS message: %w", err)
	}
	return msg, nil
}
