package signaling

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/rtcdc/internal/util"
)

// ErrClosed reports that the peer closed the datagram path.
var ErrClosed = errors.New("signaling: datagram path closed")

// DatagramConn carries association datagrams as binary WebSocket messages
// once signaling is over. Text frames (late trickled candidates) are
// skipped.
type DatagramConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewDatagramConn takes over conn. Nothing else may read from it afterwards.
func NewDatagramConn(conn *websocket.Conn) *DatagramConn {
	return &DatagramConn{conn: conn}
}

// ReadDatagram blocks for the next binary message. A normal close from
// the peer returns ErrClosed.
func (d *DatagramConn) ReadDatagram() ([]byte, error) {
	for {
		typ, data, err := d.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("read datagram: %w", err)
		}
		if typ != websocket.BinaryMessage {
			util.LogDebug("skipping %d-byte non-binary frame on datagram path", len(data))
			continue
		}
		return data, nil
	}
}

// WriteDatagram sends one datagram.
func (d *DatagramConn) WriteDatagram(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close sends a close frame and closes the socket.
func (d *DatagramConn) Close() error {
	d.mu.Lock()
	_ = d.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	d.mu.Unlock()
	return d.conn.Close()
}
