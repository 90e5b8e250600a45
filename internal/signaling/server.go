package signaling

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/randutil"

	"github.com/1ureka/rtcdc/internal/util"
)

const (
	// PINLength is the number of digits in a generated PIN.
	PINLength = 4

	pinDigits       = "0123456789"
	shutdownTimeout = 2 * time.Second
)

// ErrInvalidPIN is returned by Connect when the server refuses the PIN.
var ErrInvalidPIN = errors.New("signaling: invalid PIN")

// Server is the offerer-side signaling endpoint. It upgrades /ws requests
// that carry the right PIN and hands the first one to WaitForClient; later
// clients are turned away.
type Server struct {
	pin      string
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	connCh   chan *websocket.Conn
}

// NewServer creates a signaling server. An empty pin is replaced with a
// random one.
func NewServer(pin string) *Server {
	if pin == "" {
		pin = GeneratePIN(PINLength)
	}
	return &Server{
		pin: pin,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connCh: make(chan *websocket.Conn, 1),
	}
}

// PIN returns the PIN clients must present.
func (s *Server) PIN() string {
	return s.pin
}

// Start listens on addr (":0" picks a free port) and serves in the
// background. It returns the bound port.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogWarning("signaling server stopped: %v", err)
		}
	}()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if subtle.ConstantTimeCompare([]byte(pin), []byte(s.pin)) != 1 {
		util.LogDebug("rejected signaling client %s: invalid PIN", r.RemoteAddr)
		http.Error(w, "invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("upgrade %s: %v", r.RemoteAddr, err)
		return
	}

	select {
	case s.connCh <- conn:
		util.LogDebug("signaling client %s connected", r.RemoteAddr)
	default:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
	}
}

// WaitForClient blocks until a client connects or ctx is cancelled.
func (s *Server) WaitForClient(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting clients. Hijacked WebSocket connections are not
// tracked by the HTTP server, so an accepted client stays connected.
func (s *Server) Close() {
	if s.httpSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		util.LogDebug("signaling server shutdown: %v", err)
	}
}

// GeneratePIN returns a random numeric PIN of the given length.
func GeneratePIN(length int) string {
	pin, err := randutil.GenerateCryptoRandomString(length, pinDigits)
	if err != nil {
		panic(fmt.Sprintf("generate PIN: %v", err))
	}
	return pin
}
