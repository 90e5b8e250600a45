package signaling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rtcdc/internal/association"
	"github.com/1ureka/rtcdc/internal/sdp"
)

func startPair(t *testing.T) (host, client *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	srv := NewServer("")
	t.Cleanup(srv.Close)
	assert.Len(t, srv.PIN(), PINLength)

	port, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)

	client, err = Connect(ctx, fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=%s", port, srv.PIN()))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	host, err = srv.WaitForClient(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })
	return host, client
}

func params(t *testing.T, port uint16) sdp.Params {
	t.Helper()
	cfg := association.DefaultConfig()
	cfg.LocalPort = port
	p, err := sdp.NewParams(cfg, sdp.NewFingerprint([]byte(fmt.Sprint(port))))
	require.NoError(t, err)
	return p
}

func TestWrongPINRejected(t *testing.T) {
	srv := NewServer("1234")
	defer srv.Close()
	port, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)

	_, err = Connect(context.Background(), fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=0000", port))
	require.ErrorIs(t, err, ErrInvalidPIN)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func TestSecondClientTurnedAway(t *testing.T) {
	srv := NewServer("")
	defer srv.Close()
	port, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=%s", port, srv.PIN())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := Connect(ctx, url)
	require.NoError(t, err)
	defer first.Close()
	host, err := srv.WaitForClient(ctx)
	require.NoError(t, err)
	defer host.Close()

	second, err := Connect(ctx, url)
	require.NoError(t, err)
	defer second.Close()
	_, _, err = second.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestGeneratePIN(t *testing.T) {
	for range 20 {
		pin := GeneratePIN(6)
		require.Len(t, pin, 6)
		for _, r := range pin {
			assert.True(t, r >= '0' && r <= '9', "pin %q", pin)
		}
	}
}

func TestExchange(t *testing.T) {
	host, client := startPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	offerer, answerer := NewPeer(host), NewPeer(client)
	local := params(t, 5000)

	cand, err := sdp.NewHostCandidate("192.168.0.9", 41000)
	require.NoError(t, err)

	type result struct {
		remote sdp.Params
		err    error
	}
	answerLocal := params(t, 5001)
	done := make(chan result, 1)
	go func() {
		remote, err := ExchangeAsAnswerer(ctx, answerer, answerLocal)
		done <- result{remote, err}
	}()

	require.NoError(t, SendCandidate(offerer, cand))
	remote, err := ExchangeAsOfferer(ctx, offerer, local)
	require.NoError(t, err)
	assert.Equal(t, uint16(5001), remote.SCTPPort)
	assert.Equal(t, sdp.SetupActive, remote.Setup)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, uint16(5000), res.remote.SCTPPort)
	assert.Equal(t, local.ICEUfrag, res.remote.ICEUfrag)
	assert.Equal(t, local.Fingerprint, res.remote.Fingerprint)
	require.Len(t, res.remote.Candidates, 1, "trickled candidate joins the offer")
	assert.Equal(t, cand.String(), res.remote.Candidates[0].String())
}

func TestExchangeUnexpectedMessage(t *testing.T) {
	host, client := startPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hostLocal := params(t, 5000)
	go func() {
		_, _ = ExchangeAsOfferer(ctx, NewPeer(host), hostLocal)
	}()

	// Two offerers: the second one sees an offer where it wants an answer.
	_, err := ExchangeAsOfferer(ctx, NewPeer(client), params(t, 5001))
	require.ErrorIs(t, err, ErrUnexpectedMessage)
}

func TestReceiveCancelled(t *testing.T) {
	_, client := startPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPeer(client).Receive(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDatagramConn(t *testing.T) {
	host, client := startPair(t)
	a, b := NewDatagramConn(host), NewDatagramConn(client)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"candidate"}`)))
	require.NoError(t, b.WriteDatagram([]byte{1, 2, 3}))

	got, err := a.ReadDatagram()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got, "text frames are skipped")

	require.NoError(t, b.Close())
	_, err = a.ReadDatagram()
	require.ErrorIs(t, err, ErrClosed)
}
