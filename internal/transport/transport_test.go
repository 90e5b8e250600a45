package transport

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rtcdc/internal/association"
	"github.com/1ureka/rtcdc/internal/compress"
	"github.com/1ureka/rtcdc/internal/config"
	"github.com/1ureka/rtcdc/internal/datachannel"
)

var errPipeClosed = errors.New("pipe closed")

// pipeConn is one end of an in-memory datagram path.
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	peer   *pipeConn

	mu   sync.Mutex
	drop int // writes still to be discarded
}

func newPipe() (*pipeConn, *pipeConn) {
	ab, ba := make(chan []byte, 256), make(chan []byte, 256)
	a := &pipeConn{in: ba, out: ab, closed: make(chan struct{})}
	b := &pipeConn{in: ab, out: ba, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeConn) ReadDatagram() ([]byte, error) {
	select {
	case d := <-p.in:
		return d, nil
	case <-p.closed:
		return nil, errPipeClosed
	case <-p.peer.closed:
		select {
		case d := <-p.in:
			return d, nil
		default:
			return nil, errPipeClosed
		}
	}
}

func (p *pipeConn) WriteDatagram(data []byte) error {
	p.mu.Lock()
	if p.drop > 0 {
		p.drop--
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	select {
	case <-p.closed:
		return errPipeClosed
	case p.out <- slices.Clone(data):
		return nil
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func testConfig(role config.Role) config.Config {
	cfg := config.Default()
	cfg.Role = role
	cfg.HeartbeatInterval = 0
	cfg.Association.RTOInitialMS = 50
	return cfg
}

func collect(tr *Transport) <-chan datachannel.Event {
	ch := make(chan datachannel.Event, 64)
	tr.OnEvent(func(e datachannel.Event) { ch <- e })
	return ch
}

func next[T datachannel.Event](t *testing.T, events <-chan datachannel.Event) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if v, ok := e.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %T event", zero)
			return zero
		}
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not happen", what)
	}
}

func startPair(t *testing.T, offerCfg, answerCfg config.Config) (*Transport, *Transport, *pipeConn, *pipeConn) {
	t.Helper()
	a, b := newPipe()
	answerer, err := New(context.Background(), b, answerCfg)
	require.NoError(t, err)
	t.Cleanup(func() { answerer.Close() })
	offerer, err := New(context.Background(), a, offerCfg)
	require.NoError(t, err)
	t.Cleanup(func() { offerer.Close() })
	return offerer, answerer, a, b
}

func TestChatEndToEnd(t *testing.T) {
	offerer, answerer, _, _ := startPair(t, testConfig(config.RoleOfferer), testConfig(config.RoleAnswerer))
	offerEvents, answerEvents := collect(offerer), collect(answerer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := offerer.CreateChannel(ctx, "chat")
	require.NoError(t, err)
	assert.Equal(t, uint16(0), ch.ID)
	assert.Equal(t, datachannel.Connecting, ch.State)

	opened := next[datachannel.ChannelOpen](t, offerEvents)
	assert.Equal(t, "chat", opened.Channel.Label)
	remote := next[datachannel.ChannelOpen](t, answerEvents)
	assert.True(t, remote.Channel.Remote)

	require.NoError(t, offerer.SendText(0, "hi"))
	msg := next[datachannel.MessageReceived](t, answerEvents)
	assert.Equal(t, datachannel.MessageReceived{StreamID: 0, Label: "chat", Text: true, Data: []byte("hi")}, msg)

	require.NoError(t, answerer.SendBinary(0, []byte{}))
	empty := next[datachannel.MessageReceived](t, offerEvents)
	assert.False(t, empty.Text)
	assert.Empty(t, empty.Data)

	found, ok := answerer.FindChannel("chat")
	require.True(t, ok)
	assert.Equal(t, datachannel.Open, found.State)

	status := offerer.Status()
	assert.Equal(t, association.Established, status.Association.State)
	require.Len(t, status.Channels, 1)

	require.NoError(t, offerer.Close())
	waitClosed(t, answerer.Done(), "answerer shutdown")
	assert.NoError(t, offerer.Err())
	assert.NoError(t, answerer.Err())

	closed := next[datachannel.ChannelClosed](t, answerEvents)
	assert.Equal(t, uint16(0), closed.Channel.ID)

	require.ErrorIs(t, offerer.SendText(0, "late"), ErrClosed)
}

func TestHandshakeSurvivesLostInit(t *testing.T) {
	a, b := newPipe()
	a.drop = 1

	answerer, err := New(context.Background(), b, testConfig(config.RoleAnswerer))
	require.NoError(t, err)
	defer answerer.Close()
	offerer, err := New(context.Background(), a, testConfig(config.RoleOfferer))
	require.NoError(t, err)
	defer offerer.Close()

	waitClosed(t, offerer.Ready(), "offerer ready")
	waitClosed(t, answerer.Ready(), "answerer ready")
	assert.Equal(t, association.Established, offerer.Status().Association.State)
}

func TestPeerVanishes(t *testing.T) {
	offerer, answerer, _, b := startPair(t, testConfig(config.RoleOfferer), testConfig(config.RoleAnswerer))
	waitClosed(t, offerer.Ready(), "offerer ready")
	waitClosed(t, answerer.Ready(), "answerer ready")

	require.NoError(t, b.Close())
	waitClosed(t, offerer.Done(), "offerer teardown")
	require.ErrorIs(t, offerer.Err(), association.ErrAborted)
}

func TestCompressedTransfer(t *testing.T) {
	offerCfg, answerCfg := testConfig(config.RoleOfferer), testConfig(config.RoleAnswerer)
	offerCfg.Compression, answerCfg.Compression = compress.Zstd, compress.Zstd
	offerer, answerer, _, _ := startPair(t, offerCfg, answerCfg)
	offerEvents, answerEvents := collect(offerer), collect(answerer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := offerer.CreateChannel(ctx, "bulk", datachannel.WithNegotiated(8))
	require.NoError(t, err)
	_, err = answerer.CreateChannel(ctx, "bulk", datachannel.WithNegotiated(8))
	require.NoError(t, err)
	next[datachannel.ChannelOpen](t, offerEvents)
	next[datachannel.ChannelOpen](t, answerEvents)

	big := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	require.NoError(t, offerer.SendBinary(ch.ID, big))
	msg := next[datachannel.MessageReceived](t, answerEvents)
	assert.Equal(t, big, msg.Data)
}

func TestCancelBeforeHandshake(t *testing.T) {
	_, b := newPipe()
	ctx, cancel := context.WithCancel(context.Background())

	answerer, err := New(ctx, b, testConfig(config.RoleAnswerer))
	require.NoError(t, err)

	cancel()
	waitClosed(t, answerer.Done(), "answerer exit")
	assert.NoError(t, answerer.Err())

	_, err = answerer.CreateChannel(context.Background(), "never")
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, answerer.Close())
}

func TestInvalidRole(t *testing.T) {
	a, _ := newPipe()
	cfg := testConfig(config.RoleOfferer)
	cfg.Role = "observer"
	_, err := New(context.Background(), a, cfg)
	require.ErrorIs(t, err, config.ErrUnknownRole)
}

func TestHandlerEchoesUnderLoad(t *testing.T) {
	offerer, answerer, _, _ := startPair(t, testConfig(config.RoleOfferer), testConfig(config.RoleAnswerer))
	const total = 300

	// The first message stalls the handler long enough for a backlog
	// larger than any fixed buffer; every reply goes back through the loop.
	var stall sync.Once
	answerer.OnEvent(func(e datachannel.Event) {
		msg, ok := e.(datachannel.MessageReceived)
		if !ok {
			return
		}
		stall.Do(func() { time.Sleep(200 * time.Millisecond) })
		assert.NoError(t, answerer.SendText(msg.StreamID, string(msg.Data)))
	})

	opened := make(chan struct{})
	echoes := make(chan string, total)
	offerer.OnEvent(func(e datachannel.Event) {
		switch e := e.(type) {
		case datachannel.ChannelOpen:
			close(opened)
		case datachannel.MessageReceived:
			echoes <- string(e.Data)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := offerer.CreateChannel(ctx, "echo")
	require.NoError(t, err)
	waitClosed(t, opened, "channel open")

	for i := range total {
		require.NoError(t, offerer.SendText(ch.ID, strconv.Itoa(i)))
	}

	timeout := time.After(10 * time.Second)
	for i := range total {
		select {
		case got := <-echoes:
			require.Equal(t, strconv.Itoa(i), got)
		case <-timeout:
			t.Fatalf("received %d of %d echoes", i, total)
		}
	}
}
