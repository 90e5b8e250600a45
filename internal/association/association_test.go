package association

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rtcdc/internal/chunk"
	"github.com/1ureka/rtcdc/internal/dcep"
	"github.com/1ureka/rtcdc/internal/sack"
)

// fakeClock advances one millisecond on every reading.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestAssociation(t *testing.T) *Association {
	t.Helper()
	a, err := New(DefaultConfig())
	require.NoError(t, err)
	return a
}

// pump shuttles datagrams between a and b until both are quiet.
func pump(t *testing.T, a, b *Association) {
	t.Helper()
	for range 100 {
		fromA, fromB := a.Flush(), b.Flush()
		if len(fromA) == 0 && len(fromB) == 0 {
			return
		}
		for _, d := range fromA {
			require.NoError(t, b.HandleDatagram(d))
		}
		for _, d := range fromB {
			require.NoError(t, a.HandleDatagram(d))
		}
	}
	t.Fatal("datagram exchange did not settle")
}

func establishedPair(t *testing.T) (*Association, *Association) {
	t.Helper()
	a, b := newTestAssociation(t), newTestAssociation(t)
	require.NoError(t, a.Connect())
	pump(t, a, b)
	require.Equal(t, Established, a.State())
	require.Equal(t, Established, b.State())
	a.Events()
	b.Events()
	return a, b
}

func messages(events []Event) []EventMessage {
	var out []EventMessage
	for _, e := range events {
		if m, ok := e.(EventMessage); ok {
			out = append(out, m)
		}
	}
	return out
}

func TestHandshake(t *testing.T) {
	a, b := newTestAssociation(t), newTestAssociation(t)

	require.NoError(t, a.Connect())
	assert.Equal(t, CookieWait, a.State())

	// INIT: b answers statelessly.
	init := a.Flush()
	require.Len(t, init, 1)
	require.NoError(t, b.HandleDatagram(init[0]))
	assert.Equal(t, Closed, b.State())

	// INIT_ACK
	initAck := b.Flush()
	require.Len(t, initAck, 1)
	require.NoError(t, a.HandleDatagram(initAck[0]))
	assert.Equal(t, CookieEchoed, a.State())

	// COOKIE_ECHO
	echo := a.Flush()
	require.Len(t, echo, 1)
	require.NoError(t, b.HandleDatagram(echo[0]))
	assert.Equal(t, Established, b.State())

	// COOKIE_ACK
	ack := b.Flush()
	require.Len(t, ack, 1)
	require.NoError(t, a.HandleDatagram(ack[0]))
	assert.Equal(t, Established, a.State())

	assert.Equal(t, []Event{EventEstablished{}}, a.Events())
	assert.Equal(t, []Event{EventEstablished{}}, b.Events())

	sa, sb := a.Status(), b.Status()
	assert.Equal(t, sa.LocalTag, sb.PeerTag)
	assert.Equal(t, sb.LocalTag, sa.PeerTag)
	assert.False(t, a.HasOutstanding())
}

func TestDataExchange(t *testing.T) {
	a, b := establishedPair(t)

	large := bytes.Repeat([]byte("0123456789"), 300)
	require.NoError(t, a.Send(1, dcep.PPIDString, []byte("hello"), false))
	require.NoError(t, a.Send(1, dcep.PPIDBinary, large, false))
	require.NoError(t, a.Send(3, dcep.PPIDString, []byte("fast"), true))
	assert.True(t, a.HasOutstanding())

	pump(t, a, b)

	got := messages(b.Events())
	require.Len(t, got, 3)
	assert.Equal(t, EventMessage{StreamID: 1, PPID: dcep.PPIDString, Payload: []byte("hello")}, got[0])
	assert.Equal(t, EventMessage{StreamID: 1, PPID: dcep.PPIDBinary, Payload: large}, got[1])
	assert.Equal(t, EventMessage{StreamID: 3, PPID: dcep.PPIDString, Payload: []byte("fast"), Unordered: true}, got[2])

	assert.False(t, a.HasOutstanding(), "every DATA chunk should be acknowledged")
	assert.Equal(t, a.Status().NextTSN-1, b.Status().CumulativeTSN)

	// And back the other way.
	require.NoError(t, b.Send(2, dcep.PPIDBinary, []byte{1, 2, 3}, false))
	pump(t, a, b)
	back := messages(a.Events())
	require.Len(t, back, 1)
	assert.Equal(t, []byte{1, 2, 3}, back[0].Payload)
}

func TestFragmentsFitMTU(t *testing.T) {
	a, _ := establishedPair(t)

	require.NoError(t, a.Send(0, dcep.PPIDBinary, make([]byte, 5000), false))
	out := a.Flush()
	require.Greater(t, len(out), 1)
	for _, d := range out {
		assert.LessOrEqual(t, len(d), DefaultMTU)
	}
}

func TestOrderedDeliveryAfterLoss(t *testing.T) {
	a, b := establishedPair(t)

	require.NoError(t, a.Send(0, dcep.PPIDString, []byte("first"), false))
	require.NoError(t, a.Send(0, dcep.PPIDString, []byte("second"), false))
	out := a.Flush()
	require.Len(t, out, 2)

	// Lose the first datagram; the second must wait for it.
	require.NoError(t, b.HandleDatagram(out[1]))
	assert.Empty(t, messages(b.Events()))

	// The SACK reports a gap, so only "first" is retransmitted.
	sacks := b.Flush()
	require.Len(t, sacks, 1)
	require.NoError(t, a.HandleDatagram(sacks[0]))
	assert.True(t, a.HasOutstanding())

	require.NoError(t, a.OnRetransmitTimeout())
	resent := a.Flush()
	require.Len(t, resent, 1)
	require.NoError(t, b.HandleDatagram(resent[0]))

	got := messages(b.Events())
	require.Len(t, got, 2)
	assert.Equal(t, "first", string(got[0].Payload))
	assert.Equal(t, "second", string(got[1].Payload))

	pump(t, a, b)
	assert.False(t, a.HasOutstanding())
}

func TestDuplicateDataDeliveredOnce(t *testing.T) {
	a, b := establishedPair(t)

	require.NoError(t, a.Send(0, dcep.PPIDString, []byte("once"), false))
	out := a.Flush()
	require.Len(t, out, 1)

	require.NoError(t, b.HandleDatagram(out[0]))
	require.NoError(t, b.HandleDatagram(out[0]))
	assert.Len(t, messages(b.Events()), 1)
}

func TestShutdown(t *testing.T) {
	a, b := establishedPair(t)

	require.NoError(t, a.Send(0, dcep.PPIDString, []byte("bye"), false))
	require.NoError(t, a.Shutdown())
	assert.Equal(t, ShutdownPending, a.State(), "SHUTDOWN waits for outstanding data")

	pump(t, a, b)

	assert.Equal(t, Closed, a.State())
	assert.Equal(t, Closed, b.State())

	assert.Equal(t, []Event{EventClosed{}}, a.Events())
	bEvents := b.Events()
	require.Len(t, bEvents, 2)
	assert.Equal(t, "bye", string(bEvents[0].(EventMessage).Payload))
	assert.Equal(t, EventClosed{}, bEvents[1])

	assert.ErrorIs(t, a.Send(0, dcep.PPIDString, []byte("late"), false), ErrNotEstablished)
	assert.ErrorIs(t, a.Shutdown(), ErrInvalidTransition)
}

func TestAbort(t *testing.T) {
	a, b := establishedPair(t)

	a.Abort(errors.New("user left"))
	assert.Equal(t, Closed, a.State())

	events := a.Events()
	require.Len(t, events, 1)
	closed := events[0].(EventClosed)
	assert.ErrorIs(t, closed.Reason, ErrAborted)

	// Aborting again emits nothing.
	a.Abort(nil)
	assert.Empty(t, a.Events())

	out := a.Flush()
	require.Len(t, out, 1)
	require.NoError(t, b.HandleDatagram(out[0]))
	assert.Equal(t, Closed, b.State())

	events = b.Events()
	require.Len(t, events, 1)
	reason := events[0].(EventClosed).Reason
	assert.ErrorIs(t, reason, ErrAborted)
	assert.Contains(t, reason.Error(), "user left")
	assert.Empty(t, b.Flush(), "an ABORT is never answered")
}

func TestOnShutdownDuringHandshake(t *testing.T) {
	a := newTestAssociation(t)
	require.NoError(t, a.Connect())

	require.NoError(t, a.OnShutdown())
	assert.Equal(t, Closed, a.State())
	events := a.Events()
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].(EventClosed).Reason, ErrAborted)
}

func TestRetransmitExhausted(t *testing.T) {
	a := newTestAssociation(t)
	require.NoError(t, a.Connect())
	a.Flush()

	for i := range DefaultMaxRetransmits {
		require.NoError(t, a.OnRetransmitTimeout())
		require.Len(t, a.Flush(), 1, "retransmission %d should resend INIT", i+1)
		require.Equal(t, CookieWait, a.State())
	}

	require.NoError(t, a.OnRetransmitTimeout())
	assert.Equal(t, Closed, a.State())
	events := a.Events()
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].(EventClosed).Reason, ErrRetransmitExhausted)
	assert.False(t, a.HasOutstanding())
}

// cookieEcho runs the handshake up to the COOKIE_ECHO datagram.
func cookieEcho(t *testing.T, a, b *Association) []byte {
	t.Helper()
	require.NoError(t, a.Connect())
	for _, d := range a.Flush() {
		require.NoError(t, b.HandleDatagram(d))
	}
	for _, d := range b.Flush() {
		require.NoError(t, a.HandleDatagram(d))
	}
	out := a.Flush()
	require.Len(t, out, 1)
	return out[0]
}

func TestTamperedCookie(t *testing.T) {
	a, b := newTestAssociation(t), newTestAssociation(t)
	raw := cookieEcho(t, a, b)

	pkt, err := chunk.ParsePacket(raw)
	require.NoError(t, err)
	require.Equal(t, chunk.TypeCookieEcho, pkt.Chunks[0].Type)
	pkt.Chunks[0].Value[len(pkt.Chunks[0].Value)-1] ^= 0xFF
	tampered, err := pkt.Marshal()
	require.NoError(t, err)

	err = b.HandleDatagram(tampered)
	assert.ErrorIs(t, err, ErrInvalidCookie)
	assert.Equal(t, Closed, b.State())
	assert.Empty(t, b.Events())
	assert.Empty(t, b.Flush())
}

func TestStaleCookie(t *testing.T) {
	a, b := newTestAssociation(t), newTestAssociation(t)
	raw := cookieEcho(t, a, b)

	b.now = func() time.Time { return time.Now().Add(2 * DefaultCookieLifetime) }
	assert.ErrorIs(t, b.HandleDatagram(raw), ErrStaleCookie)
	assert.Equal(t, Closed, b.State())
}

func TestBadVerificationTag(t *testing.T) {
	a, b := establishedPair(t)

	require.NoError(t, a.Send(0, dcep.PPIDString, []byte("x"), false))
	out := a.Flush()
	require.Len(t, out, 1)

	pkt, err := chunk.ParsePacket(out[0])
	require.NoError(t, err)
	pkt.VerificationTag++
	forged, err := pkt.Marshal()
	require.NoError(t, err)

	assert.ErrorIs(t, b.HandleDatagram(forged), ErrBadVerificationTag)
	assert.Empty(t, b.Events())
}

func TestCorruptDatagram(t *testing.T) {
	_, b := establishedPair(t)

	assert.ErrorIs(t, b.HandleDatagram([]byte{1, 2, 3}), chunk.ErrTruncated)
	assert.Equal(t, Established, b.State(), "a corrupt datagram must not hurt the association")
}

func TestSendValidation(t *testing.T) {
	idle := newTestAssociation(t)
	assert.ErrorIs(t, idle.Send(0, dcep.PPIDString, []byte("x"), false), ErrNotEstablished)

	a, _ := establishedPair(t)
	assert.ErrorIs(t, a.Send(0, dcep.PPIDString, nil, false), ErrEmptyPayload)
	assert.ErrorIs(t, a.Send(0, dcep.PPIDBinary, make([]byte, DefaultMaxMessageSize+1), false), ErrMessageTooLarge)
	assert.ErrorIs(t, a.Send(65535, dcep.PPIDString, []byte("x"), false), ErrInvalidStream)
}

func TestHeartbeatRTT(t *testing.T) {
	a, b := establishedPair(t)
	clock := &fakeClock{t: time.Now()}
	a.now = clock.Now

	require.NoError(t, a.SendHeartbeat())
	pump(t, a, b)

	assert.Greater(t, a.RTT(), time.Duration(0))
	assert.Equal(t, Established, a.State())
	assert.Empty(t, a.Events())
}

func TestInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MTU = 20
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClosedAssociationStaysClosed(t *testing.T) {
	a, b, c := newTestAssociation(t), newTestAssociation(t), newTestAssociation(t)

	// b hands c a valid cookie, then goes live with a.
	staleEcho := cookieEcho(t, c, b)
	require.NoError(t, a.Connect())
	pump(t, a, b)
	require.Equal(t, Established, b.State())
	b.Events()

	a.Abort(errors.New("bye"))
	for _, d := range a.Flush() {
		require.NoError(t, b.HandleDatagram(d))
	}
	require.Equal(t, Closed, b.State())
	b.Events()

	assert.ErrorIs(t, b.HandleDatagram(staleEcho), ErrTerminated)

	d := newTestAssociation(t)
	require.NoError(t, d.Connect())
	for _, raw := range d.Flush() {
		assert.ErrorIs(t, b.HandleDatagram(raw), ErrTerminated)
	}

	assert.Equal(t, Closed, b.State())
	assert.Empty(t, b.Events(), "no second EventEstablished")
	assert.Empty(t, b.Flush(), "a terminated association answers nothing")
	assert.ErrorIs(t, b.Connect(), ErrTerminated)
	assert.ErrorIs(t, a.Connect(), ErrTerminated)
}

func TestReceiveWindowBoundsBuffering(t *testing.T) {
	a := newTestAssociation(t)
	cfg := DefaultConfig()
	cfg.ReceiveWindow = 4096
	b, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Connect())
	pump(t, a, b)
	require.Equal(t, Established, b.State())

	for range 20 {
		require.NoError(t, a.Send(0, dcep.PPIDBinary, make([]byte, 1000), false))
	}
	out := a.Flush()
	require.Len(t, out, 20)

	// Without the first message nothing can be delivered and the rest
	// piles up behind it.
	for _, d := range out[1:] {
		require.NoError(t, b.HandleDatagram(d))
		buffered := 0
		for _, s := range b.inbound {
			buffered += s.buffered()
		}
		assert.LessOrEqual(t, buffered, int(cfg.ReceiveWindow))
	}
	assert.Empty(t, messages(b.Events()))

	sacks := b.Flush()
	require.NotEmpty(t, sacks)
	last, err := chunk.ParsePacket(sacks[len(sacks)-1])
	require.NoError(t, err)
	s, err := sack.Parse(last.Chunks[0])
	require.NoError(t, err)
	assert.Less(t, s.ReceiverWindow, uint32(1000))
	for _, d := range sacks {
		require.NoError(t, a.HandleDatagram(d))
	}

	// The missing head drains the buffer; the dropped tail was never
	// acknowledged, so the sender still owns it.
	require.NoError(t, b.HandleDatagram(out[0]))
	assert.Len(t, messages(b.Events()), 5)
	pump(t, a, b)
	assert.True(t, a.HasOutstanding())

	require.NoError(t, a.OnRetransmitTimeout())
	pump(t, a, b)
	assert.Len(t, messages(b.Events()), 15)
	assert.False(t, a.HasOutstanding())
	assert.Equal(t, cfg.ReceiveWindow, b.window())
}

func TestAckAdvanceRestartsTimer(t *testing.T) {
	a, b := establishedPair(t)

	require.NoError(t, a.Send(0, dcep.PPIDString, []byte("one"), false))
	require.NoError(t, a.Send(0, dcep.PPIDString, []byte("two"), false))
	out := a.Flush()
	require.Len(t, out, 2)
	assert.False(t, a.AckAdvanced())

	require.NoError(t, b.HandleDatagram(out[0]))
	for _, d := range b.Flush() {
		require.NoError(t, a.HandleDatagram(d))
	}
	assert.True(t, a.AckAdvanced(), "new data acked with more still in flight")
	assert.False(t, a.AckAdvanced(), "the signal is consumed")

	require.NoError(t, b.HandleDatagram(out[1]))
	for _, d := range b.Flush() {
		require.NoError(t, a.HandleDatagram(d))
	}
	assert.False(t, a.AckAdvanced(), "nothing left to time")
	assert.False(t, a.HasOutstanding())
}
