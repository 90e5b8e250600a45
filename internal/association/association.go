// Package association implements an SCTP-style association: the four-way
// handshake, DATA send and receive with fragmentation and ordered delivery,
// SACK processing, and orderly or abrupt teardown.
//
// An Association never performs I/O. Inbound datagrams are fed through
// HandleDatagram; outbound datagrams are collected with Flush; timers are
// driven by the owner through OnRetransmitTimeout and SendHeartbeat.
package association

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/randutil"

	"github.com/1ureka/rtcdc/internal/chunk"
	"github.com/1ureka/rtcdc/internal/dcep"
	"github.com/1ureka/rtcdc/internal/sack"
)

// maxInboundStreams is the number of inbound streams advertised in INIT.
const maxInboundStreams = 65535

type inflight struct {
	data      *chunk.Data
	sentAt    time.Time
	transmits int
	gapAcked  bool
}

// effectContext carries the inputs an effect needs.
type effectContext struct {
	from   State
	init   *chunk.Init
	cookie *stateCookie
	reason error
	cause  string
}

// Association is one end of an association. A single mutex guards all of
// its state, so every method is safe for concurrent use.
type Association struct {
	mu sync.Mutex

	id  uuid.UUID
	cfg Config
	log logging.LeveledLogger
	rng randutil.MathRandomGenerator
	now func() time.Time

	state      State
	terminated bool
	cookieKey  []byte

	myTag        uint32
	peerTag      uint32
	myInitialTSN uint32
	nextTSN      uint32
	peerCumAck   uint32
	peerWindow   uint32
	outStreams   uint16
	inStreams    uint16

	initChunk chunk.Chunk
	cookie    []byte

	tracker  *sack.Tracker
	inbound  map[uint16]*inboundStream
	outSSN   map[uint16]uint16
	inflight []*inflight

	retransmits int
	rtt         time.Duration
	ackAdvanced bool

	outbound [][]byte
	events   []Event
}

// New creates an association in the Closed state.
func New(cfg Config) (*Association, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key := make([]byte, cookieKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cookie key: %w", err)
	}

	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	return &Association{
		id:        uuid.New(),
		cfg:       cfg,
		log:       lf.NewLogger("sctp"),
		rng:       randutil.NewMathRandomGenerator(),
		now:       time.Now,
		cookieKey: key,
		inbound:   make(map[uint16]*inboundStream),
		outSSN:    make(map[uint16]uint16),
	}, nil
}

// ID returns the association's unique identifier.
func (a *Association) ID() string {
	return a.id.String()
}

// Config returns the configuration the association was created with.
func (a *Association) Config() Config {
	return a.cfg
}

// State returns the current state.
func (a *Association) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// RTT returns the last measured round-trip time, or zero.
func (a *Association) RTT() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rtt
}

// Connect starts the handshake by sending INIT. An association that has
// already been torn down cannot be reused.
func (a *Association) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.terminated {
		return ErrTerminated
	}
	return a.fire(TriggerAssociate, &effectContext{})
}

// Send queues one message on streamID, fragmenting it to fit the MTU.
// Unordered messages bypass per-stream sequencing.
func (a *Association) Send(streamID uint16, ppid dcep.PPID, payload []byte, unordered bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != Established {
		return fmt.Errorf("send in %s: %w", a.state, ErrNotEstablished)
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > a.cfg.MaxMessageSize {
		return fmt.Errorf("%d bytes (max %d): %w", len(payload), a.cfg.MaxMessageSize, ErrMessageTooLarge)
	}
	if streamID >= a.outStreams {
		return fmt.Errorf("stream %d of %d: %w", streamID, a.outStreams, ErrInvalidStream)
	}

	var ssn uint16
	if !unordered {
		ssn = a.outSSN[streamID]
		a.outSSN[streamID] = ssn + 1
	}

	payload = slices.Clone(payload)
	size := a.cfg.maxFragment()
	now := a.now()
	chunks := make([]chunk.Chunk, 0, (len(payload)+size-1)/size)
	for off := 0; off < len(payload); off += size {
		end := min(off+size, len(payload))
		d := &chunk.Data{
			Unordered: unordered,
			Beginning: off == 0,
			Ending:    end == len(payload),
			TSN:       a.nextTSN,
			StreamID:  streamID,
			SSN:       ssn,
			PPID:      uint32(ppid),
			UserData:  payload[off:end],
		}
		a.nextTSN++
		a.inflight = append(a.inflight, &inflight{data: d, sentAt: now, transmits: 1})
		chunks = append(chunks, d.Chunk())
	}

	a.queue(a.peerTag, chunks...)
	return nil
}

// Shutdown starts an orderly teardown. SHUTDOWN goes out once everything
// in flight has been acknowledged.
func (a *Association) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.fire(TriggerShutdown, &effectContext{}); err != nil {
		return err
	}
	return a.checkDrained()
}

// Abort tears the association down immediately, telling the peer why.
// It is a no-op once Closed.
func (a *Association) Abort(reason error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ec := &effectContext{reason: ErrAborted}
	if reason != nil {
		ec.reason = fmt.Errorf("%w: %v", ErrAborted, reason)
		ec.cause = reason.Error()
	}
	_ = a.fire(TriggerAbort, ec)
}

// OnAbort forces Closed without notifying the peer, for when the datagram
// path itself is gone.
func (a *Association) OnAbort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.fire(TriggerRecvAbort, &effectContext{reason: fmt.Errorf("%w: transport closed", ErrAborted)})
}

// OnShutdown is the cancellation entry point. An established association
// shuts down in order; one still in the handshake is aborted.
func (a *Association) OnShutdown() error {
	switch a.State() {
	case Established:
		return a.Shutdown()
	case CookieWait, CookieEchoed:
		a.Abort(errors.New("cancelled during handshake"))
	}
	return nil
}

// OnRetransmitTimeout is called when the retransmission timer fires. It
// resends whatever is outstanding and counts the attempt; exceeding
// MaxRetransmits closes the association.
func (a *Association) OnRetransmitTimeout() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.hasOutstanding() {
		return nil
	}

	a.retransmits++
	if a.retransmits > a.cfg.MaxRetransmits {
		a.log.Warnf("[%s] giving up after %d retransmissions in %s", a.name(), a.cfg.MaxRetransmits, a.state)
		return a.fire(TriggerRetransmitExhausted, &effectContext{
			reason: fmt.Errorf("%d attempts in %s: %w", a.cfg.MaxRetransmits, a.state, ErrRetransmitExhausted),
		})
	}
	a.log.Debugf("[%s] retransmission %d/%d in %s", a.name(), a.retransmits, a.cfg.MaxRetransmits, a.state)

	switch a.state {
	case CookieWait:
		a.queue(0, a.initChunk)
	case CookieEchoed:
		a.queue(a.peerTag, chunk.CookieEcho(a.cookie))
	case ShutdownSent:
		a.queue(a.peerTag, (&chunk.Shutdown{CumulativeTSNAck: a.tracker.CumulativeTSN()}).Chunk())
	case ShutdownAckSent:
		a.queue(a.peerTag, chunk.ShutdownAck())
	}

	now := a.now()
	var chunks []chunk.Chunk
	for _, f := range a.inflight {
		if f.gapAcked {
			continue
		}
		f.transmits++
		f.sentAt = now
		chunks = append(chunks, f.data.Chunk())
	}
	a.queue(a.peerTag, chunks...)
	return nil
}

// SendHeartbeat queues a HEARTBEAT carrying the send time so the reply
// yields an RTT sample.
func (a *Association) SendHeartbeat() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state < Established {
		return fmt.Errorf("heartbeat in %s: %w", a.state, ErrNotEstablished)
	}
	info := binary.BigEndian.AppendUint64(nil, uint64(a.now().UnixNano()))
	a.queue(a.peerTag, (&chunk.Heartbeat{Info: info}).Chunk())
	return nil
}

// HasOutstanding reports whether something awaits acknowledgement and the
// retransmission timer should run.
func (a *Association) HasOutstanding() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasOutstanding()
}

// AckAdvanced reports whether a cumulative ack has moved forward while data
// was still outstanding since the last call. The owner restarts the
// retransmission timer when it does.
func (a *Association) AckAdvanced() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	advanced := a.ackAdvanced
	a.ackAdvanced = false
	return advanced
}

// Flush returns the datagrams queued since the last call.
func (a *Association) Flush() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.outbound
	a.outbound = nil
	return out
}

// Events returns the events emitted since the last call.
func (a *Association) Events() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.events
	a.events = nil
	return out
}

// HandleDatagram processes one inbound packet. Decode failures and chunks
// that are invalid in the current state are returned joined; the caller
// should log and drop them. One SACK is queued for every packet that
// carried DATA. Once the association has been torn down every packet is
// dropped with ErrTerminated.
func (a *Association) HandleDatagram(data []byte) error {
	pkt, err := chunk.ParsePacket(data)
	if err != nil {
		return fmt.Errorf("parse packet: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if pkt.DestinationPort != a.cfg.LocalPort || pkt.SourcePort != a.cfg.RemotePort {
		return fmt.Errorf("packet %d->%d, want %d->%d: %w",
			pkt.SourcePort, pkt.DestinationPort, a.cfg.RemotePort, a.cfg.LocalPort, ErrPortMismatch)
	}
	if a.terminated {
		return fmt.Errorf("%d chunks after teardown: %w", len(pkt.Chunks), ErrTerminated)
	}
	if len(pkt.Chunks) == 0 {
		return nil
	}
	if err := a.checkTag(pkt); err != nil {
		return err
	}

	var errs []error
	gotData := false
	for _, c := range pkt.Chunks {
		isData, err := a.handleChunk(pkt.VerificationTag, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Type, err))
		}
		gotData = gotData || isData
		if a.state == Closed && c.Type == chunk.TypeAbort {
			break
		}
	}

	if gotData && a.tracker != nil && a.state != Closed {
		a.queue(a.peerTag, a.tracker.Sack(a.window()).Chunk())
	}
	return errors.Join(errs...)
}

// checkTag validates the verification tag. INIT must travel alone with a
// zero tag; a COOKIE_ECHO is checked against the tag inside the cookie.
func (a *Association) checkTag(pkt *chunk.Packet) error {
	switch pkt.Chunks[0].Type {
	case chunk.TypeInit:
		if len(pkt.Chunks) != 1 || pkt.VerificationTag != 0 {
			return fmt.Errorf("INIT with tag %08x bundled with %d chunks: %w",
				pkt.VerificationTag, len(pkt.Chunks)-1, ErrBadVerificationTag)
		}
		return nil
	case chunk.TypeCookieEcho:
		return nil
	}
	if a.myTag == 0 || pkt.VerificationTag != a.myTag {
		return fmt.Errorf("tag %08x, want %08x: %w", pkt.VerificationTag, a.myTag, ErrBadVerificationTag)
	}
	return nil
}

func (a *Association) handleChunk(tag uint32, c chunk.Chunk) (bool, error) {
	switch c.Type {
	case chunk.TypeData:
		return true, a.handleData(c)
	case chunk.TypeInit:
		return false, a.handleInit(c, TriggerRecvInit)
	case chunk.TypeInitAck:
		return false, a.handleInit(c, TriggerRecvInitAck)
	case chunk.TypeSack:
		return false, a.handleSack(c)
	case chunk.TypeHeartbeat:
		return false, a.handleHeartbeat(c)
	case chunk.TypeCookieEcho:
		return false, a.handleCookieEcho(tag, c)
	case chunk.TypeCookieAck:
		return false, a.fire(TriggerRecvCookieAck, &effectContext{})
	case chunk.TypeShutdown:
		return false, a.handleShutdown(c)
	case chunk.TypeAbort:
		return false, a.handleAbort(c)
	case chunk.TypeError:
		return false, a.handleError(c)
	}

	// The 0x40 bit asks for the unrecognized chunk to be reported.
	a.log.Debugf("[%s] skipping %s", a.name(), c.Type)
	if uint8(c.Type)&0x40 != 0 && a.peerTag != 0 {
		raw, err := c.Marshal()
		if err == nil {
			a.queue(a.peerTag, chunk.OperationError(chunk.ErrorCause{Code: chunk.CauseUnrecognizedChunkType, Info: raw}))
		}
	}
	return false, nil
}

func (a *Association) handleInit(c chunk.Chunk, trigger Trigger) error {
	init, err := chunk.ParseInit(c)
	if err != nil {
		return err
	}
	return a.fire(trigger, &effectContext{init: init})
}

func (a *Association) handleCookieEcho(tag uint32, c chunk.Chunk) error {
	cookie, err := openCookie(a.cookieKey, c.Value, a.cfg.CookieLifetime, a.now())
	if err != nil {
		return err
	}
	if tag != cookie.LocalTag {
		return fmt.Errorf("packet tag %08x, cookie tag %08x: %w", tag, cookie.LocalTag, ErrBadVerificationTag)
	}
	if a.state == Established && cookie.LocalTag != a.myTag {
		return fmt.Errorf("cookie for tag %08x while established as %08x: %w", cookie.LocalTag, a.myTag, ErrBadVerificationTag)
	}
	return a.fire(TriggerRecvCookieEcho, &effectContext{cookie: cookie})
}

func (a *Association) handleData(c chunk.Chunk) error {
	d, err := chunk.ParseData(c)
	if err != nil {
		return err
	}
	if a.tracker == nil || a.state == Closed {
		return fmt.Errorf("DATA in %s: %w", a.state, ErrNotEstablished)
	}
	// Past the window only the next expected TSN gets in, so a full
	// reassembly buffer can still drain.
	if len(d.UserData) > int(a.window()) && d.TSN != a.tracker.CumulativeTSN()+1 {
		a.log.Tracef("[%s] receive window full, dropping TSN %d", a.name(), d.TSN)
		return nil
	}
	if !a.tracker.Push(d.TSN) {
		a.log.Tracef("[%s] duplicate TSN %d", a.name(), d.TSN)
		return nil
	}

	if d.StreamID >= a.inStreams {
		info := binary.BigEndian.AppendUint16(nil, d.StreamID)
		a.queue(a.peerTag, chunk.OperationError(chunk.ErrorCause{Code: chunk.CauseInvalidStreamID, Info: append(info, 0, 0)}))
		return nil
	}

	s, ok := a.inbound[d.StreamID]
	if !ok {
		s = newInboundStream()
		a.inbound[d.StreamID] = s
	}
	for _, m := range s.push(d) {
		a.events = append(a.events, EventMessage{
			StreamID:  d.StreamID,
			PPID:      dcep.PPID(m.ppid),
			Payload:   m.payload,
			Unordered: m.unordered,
		})
	}
	return nil
}

func (a *Association) handleSack(c chunk.Chunk) error {
	s, err := sack.Parse(c)
	if err != nil {
		return err
	}
	if a.state < Established {
		return nil
	}

	a.processCumAck(s.CumulativeTSN)
	for _, f := range a.inflight {
		if s.Acked(f.data.TSN) {
			f.gapAcked = true
		}
	}
	a.peerWindow = s.ReceiverWindow
	return a.checkDrained()
}

func (a *Association) handleShutdown(c chunk.Chunk) error {
	switch {
	case c.Flags&chunk.FlagShutdownComplete != 0:
		return a.fire(TriggerRecvShutdownComplete, &effectContext{})
	case c.Flags&chunk.FlagShutdownAck != 0:
		return a.fire(TriggerRecvShutdownAck, &effectContext{})
	}

	sd, err := chunk.ParseShutdown(c)
	if err != nil {
		return err
	}
	if a.state >= Established {
		a.processCumAck(sd.CumulativeTSNAck)
	}
	if err := a.fire(TriggerRecvShutdown, &effectContext{}); err != nil {
		return err
	}
	return a.checkDrained()
}

func (a *Association) handleAbort(c chunk.Chunk) error {
	reason := fmt.Errorf("%w by peer", ErrAborted)
	causes, err := chunk.ParseCauses(c)
	if err != nil {
		a.log.Debugf("[%s] unreadable ABORT causes: %v", a.name(), err)
	} else if len(causes) > 0 {
		reason = fmt.Errorf("%w by peer: %s", ErrAborted, causes[0])
	}
	return a.fire(TriggerRecvAbort, &effectContext{reason: reason})
}

func (a *Association) handleError(c chunk.Chunk) error {
	causes, err := chunk.ParseCauses(c)
	if err != nil {
		return err
	}
	for _, cause := range causes {
		a.log.Warnf("[%s] peer reported %s", a.name(), cause)
	}
	return nil
}

func (a *Association) handleHeartbeat(c chunk.Chunk) error {
	hb, err := chunk.ParseHeartbeat(c)
	if err != nil {
		return err
	}
	if !hb.Ack {
		if a.peerTag != 0 {
			a.queue(a.peerTag, (&chunk.Heartbeat{Ack: true, Info: hb.Info}).Chunk())
		}
		return nil
	}

	if len(hb.Info) == 8 {
		sent := time.Unix(0, int64(binary.BigEndian.Uint64(hb.Info)))
		a.rtt = a.now().Sub(sent)
		a.log.Tracef("[%s] heartbeat rtt %s", a.name(), a.rtt)
	}
	a.retransmits = 0
	return nil
}

// fire runs trigger through the transition table and performs the
// resulting effects. On an invalid transition nothing changes.
func (a *Association) fire(trigger Trigger, ec *effectContext) error {
	next, effects, err := Transition(a.state, trigger)
	if err != nil {
		return err
	}
	ec.from = a.state
	a.setState(next)
	for _, e := range effects {
		if err := a.perform(e, ec); err != nil {
			return err
		}
	}
	return nil
}

func (a *Association) perform(e Effect, ec *effectContext) error {
	switch e {
	case EffectSendInit:
		a.myTag = a.randomTag()
		a.myInitialTSN = a.rng.Uint32()
		a.nextTSN = a.myInitialTSN
		a.peerCumAck = a.myInitialTSN - 1
		a.initChunk = (&chunk.Init{
			InitiateTag:        a.myTag,
			ReceiverWindow:     a.cfg.ReceiveWindow,
			NumOutboundStreams: a.cfg.NumOutboundStreams,
			NumInboundStreams:  maxInboundStreams,
			InitialTSN:         a.myInitialTSN,
		}).Chunk(false)
		a.queue(0, a.initChunk)

	case EffectSendInitAck:
		// A fresh INIT while Closed gets fresh values; during our own
		// handshake the peer must see the tag and TSN we already chose.
		tag, tsn := a.randomTag(), a.rng.Uint32()
		if ec.from == CookieWait || ec.from == CookieEchoed {
			tag, tsn = a.myTag, a.myInitialTSN
		}
		cookie, err := sealCookie(a.cookieKey, &stateCookie{
			LocalTag:        tag,
			PeerTag:         ec.init.InitiateTag,
			LocalInitialTSN: tsn,
			PeerInitialTSN:  ec.init.InitialTSN,
			PeerWindow:      ec.init.ReceiverWindow,
			PeerOutbound:    ec.init.NumOutboundStreams,
			PeerInbound:     ec.init.NumInboundStreams,
			CreatedMS:       a.now().UnixMilli(),
		})
		if err != nil {
			return err
		}
		a.queue(ec.init.InitiateTag, (&chunk.Init{
			InitiateTag:        tag,
			ReceiverWindow:     a.cfg.ReceiveWindow,
			NumOutboundStreams: a.cfg.NumOutboundStreams,
			NumInboundStreams:  maxInboundStreams,
			InitialTSN:         tsn,
			Cookie:             cookie,
		}).Chunk(true))

	case EffectSendCookieEcho:
		a.peerTag = ec.init.InitiateTag
		a.learnPeer(ec.init.InitialTSN, ec.init.ReceiverWindow, ec.init.NumOutboundStreams, ec.init.NumInboundStreams)
		a.cookie = ec.init.Cookie
		a.retransmits = 0
		a.queue(a.peerTag, chunk.CookieEcho(a.cookie))

	case EffectSendCookieAck:
		if ec.from != Established {
			c := ec.cookie
			a.myTag, a.peerTag = c.LocalTag, c.PeerTag
			a.myInitialTSN = c.LocalInitialTSN
			a.nextTSN = c.LocalInitialTSN
			a.peerCumAck = c.LocalInitialTSN - 1
			a.learnPeer(c.PeerInitialTSN, c.PeerWindow, c.PeerOutbound, c.PeerInbound)
		}
		a.queue(a.peerTag, chunk.CookieAck())

	case EffectSendShutdown:
		a.queue(a.peerTag, (&chunk.Shutdown{CumulativeTSNAck: a.tracker.CumulativeTSN()}).Chunk())

	case EffectSendShutdownAck:
		a.queue(a.peerTag, chunk.ShutdownAck())

	case EffectSendShutdownComplete:
		a.queue(a.peerTag, chunk.ShutdownComplete())

	case EffectSendAbort:
		if a.peerTag != 0 {
			a.queue(a.peerTag, chunk.Abort(chunk.ErrorCause{Code: chunk.CauseUserInitiatedAbort, Info: []byte(ec.cause)}))
		}

	case EffectDiscard:
		a.inflight = nil
		a.inbound = make(map[uint16]*inboundStream)
		a.outSSN = make(map[uint16]uint16)
		a.cookie = nil

	case EffectNotifyUp:
		a.retransmits = 0
		a.log.Infof("[%s] association established (local tag %08x, peer tag %08x)", a.name(), a.myTag, a.peerTag)
		a.events = append(a.events, EventEstablished{})

	case EffectNotifyDown:
		if ec.reason != nil {
			a.log.Infof("[%s] association closed: %v", a.name(), ec.reason)
		} else {
			a.log.Infof("[%s] association closed", a.name())
		}
		a.events = append(a.events, EventClosed{Reason: ec.reason})
	}
	return nil
}

func (a *Association) setState(next State) {
	if a.state != next {
		a.log.Debugf("[%s] state change: '%s' => '%s'", a.name(), a.state, next)
		a.terminated = a.terminated || next == Closed
		a.state = next
	}
}

func (a *Association) learnPeer(initialTSN, window uint32, outbound, inbound uint16) {
	a.tracker = sack.NewTracker(initialTSN)
	a.peerWindow = window
	a.outStreams = min(a.cfg.NumOutboundStreams, inbound)
	a.inStreams = min(maxInboundStreams, outbound)
}

// processCumAck drops every in-flight chunk covered by cum. A cumulative
// ack behind the current one is stale and ignored.
func (a *Association) processCumAck(cum uint32) {
	if sack.Less(cum, a.peerCumAck) {
		return
	}
	advanced := sack.Less(a.peerCumAck, cum)
	if advanced {
		a.retransmits = 0
	}
	a.peerCumAck = cum

	n := 0
	for n < len(a.inflight) && !sack.Less(cum, a.inflight[n].data.TSN) {
		if f := a.inflight[n]; f.transmits == 1 {
			a.rtt = a.now().Sub(f.sentAt)
		}
		n++
	}
	a.inflight = a.inflight[n:]
	a.ackAdvanced = a.ackAdvanced || (advanced && len(a.inflight) > 0)
}

func (a *Association) checkDrained() error {
	if len(a.inflight) > 0 {
		return nil
	}
	if a.state == ShutdownPending || a.state == ShutdownReceived {
		return a.fire(TriggerOutstandingDrained, &effectContext{})
	}
	return nil
}

func (a *Association) hasOutstanding() bool {
	switch a.state {
	case Closed:
		return false
	case CookieWait, CookieEchoed, ShutdownSent, ShutdownAckSent:
		return true
	}
	return len(a.inflight) > 0
}

// window is the receive window left after the bytes held for reassembly.
func (a *Association) window() uint32 {
	buffered := 0
	for _, s := range a.inbound {
		buffered += s.buffered()
	}
	if buffered >= int(a.cfg.ReceiveWindow) {
		return 0
	}
	return a.cfg.ReceiveWindow - uint32(buffered)
}

// queue bundles chunks into as few packets as fit the MTU.
func (a *Association) queue(tag uint32, chunks ...chunk.Chunk) {
	if len(chunks) == 0 {
		return
	}
	pkt := a.newPacket(tag)
	size := chunk.CommonHeaderSize
	for _, c := range chunks {
		if len(pkt.Chunks) > 0 && size+c.PaddedLen() > a.cfg.MTU {
			a.emit(pkt)
			pkt = a.newPacket(tag)
			size = chunk.CommonHeaderSize
		}
		pkt.Chunks = append(pkt.Chunks, c)
		size += c.PaddedLen()
	}
	a.emit(pkt)
}

func (a *Association) newPacket(tag uint32) *chunk.Packet {
	return &chunk.Packet{
		SourcePort:      a.cfg.LocalPort,
		DestinationPort: a.cfg.RemotePort,
		VerificationTag: tag,
	}
}

func (a *Association) emit(pkt *chunk.Packet) {
	raw, err := pkt.Marshal()
	if err != nil {
		a.log.Errorf("[%s] marshal packet: %v", a.name(), err)
		return
	}
	a.outbound = append(a.outbound, raw)
}

func (a *Association) randomTag() uint32 {
	for {
		if tag := a.rng.Uint32(); tag != 0 {
			return tag
		}
	}
}

func (a *Association) name() string {
	return a.id.String()[:8]
}

// Status is a JSON-friendly snapshot of the association.
type Status struct {
	ID                string  `json:"id"`
	State             State   `json:"state"`
	LocalPort         uint16  `json:"local_port"`
	RemotePort        uint16  `json:"remote_port"`
	LocalTag          uint32  `json:"local_tag"`
	PeerTag           uint32  `json:"peer_tag"`
	NextTSN           uint32  `json:"next_tsn"`
	PeerCumulativeAck uint32  `json:"peer_cumulative_ack"`
	CumulativeTSN     uint32  `json:"cumulative_tsn"`
	Inflight          int     `json:"inflight"`
	PeerWindow        uint32  `json:"peer_window"`
	Retransmits       int     `json:"retransmits"`
	RTTMillis         float64 `json:"rtt_ms"`
}

// Status returns a snapshot of the association.
func (a *Association) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Status{
		ID:                a.id.String(),
		State:             a.state,
		LocalPort:         a.cfg.LocalPort,
		RemotePort:        a.cfg.RemotePort,
		LocalTag:          a.myTag,
		PeerTag:           a.peerTag,
		NextTSN:           a.nextTSN,
		PeerCumulativeAck: a.peerCumAck,
		Inflight:          len(a.inflight),
		PeerWindow:        a.peerWindow,
		Retransmits:       a.retransmits,
		RTTMillis:         float64(a.rtt) / float64(time.Millisecond),
	}
	if a.tracker != nil {
		s.CumulativeTSN = a.tracker.CumulativeTSN()
	}
	return s
}
