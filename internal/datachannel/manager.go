package datachannel

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/pion/logging"

	"github.com/1ureka/rtcdc/internal/compress"
	"github.com/1ureka/rtcdc/internal/config"
	"github.com/1ureka/rtcdc/internal/dcep"
)

// Sender hands a message to the association. The association satisfies it.
type Sender interface {
	Send(streamID uint16, ppid dcep.PPID, payload []byte, unordered bool) error
}

// Option customizes a Manager.
type Option func(*Manager)

// WithCompression compresses outgoing application payloads with codec and
// unwraps compressed incoming payloads.
func WithCompression(codec *compress.Codec) Option {
	return func(m *Manager) { m.codec = codec }
}

// WithLoggerFactory sets the logger source.
func WithLoggerFactory(lf logging.LoggerFactory) Option {
	return func(m *Manager) { m.log = lf.NewLogger("datachannel") }
}

// WithMaxStreams bounds the stream ids the manager allocates.
func WithMaxStreams(n uint16) Option {
	return func(m *Manager) { m.maxStreams = n }
}

// Manager is the channel registry of one association. A single mutex
// guards the registry, the id counter, and the event queue.
type Manager struct {
	mu sync.Mutex

	role       config.Role
	sender     Sender
	codec      *compress.Codec
	log        logging.LeveledLogger
	maxStreams uint16

	channels map[uint16]*Channel
	nextID   uint16
	events   []Event
}

// NewManager creates an empty registry for role that sends through sender.
func NewManager(role config.Role, sender Sender, opts ...Option) *Manager {
	m := &Manager{
		role:       role,
		sender:     sender,
		maxStreams: math.MaxUint16,
		channels:   make(map[uint16]*Channel),
		nextID:     role.FirstStreamID(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logging.NewDefaultLoggerFactory().NewLogger("datachannel")
	}
	return m
}

// Role returns the role the manager allocates ids for.
func (m *Manager) Role() config.Role {
	return m.role
}

// CreateChannel opens a channel labelled label. Without WithNegotiated it
// takes the next free id of the manager's parity, starts Connecting, and
// sends an OPEN on that stream. A negotiated channel takes the given id and
// starts Open.
func (m *Manager) CreateChannel(label string, opts ...ChannelOption) (Channel, error) {
	cfg := channelConfig{typ: dcep.ChannelTypeReliable, priority: DefaultPriority}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(label) > math.MaxUint16 || len(cfg.protocol) > math.MaxUint16 {
		return Channel{}, ErrLabelTooLong
	}
	if !cfg.typ.Known() {
		return Channel{}, fmt.Errorf("%s: %w", cfg.typ, ErrInvalidChannelType)
	}
	if !cfg.typ.PartialReliable() {
		cfg.param = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ch := &Channel{
		Label:                label,
		Protocol:             cfg.protocol,
		Type:                 cfg.typ,
		ReliabilityParameter: cfg.param,
		Priority:             cfg.priority,
	}

	if cfg.negotiated {
		if cfg.id >= m.maxStreams {
			return Channel{}, fmt.Errorf("stream %d of %d: %w", cfg.id, m.maxStreams, ErrInvalidStreamID)
		}
		if m.inUse(cfg.id) {
			return Channel{}, fmt.Errorf("stream %d: %w", cfg.id, ErrStreamInUse)
		}
		ch.ID = cfg.id
		ch.Negotiated = true
		ch.State = Open
		m.channels[ch.ID] = ch
		m.log.Debugf("negotiated channel %q on stream %d", label, ch.ID)
		m.emit(ChannelOpen{Channel: *ch})
		return *ch, nil
	}

	id, err := m.allocateID()
	if err != nil {
		return Channel{}, err
	}
	ch.ID = id
	ch.State = Connecting

	open := &dcep.Open{
		ChannelType:          ch.Type,
		Priority:             ch.Priority,
		ReliabilityParameter: ch.ReliabilityParameter,
		Label:                ch.Label,
		Protocol:             ch.Protocol,
	}
	raw, err := open.Marshal()
	if err != nil {
		return Channel{}, fmt.Errorf("channel %q: %w", label, err)
	}
	if err := m.sender.Send(id, dcep.PPIDControl, raw, false); err != nil {
		return Channel{}, fmt.Errorf("send OPEN on stream %d: %w", id, err)
	}

	m.channels[id] = ch
	m.nextID = id + 2
	m.log.Debugf("channel %q opening on stream %d", label, id)
	return *ch, nil
}

// CloseChannel moves a channel to Closed. Closing an already closed
// channel does nothing.
func (m *Manager) CloseChannel(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[id]
	if !ok {
		return fmt.Errorf("stream %d: %w", id, ErrChannelNotFound)
	}
	m.close(ch)
	return nil
}

// CloseAll moves every live channel to Closing. Sends are refused from
// then on; Reset finishes the job once the association is gone.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.channels {
		if ch.State == Connecting || ch.State == Open {
			ch.State = Closing
		}
	}
}

// SendText sends a UTF-8 message.
func (m *Manager) SendText(id uint16, text string) error {
	return m.send(id, []byte(text), true)
}

// SendBinary sends a binary message.
func (m *Manager) SendBinary(id uint16, data []byte) error {
	return m.send(id, data, false)
}

func (m *Manager) send(id uint16, payload []byte, text bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[id]
	if !ok {
		return fmt.Errorf("stream %d: %w", id, ErrChannelNotFound)
	}
	switch ch.State {
	case Connecting:
		return fmt.Errorf("channel %q: %w", ch.Label, ErrChannelNotOpen)
	case Closing, Closed:
		return fmt.Errorf("channel %q: %w", ch.Label, ErrChannelClosed)
	}

	ppid := dcep.PPIDForBinary(payload)
	if text {
		ppid = dcep.PPIDForText(payload)
	}

	wire := payload
	switch {
	case len(payload) == 0:
		wire = dcep.EmptyPayload
	case m.codec != nil:
		out, compressed, err := m.codec.Compress(payload)
		if err != nil {
			return fmt.Errorf("compress: %w", err)
		}
		if compressed {
			m.log.Tracef("stream %d: compressed %d -> %d bytes", id, len(payload), len(out))
		}
		wire = out
	}

	return m.sender.Send(id, ppid, wire, ch.Type.Unordered())
}

// HandleData routes one reassembled DATA payload by its PPID. DCEP messages
// drive the channel handshake; application PPIDs become MessageReceived
// events; anything else is dropped. Decode errors are returned for the
// caller to log.
func (m *Manager) HandleData(streamID uint16, ppid dcep.PPID, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case ppid == dcep.PPIDControl:
		return m.handleControl(streamID, payload)
	case ppid.IsApplication():
		return m.handleMessage(streamID, ppid, payload)
	default:
		m.log.Debugf("dropping %d bytes with %s on stream %d", len(payload), ppid, streamID)
		return nil
	}
}

func (m *Manager) handleControl(streamID uint16, payload []byte) error {
	msg, err := dcep.Parse(payload)
	if err != nil {
		return fmt.Errorf("stream %d: %w", streamID, err)
	}

	switch msg := msg.(type) {
	case *dcep.Open:
		if m.role.Owns(streamID) {
			return fmt.Errorf("peer OPEN on stream %d of our parity: %w", streamID, ErrInvalidStreamID)
		}
		if m.inUse(streamID) {
			return fmt.Errorf("peer OPEN on stream %d: %w", streamID, ErrStreamInUse)
		}

		ch := &Channel{
			ID:                   streamID,
			Label:                msg.Label,
			Protocol:             msg.Protocol,
			Type:                 msg.ChannelType,
			ReliabilityParameter: msg.ReliabilityParameter,
			Priority:             msg.Priority,
			Remote:               true,
			State:                Open,
		}
		m.channels[streamID] = ch
		m.log.Debugf("peer opened channel %q on stream %d", ch.Label, streamID)
		m.emit(ChannelOpen{Channel: *ch})

		ack, err := (&dcep.Ack{}).Marshal()
		if err != nil {
			return err
		}
		if err := m.sender.Send(streamID, dcep.PPIDControl, ack, false); err != nil {
			return fmt.Errorf("send ACK on stream %d: %w", streamID, err)
		}

	case *dcep.Ack:
		ch, ok := m.channels[streamID]
		if !ok || ch.State != Connecting {
			m.log.Debugf("ignoring ACK on stream %d", streamID)
			return nil
		}
		m.markOpen(ch)
	}
	return nil
}

func (m *Manager) handleMessage(streamID uint16, ppid dcep.PPID, payload []byte) error {
	ch, ok := m.channels[streamID]
	if !ok {
		return fmt.Errorf("message on stream %d: %w", streamID, ErrChannelNotFound)
	}
	switch ch.State {
	case Connecting:
		// User data implies the peer accepted the OPEN even if its ACK was lost.
		m.markOpen(ch)
	case Closed:
		return fmt.Errorf("message on channel %q: %w", ch.Label, ErrChannelClosed)
	}

	data := []byte{}
	if !ppid.IsEmpty() {
		data = payload
		if m.codec != nil {
			var err error
			if data, err = m.codec.DecompressAuto(payload); err != nil {
				return fmt.Errorf("channel %q: %w", ch.Label, err)
			}
		}
	}

	m.emit(MessageReceived{
		StreamID: streamID,
		Label:    ch.Label,
		Text:     ppid.IsString(),
		Data:     data,
	})
	return nil
}

// GetChannel returns a snapshot of channel id.
func (m *Manager) GetChannel(id uint16) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[id]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// FindChannelByLabel returns the lowest-id channel labelled label that is
// not Closed.
func (m *Manager) FindChannelByLabel(label string) (Channel, bool) {
	for _, ch := range m.GetChannels() {
		if ch.Label == label && ch.State != Closed {
			return ch, true
		}
	}
	return Channel{}, false
}

// GetChannels returns snapshots of every channel sorted by id.
func (m *Manager) GetChannels() []Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, *ch)
	}
	slices.SortFunc(out, func(a, b Channel) int { return int(a.ID) - int(b.ID) })
	return out
}

// Reset discards every channel, emitting ChannelClosed for each one that
// was still live. Call it when the association dies.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint16, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		m.close(m.channels[id])
	}

	m.channels = make(map[uint16]*Channel)
	m.nextID = m.role.FirstStreamID()
}

// Events returns the events emitted since the last call.
func (m *Manager) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.events
	m.events = nil
	return out
}

// Status is the JSON projection of the registry.
type Status struct {
	Role     config.Role `json:"role"`
	Channels []Channel   `json:"channels"`
}

// Status returns the registry snapshot.
func (m *Manager) Status() Status {
	return Status{Role: m.role, Channels: m.GetChannels()}
}

// inUse reports whether id belongs to a channel that is not Closed.
// Closed ids may be taken again.
func (m *Manager) inUse(id uint16) bool {
	ch, ok := m.channels[id]
	return ok && ch.State != Closed
}

// allocateID finds the next free id of this role's parity, wrapping once
// around the id space.
func (m *Manager) allocateID() (uint16, error) {
	first := int(m.role.FirstStreamID())
	limit := int(m.maxStreams)
	candidate := int(m.nextID)
	for range limit/2 + 1 {
		if candidate >= limit {
			candidate = first
		}
		if !m.inUse(uint16(candidate)) {
			return uint16(candidate), nil
		}
		candidate += 2
	}
	return 0, ErrNoStreamAvailable
}

func (m *Manager) markOpen(ch *Channel) {
	ch.State = Open
	m.log.Debugf("channel %q open on stream %d", ch.Label, ch.ID)
	m.emit(ChannelOpen{Channel: *ch})
}

func (m *Manager) close(ch *Channel) {
	if ch.State == Closed {
		return
	}
	ch.State = Closed
	m.log.Debugf("channel %q closed on stream %d", ch.Label, ch.ID)
	m.emit(ChannelClosed{Channel: *ch})
}

func (m *Manager) emit(e Event) {
	m.events = append(m.events, e)
}
