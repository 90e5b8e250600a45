// Package transport runs one association over a datagram path. A single
// goroutine owns the association and its channel manager: it feeds inbound
// datagrams, executes application requests, drives the retransmission and
// heartbeat timers, and writes whatever the association queues.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/1ureka/rtcdc/internal/association"
	"github.com/1ureka/rtcdc/internal/compress"
	"github.com/1ureka/rtcdc/internal/config"
	"github.com/1ureka/rtcdc/internal/datachannel"
	"github.com/1ureka/rtcdc/internal/util"
)

const (
	inboxSize   = 64 // pending application requests
	datagramBuf = 64 // inbound datagrams read ahead of the loop

	maxRTO       = 60 * time.Second
	closeTimeout = 5 * time.Second // graceful shutdown before falling back to ABORT
)

var ErrClosed = errors.New("transport: closed")

// Conn is the datagram path the association runs on.
type Conn interface {
	ReadDatagram() ([]byte, error)
	WriteDatagram(data []byte) error
	Close() error
}

// Transport wraps one association and its channel manager behind a
// goroutine-safe API.
//
// Its lifecycle is governed by the association state and the context passed
// at construction time: cancelling ctx starts an orderly shutdown, and the
// loop exits once the association is Closed.
type Transport struct {
	conn  Conn
	cfg   config.Config
	assoc *association.Association
	mgr   *datachannel.Manager
	codec *compress.Codec
	log   logging.LeveledLogger

	inbox  chan func()
	events *eventQueue
	ready  chan struct{}
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	readyOnce sync.Once
	closeOnce sync.Once
	closeErr  error

	mu       sync.RWMutex
	handlers []func(datachannel.Event)
	reason   error
}

// New creates the association for cfg.Role, starts the loop on conn, and
// for the offerer sends INIT. Use Ready to wait for the handshake.
func New(ctx context.Context, conn Conn, cfg config.Config) (*Transport, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("role %q: %w", cfg.Role, config.ErrUnknownRole)
	}

	assocCfg := cfg.AssociationConfig()
	if assocCfg.LoggerFactory == nil {
		assocCfg.LoggerFactory = util.LoggerFactory{}
	}
	assoc, err := association.New(assocCfg)
	if err != nil {
		return nil, err
	}

	opts := []datachannel.Option{
		datachannel.WithLoggerFactory(assocCfg.LoggerFactory),
		datachannel.WithMaxStreams(assocCfg.NumOutboundStreams),
	}
	var codec *compress.Codec
	if cfg.Compression != compress.None {
		codec = compress.New(cfg.Compression)
		opts = append(opts, datachannel.WithCompression(codec))
	}

	tCtx, tCancel := context.WithCancel(ctx)
	t := &Transport{
		conn:   conn,
		cfg:    cfg,
		assoc:  assoc,
		mgr:    datachannel.NewManager(cfg.Role, assoc, opts...),
		codec:  codec,
		log:    assocCfg.LoggerFactory.NewLogger("transport"),
		inbox:  make(chan func(), inboxSize),
		events: newEventQueue(),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    tCtx,
		cancel: tCancel,
	}

	if cfg.Role == config.RoleOfferer {
		if err := assoc.Connect(); err != nil {
			tCancel()
			return nil, fmt.Errorf("connect: %w", err)
		}
	}

	in := make(chan inbound, datagramBuf)
	go t.read(in)
	go t.deliver()
	go t.run(in)

	return t, nil
}

// Ready returns a channel that is closed when the association is
// established.
func (t *Transport) Ready() <-chan struct{} {
	return t.ready
}

// Done returns a channel that is closed when the loop has exited.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns why the association closed, or nil after a graceful close.
func (t *Transport) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reason
}

// Close shuts the association down (gracefully when possible), waits for
// the loop to exit, and releases the datagram path.
func (t *Transport) Close() error {
	t.cancel()
	<-t.done
	return t.closeConn()
}

func (t *Transport) closeConn() error {
	t.closeOnce.Do(func() {
		if t.codec != nil {
			t.codec.Close()
		}
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// OnEvent registers fn for channel events. Handlers run in order on a
// dedicated goroutine and may call back into the Transport, including
// SendText and SendBinary.
func (t *Transport) OnEvent(fn func(datachannel.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, fn)
}

// CreateChannel waits for the association to be established, then opens a
// channel. A non-negotiated channel is usable after its ChannelOpen event.
func (t *Transport) CreateChannel(ctx context.Context, label string, opts ...datachannel.ChannelOption) (datachannel.Channel, error) {
	select {
	case <-t.ready:
	case <-t.done:
		return datachannel.Channel{}, ErrClosed
	case <-ctx.Done():
		return datachannel.Channel{}, ctx.Err()
	}

	var ch datachannel.Channel
	err := t.do(func() error {
		var err error
		ch, err = t.mgr.CreateChannel(label, opts...)
		return err
	})
	return ch, err
}

// SendText sends a text message on channel id.
func (t *Transport) SendText(id uint16, text string) error {
	return t.send(func() error { return t.mgr.SendText(id, text) })
}

// SendBinary sends a binary message on channel id.
func (t *Transport) SendBinary(id uint16, data []byte) error {
	return t.send(func() error { return t.mgr.SendBinary(id, data) })
}

func (t *Transport) send(fn func() error) error {
	if err := t.do(fn); err != nil {
		return err
	}
	util.Stats.AddMessageSent()
	return nil
}

// CloseChannel closes channel id.
func (t *Transport) CloseChannel(id uint16) error {
	return t.do(func() error { return t.mgr.CloseChannel(id) })
}

// FindChannel returns the live channel labelled label.
func (t *Transport) FindChannel(label string) (datachannel.Channel, bool) {
	return t.mgr.FindChannelByLabel(label)
}

// Status is the JSON snapshot of a transport.
type Status struct {
	Role        config.Role           `json:"role"`
	Association association.Status    `json:"association"`
	Channels    []datachannel.Channel `json:"channels"`
	Traffic     util.Snapshot         `json:"traffic"`
}

// Status returns the current snapshot.
func (t *Transport) Status() Status {
	return Status{
		Role:        t.cfg.Role,
		Association: t.assoc.Status(),
		Channels:    t.mgr.GetChannels(),
		Traffic:     util.Stats.Snapshot(),
	}
}

// do runs fn on the loop goroutine and returns its error.
func (t *Transport) do(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case t.inbox <- func() { errCh <- fn() }:
	case <-t.done:
		return ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-t.done:
		return ErrClosed
	}
}
