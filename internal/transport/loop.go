package transport

import (
	"errors"
	"time"

	"github.com/1ureka/rtcdc/internal/association"
	"github.com/1ureka/rtcdc/internal/datachannel"
	"github.com/1ureka/rtcdc/internal/util"
)

// inbound is one read result. The error travels on the same channel as the
// data so the loop sees a peer's last datagrams before its close.
type inbound struct {
	data []byte
	err  error
}

// read pumps datagrams from the conn into the loop. It exits on the first
// read error, which the loop treats as loss of the path.
func (t *Transport) read(in chan<- inbound) {
	for {
		data, err := t.conn.ReadDatagram()
		select {
		case in <- inbound{data: data, err: err}:
		case <-t.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// deliver runs event handlers off the loop goroutine so they may call back
// into the Transport.
func (t *Transport) deliver() {
	for {
		batch, ok := t.events.take()
		if !ok {
			return
		}
		for _, e := range batch {
			t.mu.RLock()
			handlers := t.handlers
			t.mu.RUnlock()
			for _, fn := range handlers {
				fn(e)
			}
		}
	}
}

// run is the single goroutine that owns the association. Every iteration
// handles one input, then flushes outbound datagrams and events and
// re-arms the retransmission timer.
func (t *Transport) run(in <-chan inbound) {
	defer func() {
		close(t.done)
		t.events.close()
		if err := t.closeConn(); err != nil {
			t.log.Debugf("close datagram path: %v", err)
		}
	}()

	rtoInitial := t.cfg.Association.RTOInitial()
	rto := rtoInitial
	rtx := time.NewTimer(rto)
	rtx.Stop()
	armed := false

	var heartbeat <-chan time.Time
	if t.cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(t.cfg.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	ctxDone := t.ctx.Done()
	var linger <-chan time.Time
	started := t.assoc.State() != association.Closed

	for {
		t.flush()

		state := t.assoc.State()
		if state != association.Closed {
			started = true
		} else if started {
			return
		}

		// New data acknowledged while more is in flight restarts the
		// timer from the initial RTO.
		if advanced := t.assoc.AckAdvanced(); advanced && armed {
			rto = rtoInitial
			rtx.Reset(rto)
		}

		switch outstanding := t.assoc.HasOutstanding(); {
		case outstanding && !armed:
			rtx.Reset(rto)
			armed = true
		case !outstanding && armed:
			rtx.Stop()
			armed = false
			rto = rtoInitial
		}

		select {
		case r := <-in:
			if r.err != nil {
				t.log.Debugf("datagram path lost: %v", r.err)
				t.assoc.OnAbort()
				t.flush()
				return
			}
			util.Stats.AddRecv(len(r.data))
			if err := t.assoc.HandleDatagram(r.data); err != nil {
				t.log.Debugf("dropping datagram: %v", err)
			}

		case fn := <-t.inbox:
			fn()

		case <-rtx.C:
			armed = false
			if err := t.assoc.OnRetransmitTimeout(); err != nil {
				t.log.Warnf("retransmission: %v", err)
			}
			rto = min(rto*2, maxRTO)

		case <-heartbeat:
			if t.assoc.State() == association.Established {
				if err := t.assoc.SendHeartbeat(); err != nil {
					t.log.Debugf("heartbeat: %v", err)
				}
			}

		case <-ctxDone:
			ctxDone = nil
			if !started {
				return
			}
			t.mgr.CloseAll()
			if err := t.assoc.OnShutdown(); err != nil {
				t.log.Warnf("shutdown: %v", err)
			}
			linger = time.After(closeTimeout)

		case <-linger:
			t.log.Warnf("graceful shutdown timed out, aborting")
			t.assoc.Abort(errors.New("shutdown timed out"))
		}
	}
}

// flush writes queued datagrams and routes association events until both
// the association and the manager are quiet. Manager reactions (a DCEP
// ACK, say) queue more datagrams, hence the loop.
func (t *Transport) flush() {
	for {
		out := t.assoc.Flush()
		for _, d := range out {
			if err := t.conn.WriteDatagram(d); err != nil {
				t.log.Debugf("write datagram: %v", err)
				continue
			}
			util.Stats.AddSent(len(d))
		}

		events := t.assoc.Events()
		for _, e := range events {
			t.handleAssociationEvent(e)
		}

		for _, e := range t.mgr.Events() {
			t.publish(e)
		}

		if len(out) == 0 && len(events) == 0 {
			return
		}
	}
}

func (t *Transport) handleAssociationEvent(e association.Event) {
	switch e := e.(type) {
	case association.EventEstablished:
		t.readyOnce.Do(func() { close(t.ready) })
		t.log.Infof("association %s established", t.assoc.ID())

	case association.EventMessage:
		if err := t.mgr.HandleData(e.StreamID, e.PPID, e.Payload); err != nil {
			t.log.Debugf("stream %d: %v", e.StreamID, err)
		}

	case association.EventClosed:
		t.mu.Lock()
		t.reason = e.Reason
		t.mu.Unlock()
		if e.Reason != nil {
			t.log.Warnf("association closed: %v", e.Reason)
		} else {
			t.log.Infof("association closed")
		}
		t.mgr.Reset()
	}
}

func (t *Transport) publish(e datachannel.Event) {
	switch e.(type) {
	case datachannel.ChannelOpen:
		util.Stats.OpenChannel()
	case datachannel.ChannelClosed:
		util.Stats.CloseChannel()
	case datachannel.MessageReceived:
		util.Stats.AddMessageRecv()
	}
	t.events.push(e)
}
