package association

import "fmt"

// State is the association state.
type State uint8

const (
	Closed State = iota
	CookieWait
	CookieEchoed
	Established
	ShutdownPending
	ShutdownSent
	ShutdownReceived
	ShutdownAckSent
)

// States lists every state in declaration order.
var States = []State{
	Closed, CookieWait, CookieEchoed, Established,
	ShutdownPending, ShutdownSent, ShutdownReceived, ShutdownAckSent,
}

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case CookieWait:
		return "CookieWait"
	case CookieEchoed:
		return "CookieEchoed"
	case Established:
		return "Established"
	case ShutdownPending:
		return "ShutdownPending"
	case ShutdownSent:
		return "ShutdownSent"
	case ShutdownReceived:
		return "ShutdownReceived"
	case ShutdownAckSent:
		return "ShutdownAckSent"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Trigger is an input to the state machine: a user request, a received
// chunk, or a condition reported by the send side.
type Trigger uint8

const (
	TriggerAssociate Trigger = iota
	TriggerRecvInit
	TriggerRecvInitAck
	TriggerRecvCookieEcho
	TriggerRecvCookieAck
	TriggerShutdown
	TriggerRecvShutdown
	TriggerRecvShutdownAck
	TriggerRecvShutdownComplete
	TriggerOutstandingDrained
	TriggerRecvAbort
	TriggerAbort
	TriggerRetransmitExhausted
)

// Triggers lists every trigger in declaration order.
var Triggers = []Trigger{
	TriggerAssociate, TriggerRecvInit, TriggerRecvInitAck, TriggerRecvCookieEcho,
	TriggerRecvCookieAck, TriggerShutdown, TriggerRecvShutdown, TriggerRecvShutdownAck,
	TriggerRecvShutdownComplete, TriggerOutstandingDrained, TriggerRecvAbort,
	TriggerAbort, TriggerRetransmitExhausted,
}

func (t Trigger) String() string {
	switch t {
	case TriggerAssociate:
		return "Associate"
	case TriggerRecvInit:
		return "RecvInit"
	case TriggerRecvInitAck:
		return "RecvInitAck"
	case TriggerRecvCookieEcho:
		return "RecvCookieEcho"
	case TriggerRecvCookieAck:
		return "RecvCookieAck"
	case TriggerShutdown:
		return "Shutdown"
	case TriggerRecvShutdown:
		return "RecvShutdown"
	case TriggerRecvShutdownAck:
		return "RecvShutdownAck"
	case TriggerRecvShutdownComplete:
		return "RecvShutdownComplete"
	case TriggerOutstandingDrained:
		return "OutstandingDrained"
	case TriggerRecvAbort:
		return "RecvAbort"
	case TriggerAbort:
		return "Abort"
	case TriggerRetransmitExhausted:
		return "RetransmitExhausted"
	default:
		return fmt.Sprintf("Trigger(%d)", uint8(t))
	}
}

// Effect is an action the association performs after a transition.
type Effect uint8

const (
	EffectSendInit Effect = iota
	EffectSendInitAck
	EffectSendCookieEcho
	EffectSendCookieAck
	EffectSendShutdown
	EffectSendShutdownAck
	EffectSendShutdownComplete
	EffectSendAbort
	EffectDiscard
	EffectNotifyUp
	EffectNotifyDown
)

func (e Effect) String() string {
	switch e {
	case EffectSendInit:
		return "SendInit"
	case EffectSendInitAck:
		return "SendInitAck"
	case EffectSendCookieEcho:
		return "SendCookieEcho"
	case EffectSendCookieAck:
		return "SendCookieAck"
	case EffectSendShutdown:
		return "SendShutdown"
	case EffectSendShutdownAck:
		return "SendShutdownAck"
	case EffectSendShutdownComplete:
		return "SendShutdownComplete"
	case EffectSendAbort:
		return "SendAbort"
	case EffectDiscard:
		return "Discard"
	case EffectNotifyUp:
		return "NotifyUp"
	case EffectNotifyDown:
		return "NotifyDown"
	default:
		return fmt.Sprintf("Effect(%d)", uint8(e))
	}
}

type transitionKey struct {
	from    State
	trigger Trigger
}

type transition struct {
	to      State
	effects []Effect
}

var transitions = map[transitionKey]transition{
	// Handshake.
	{Closed, TriggerAssociate}:            {CookieWait, []Effect{EffectSendInit}},
	{Closed, TriggerRecvInit}:             {Closed, []Effect{EffectSendInitAck}},
	{CookieWait, TriggerRecvInit}:         {CookieWait, []Effect{EffectSendInitAck}},
	{CookieEchoed, TriggerRecvInit}:       {CookieEchoed, []Effect{EffectSendInitAck}},
	{CookieWait, TriggerRecvInitAck}:      {CookieEchoed, []Effect{EffectSendCookieEcho}},
	{Closed, TriggerRecvCookieEcho}:       {Established, []Effect{EffectSendCookieAck, EffectNotifyUp}},
	{CookieWait, TriggerRecvCookieEcho}:   {Established, []Effect{EffectSendCookieAck, EffectNotifyUp}},
	{CookieEchoed, TriggerRecvCookieEcho}: {Established, []Effect{EffectSendCookieAck, EffectNotifyUp}},
	{Established, TriggerRecvCookieEcho}:  {Established, []Effect{EffectSendCookieAck}},
	{CookieEchoed, TriggerRecvCookieAck}:  {Established, []Effect{EffectNotifyUp}},
	{Established, TriggerRecvCookieAck}:   {Established, nil},

	// Local shutdown.
	{Established, TriggerShutdown}:               {ShutdownPending, nil},
	{ShutdownPending, TriggerOutstandingDrained}: {ShutdownSent, []Effect{EffectSendShutdown}},
	{ShutdownSent, TriggerRecvShutdown}:          {ShutdownAckSent, []Effect{EffectSendShutdownAck}},
	{ShutdownSent, TriggerRecvShutdownAck}:       {Closed, []Effect{EffectSendShutdownComplete, EffectDiscard, EffectNotifyDown}},

	// Peer shutdown.
	{Established, TriggerRecvShutdown}:             {ShutdownReceived, nil},
	{ShutdownPending, TriggerRecvShutdown}:         {ShutdownReceived, nil},
	{ShutdownReceived, TriggerRecvShutdown}:        {ShutdownReceived, nil},
	{ShutdownReceived, TriggerOutstandingDrained}:  {ShutdownAckSent, []Effect{EffectSendShutdownAck}},
	{ShutdownAckSent, TriggerRecvShutdown}:         {ShutdownAckSent, []Effect{EffectSendShutdownAck}},
	{ShutdownAckSent, TriggerRecvShutdownAck}:      {Closed, []Effect{EffectSendShutdownComplete, EffectDiscard, EffectNotifyDown}},
	{ShutdownAckSent, TriggerRecvShutdownComplete}: {Closed, []Effect{EffectDiscard, EffectNotifyDown}},
}

// Transition looks up the next state and the effects to perform for trigger
// in state from. Abort and retransmit exhaustion force Closed from every
// live state and are no-ops once Closed. Any other pair not in the table
// returns ErrInvalidTransition and leaves the caller's state untouched.
func Transition(from State, trigger Trigger) (State, []Effect, error) {
	switch trigger {
	case TriggerRecvAbort, TriggerRetransmitExhausted:
		if from == Closed {
			return Closed, nil, nil
		}
		return Closed, []Effect{EffectDiscard, EffectNotifyDown}, nil
	case TriggerAbort:
		if from == Closed {
			return Closed, nil, nil
		}
		return Closed, []Effect{EffectSendAbort, EffectDiscard, EffectNotifyDown}, nil
	}

	t, ok := transitions[transitionKey{from, trigger}]
	if !ok {
		return from, nil, fmt.Errorf("%s in %s: %w", trigger, from, ErrInvalidTransition)
	}
	return t.to, t.effects, nil
}
