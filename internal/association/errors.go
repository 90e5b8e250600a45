package association

import "errors"

var (
	ErrInvalidConfig       = errors.New("association: invalid config")
	ErrInvalidTransition   = errors.New("association: invalid state transition")
	ErrNotEstablished      = errors.New("association: not established")
	ErrMessageTooLarge     = errors.New("association: message exceeds max message size")
	ErrEmptyPayload        = errors.New("association: empty payload")
	ErrInvalidStream       = errors.New("association: stream id out of range")
	ErrBadVerificationTag  = errors.New("association: verification tag mismatch")
	ErrPortMismatch        = errors.New("association: port mismatch")
	ErrInvalidCookie       = errors.New("association: invalid state cookie")
	ErrStaleCookie         = errors.New("association: stale state cookie")
	ErrAborted             = errors.New("association: aborted")
	ErrRetransmitExhausted = errors.New("association: max retransmits exceeded")
	ErrTerminated          = errors.New("association: terminated")
)
