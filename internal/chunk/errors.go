package chunk

import "errors"

var (
	ErrTruncated        = errors.New("chunk: truncated data")
	ErrInvalidLength    = errors.New("chunk: invalid length")
	ErrValueTooLarge    = errors.New("chunk: value too large")
	ErrChecksumMismatch = errors.New("chunk: checksum mismatch")
	ErrUnexpectedType   = errors.New("chunk: unexpected chunk type")
	ErrMissingCookie    = errors.New("chunk: INIT_ACK without state cookie")
	ErrZeroInitiateTag  = errors.New("chunk: zero initiate tag")
)
