package association

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

const (
	cookieKeySize = 32
	cookieMACSize = 32
)

// stateCookie is the snapshot an INIT_ACK sender hands to its peer instead
// of keeping state. The peer echoes it back unchanged; the MAC proves it
// came from us.
type stateCookie struct {
	LocalTag        uint32 `cbor:"1,keyasint"`
	PeerTag         uint32 `cbor:"2,keyasint"`
	LocalInitialTSN uint32 `cbor:"3,keyasint"`
	PeerInitialTSN  uint32 `cbor:"4,keyasint"`
	PeerWindow      uint32 `cbor:"5,keyasint"`
	PeerOutbound    uint16 `cbor:"6,keyasint"`
	PeerInbound     uint16 `cbor:"7,keyasint"`
	CreatedMS       int64  `cbor:"8,keyasint"`
}

var (
	cookieEncMode cbor.EncMode
	cookieDecMode cbor.DecMode
)

func init() {
	var err error
	if cookieEncMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if cookieDecMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// sealCookie serializes c and prefixes a keyed MAC over the encoding.
func sealCookie(key []byte, c *stateCookie) ([]byte, error) {
	body, err := cookieEncMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode cookie: %w", err)
	}
	mac, err := cookieMAC(key, body)
	if err != nil {
		return nil, err
	}
	return append(mac, body...), nil
}

// openCookie verifies the MAC and the lifetime of an echoed cookie.
func openCookie(key, raw []byte, lifetime time.Duration, now time.Time) (*stateCookie, error) {
	if len(raw) <= cookieMACSize {
		return nil, fmt.Errorf("cookie of %d bytes: %w", len(raw), ErrInvalidCookie)
	}
	mac, body := raw[:cookieMACSize], raw[cookieMACSize:]

	want, err := cookieMAC(key, body)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(mac, want) != 1 {
		return nil, fmt.Errorf("mac mismatch: %w", ErrInvalidCookie)
	}

	var c stateCookie
	if err := cookieDecMode.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("decode cookie: %v: %w", err, ErrInvalidCookie)
	}
	if age := now.Sub(time.UnixMilli(c.CreatedMS)); age > lifetime {
		return nil, fmt.Errorf("cookie age %s exceeds %s: %w", age.Round(time.Millisecond), lifetime, ErrStaleCookie)
	}
	return &c, nil
}

func cookieMAC(key, body []byte) ([]byte, error) {
	h, err := blake3.NewKeyed(key)
	if err != nil {
		return nil, fmt.Errorf("cookie mac: %w", err)
	}
	_, _ = h.Write(body)
	return h.Sum(nil), nil
}
