package sdp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// FingerprintAlgorithm is the only hash this package produces.
const FingerprintAlgorithm = "sha-256"

// Fingerprint is an a=fingerprint record: a hash name and the digest as
// colon-separated uppercase hex pairs.
type Fingerprint struct {
	Algorithm string
	Value     string
}

// NewFingerprint hashes identity with SHA-256.
func NewFingerprint(identity []byte) Fingerprint {
	sum := sha256.Sum256(identity)
	return Fingerprint{Algorithm: FingerprintAlgorithm, Value: formatDigest(sum[:])}
}

func (f Fingerprint) String() string {
	return f.Algorithm + " " + f.Value
}

// IsZero reports whether f is unset.
func (f Fingerprint) IsZero() bool {
	return f.Algorithm == "" && f.Value == ""
}

// Digest decodes the hex pairs.
func (f Fingerprint) Digest() ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(f.Value, ":", ""))
}

// ParseFingerprint reads "<algorithm> <XX:XX:...>".
func ParseFingerprint(s string) (Fingerprint, error) {
	alg, value, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok || alg == "" || value == "" {
		return Fingerprint{}, fmt.Errorf("%q: %w", s, ErrInvalidFingerprint)
	}
	f := Fingerprint{Algorithm: strings.ToLower(alg), Value: strings.ToUpper(strings.TrimSpace(value))}
	for _, pair := range strings.Split(f.Value, ":") {
		if len(pair) != 2 {
			return Fingerprint{}, fmt.Errorf("%q: %w", s, ErrInvalidFingerprint)
		}
	}
	if _, err := f.Digest(); err != nil {
		return Fingerprint{}, fmt.Errorf("%q: %w", s, ErrInvalidFingerprint)
	}
	return f, nil
}

func formatDigest(sum []byte) string {
	pairs := make([]string, len(sum))
	for i, b := range sum {
		pairs[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(pairs, ":")
}
