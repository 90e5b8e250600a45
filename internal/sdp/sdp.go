// Package sdp builds and reads the session descriptions that announce a
// data channel association: one application m-line carrying the SCTP port,
// the maximum message size, the fingerprint, ICE credentials and
// candidates.
package sdp

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/pion/randutil"
	psdp "github.com/pion/sdp/v3"

	"github.com/1ureka/rtcdc/internal/association"
)

var (
	ErrInvalid            = errors.New("sdp: invalid session description")
	ErrNoDataSection      = errors.New("sdp: no webrtc-datachannel media section")
	ErrMissingAttribute   = errors.New("sdp: missing attribute")
	ErrInvalidFingerprint = errors.New("sdp: invalid fingerprint")
	ErrInvalidCandidate   = errors.New("sdp: invalid candidate")
)

const (
	attrSCTPPort       = "sctp-port"
	attrMaxMessageSize = "max-message-size"
	attrFingerprint    = "fingerprint"
	attrICEUfrag       = "ice-ufrag"
	attrICEPwd         = "ice-pwd"

	mediaApplication = "application"
	formatDataChan   = "webrtc-datachannel"
	mid              = "0"

	// DefaultMaxMessageSize applies when the peer omits max-message-size.
	DefaultMaxMessageSize = 65536

	ufragLength = 16
	pwdLength   = 32
	iceRunes    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Setup is the a=setup role.
type Setup string

const (
	SetupActpass Setup = "actpass"
	SetupActive  Setup = "active"
	SetupPassive Setup = "passive"
)

// Params are the fields of a data channel session description.
type Params struct {
	SCTPPort       uint16
	MaxMessageSize int
	Fingerprint    Fingerprint
	ICEUfrag       string
	ICEPwd         string
	Setup          Setup
	Candidates     []Candidate
}

// NewParams seeds Params from an association config with fresh ICE
// credentials.
func NewParams(cfg association.Config, fp Fingerprint) (Params, error) {
	ufrag, err := randutil.GenerateCryptoRandomString(ufragLength, iceRunes)
	if err != nil {
		return Params{}, fmt.Errorf("generate ice-ufrag: %w", err)
	}
	pwd, err := randutil.GenerateCryptoRandomString(pwdLength, iceRunes)
	if err != nil {
		return Params{}, fmt.Errorf("generate ice-pwd: %w", err)
	}
	return Params{
		SCTPPort:       cfg.LocalPort,
		MaxMessageSize: cfg.MaxMessageSize,
		Fingerprint:    fp,
		ICEUfrag:       ufrag,
		ICEPwd:         pwd,
	}, nil
}

// AssociationConfig points base at the peer described by p: the remote port
// comes from sctp-port and the message size is capped by the peer's limit.
func (p Params) AssociationConfig(base association.Config) association.Config {
	if p.SCTPPort != 0 {
		base.RemotePort = p.SCTPPort
	}
	if p.MaxMessageSize > 0 && p.MaxMessageSize < base.MaxMessageSize {
		base.MaxMessageSize = p.MaxMessageSize
	}
	return base
}

// BuildOffer renders p as an offer. An empty Setup becomes actpass.
func BuildOffer(p Params) (string, error) {
	if p.Setup == "" {
		p.Setup = SetupActpass
	}
	return build(p)
}

// BuildAnswer renders p as an answer. An empty Setup becomes active.
func BuildAnswer(p Params) (string, error) {
	if p.Setup == "" {
		p.Setup = SetupActive
	}
	return build(p)
}

func build(p Params) (string, error) {
	if p.ICEUfrag == "" || p.ICEPwd == "" {
		return "", fmt.Errorf("ice credentials: %w", ErrMissingAttribute)
	}
	if p.Fingerprint.IsZero() {
		return "", fmt.Errorf("%s: %w", attrFingerprint, ErrMissingAttribute)
	}

	d, err := psdp.NewJSEPSessionDescription(false)
	if err != nil {
		return "", err
	}
	d.WithValueAttribute(psdp.AttrKeyGroup, "BUNDLE "+mid)

	media := (&psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   mediaApplication,
			Port:    psdp.RangedPort{Value: 9},
			Protos:  []string{"UDP", "DTLS", "SCTP"},
			Formats: []string{formatDataChan},
		},
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: "0.0.0.0"},
		},
	}).
		WithValueAttribute(psdp.AttrKeyConnectionSetup, string(p.Setup)).
		WithValueAttribute(psdp.AttrKeyMID, mid).
		WithICECredentials(p.ICEUfrag, p.ICEPwd).
		WithFingerprint(p.Fingerprint.Algorithm, p.Fingerprint.Value).
		WithValueAttribute(attrSCTPPort, strconv.Itoa(int(p.SCTPPort)))

	if p.MaxMessageSize > 0 {
		media.WithValueAttribute(attrMaxMessageSize, strconv.Itoa(p.MaxMessageSize))
	}
	for _, c := range p.Candidates {
		media.WithValueAttribute(psdp.AttrKeyCandidate, c.String())
	}
	if len(p.Candidates) > 0 {
		media.WithPropertyAttribute(psdp.AttrKeyEndOfCandidates)
	}
	d.WithMedia(media)

	raw, err := d.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(raw), nil
}

// Parse reads the first webrtc-datachannel section of s. Session-level
// fingerprint and ICE credentials are used when the section has none.
func Parse(s string) (Params, error) {
	var d psdp.SessionDescription
	if err := d.UnmarshalString(s); err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	idx := slices.IndexFunc(d.MediaDescriptions, func(m *psdp.MediaDescription) bool {
		return m.MediaName.Media == mediaApplication && slices.Contains(m.MediaName.Formats, formatDataChan)
	})
	if idx < 0 {
		return Params{}, ErrNoDataSection
	}
	media := d.MediaDescriptions[idx]

	attr := func(key string) (string, bool) {
		if v, ok := media.Attribute(key); ok {
			return v, true
		}
		return d.Attribute(key)
	}

	var p Params

	port, ok := media.Attribute(attrSCTPPort)
	if !ok {
		return Params{}, fmt.Errorf("%s: %w", attrSCTPPort, ErrMissingAttribute)
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %s %q", ErrInvalid, attrSCTPPort, port)
	}
	p.SCTPPort = uint16(n)

	p.MaxMessageSize = DefaultMaxMessageSize
	if v, ok := media.Attribute(attrMaxMessageSize); ok {
		size, err := strconv.Atoi(v)
		if err != nil || size < 0 {
			return Params{}, fmt.Errorf("%w: %s %q", ErrInvalid, attrMaxMessageSize, v)
		}
		p.MaxMessageSize = size
	}

	fp, ok := attr(attrFingerprint)
	if !ok {
		return Params{}, fmt.Errorf("%s: %w", attrFingerprint, ErrMissingAttribute)
	}
	if p.Fingerprint, err = ParseFingerprint(fp); err != nil {
		return Params{}, err
	}

	if p.ICEUfrag, ok = attr(attrICEUfrag); !ok {
		return Params{}, fmt.Errorf("%s: %w", attrICEUfrag, ErrMissingAttribute)
	}
	if p.ICEPwd, ok = attr(attrICEPwd); !ok {
		return Params{}, fmt.Errorf("%s: %w", attrICEPwd, ErrMissingAttribute)
	}

	if v, ok := media.Attribute(psdp.AttrKeyConnectionSetup); ok {
		p.Setup = Setup(v)
	}

	for _, a := range media.Attributes {
		if a.Key != psdp.AttrKeyCandidate {
			continue
		}
		c, err := ParseCandidate(a.Value)
		if err != nil {
			return Params{}, err
		}
		p.Candidates = append(p.Candidates, c)
	}
	return p, nil
}
