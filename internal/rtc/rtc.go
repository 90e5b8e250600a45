// Package rtc translates between this module's channel and role types and
// the pion/webrtc API, so a channel opened here can be described to a
// browser-side or pion peer and vice versa.
package rtc

import (
	"errors"
	"fmt"
	"math"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcdc/internal/config"
	"github.com/1ureka/rtcdc/internal/datachannel"
	"github.com/1ureka/rtcdc/internal/dcep"
)

var (
	ErrUnsupportedSDPType    = errors.New("rtc: unsupported SDP type")
	ErrReliabilityOutOfRange = errors.New("rtc: reliability parameter exceeds 65535")
)

// InitFor describes ch the way webrtc.PeerConnection.CreateDataChannel
// expects it. pion carries retransmits and lifetimes in 16 bits, so a
// larger reliability parameter is an error rather than a silent clamp.
func InitFor(ch datachannel.Channel) (*webrtc.DataChannelInit, error) {
	ordered := ch.Ordered()
	init := &webrtc.DataChannelInit{Ordered: &ordered}

	if ch.Protocol != "" {
		protocol := ch.Protocol
		init.Protocol = &protocol
	}

	class := ch.Type.Class()
	if ch.Type.PartialReliable() && ch.ReliabilityParameter > math.MaxUint16 {
		return nil, fmt.Errorf("%s with %d: %w", class, ch.ReliabilityParameter, ErrReliabilityOutOfRange)
	}

	param := uint16(ch.ReliabilityParameter)
	switch class {
	case dcep.ChannelTypeUnreliable:
		zero := uint16(0)
		init.MaxRetransmits = &zero
	case dcep.ChannelTypePartialReliableRexmit:
		init.MaxRetransmits = &param
	case dcep.ChannelTypePartialReliableTimed:
		init.MaxPacketLifeTime = &param
	}

	if ch.Negotiated {
		negotiated, id := true, ch.ID
		init.Negotiated = &negotiated
		init.ID = &id
	}
	return init, nil
}

// ChannelTypeFromInit is the inverse of InitFor for the reliability fields.
// A nil init is a reliable ordered channel.
func ChannelTypeFromInit(init *webrtc.DataChannelInit) (dcep.ChannelType, uint32) {
	if init == nil {
		return dcep.ChannelTypeReliable, 0
	}

	t, param := dcep.ChannelTypeReliable, uint32(0)
	switch {
	case init.MaxRetransmits != nil && *init.MaxRetransmits == 0:
		t = dcep.ChannelTypeUnreliable
	case init.MaxRetransmits != nil:
		t, param = dcep.ChannelTypePartialReliableRexmit, uint32(*init.MaxRetransmits)
	case init.MaxPacketLifeTime != nil:
		t, param = dcep.ChannelTypePartialReliableTimed, uint32(*init.MaxPacketLifeTime)
	}

	unordered := init.Ordered != nil && !*init.Ordered
	return t.WithUnordered(unordered), param
}

// ChannelOptions converts init into CreateChannel options.
func ChannelOptions(init *webrtc.DataChannelInit) []datachannel.ChannelOption {
	t, param := ChannelTypeFromInit(init)
	opts := []datachannel.ChannelOption{datachannel.WithChannelType(t, param)}
	if init == nil {
		return opts
	}
	if init.Protocol != nil {
		opts = append(opts, datachannel.WithProtocol(*init.Protocol))
	}
	if init.Negotiated != nil && *init.Negotiated && init.ID != nil {
		opts = append(opts, datachannel.WithNegotiated(*init.ID))
	}
	return opts
}

// RoleFromSDPType maps the type of the local description to a role: the
// side that sends the offer is the offerer.
func RoleFromSDPType(t webrtc.SDPType) (config.Role, error) {
	switch t {
	case webrtc.SDPTypeOffer:
		return config.RoleOfferer, nil
	case webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer:
		return config.RoleAnswerer, nil
	default:
		return "", fmt.Errorf("%s: %w", t, ErrUnsupportedSDPType)
	}
}

// SDPTypeForRole is the description type role sends.
func SDPTypeForRole(r config.Role) webrtc.SDPType {
	if r == config.RoleAnswerer {
		return webrtc.SDPTypeAnswer
	}
	return webrtc.SDPTypeOffer
}
