package signaling

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcdc/internal/sdp"
	"github.com/1ureka/rtcdc/internal/util"
)

// ExchangeAsOfferer performs the offer/answer exchange on the offerer side:
//   - Build the offer from local and send it
//   - Collect trickled candidates until the answer arrives
//   - Return the answerer's parameters
func ExchangeAsOfferer(ctx context.Context, p *Peer, local sdp.Params) (sdp.Params, error) {
	offer, err := sdp.BuildOffer(local)
	if err != nil {
		return sdp.Params{}, fmt.Errorf("build offer: %w", err)
	}
	if err := p.Send(Message{
		Type:        MsgTypeOffer,
		Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer},
	}); err != nil {
		return sdp.Params{}, err
	}

	remote, err := await(ctx, p, webrtc.SDPTypeAnswer)
	if err != nil {
		return sdp.Params{}, err
	}
	util.LogDebug("received answer (sctp-port %d, %d candidates)", remote.SCTPPort, len(remote.Candidates))
	return remote, nil
}

// ExchangeAsAnswerer performs the exchange on the answerer side:
//   - Wait for the offer, collecting trickled candidates
//   - Build the answer from local and send it
//   - Return the offerer's parameters
func ExchangeAsAnswerer(ctx context.Context, p *Peer, local sdp.Params) (sdp.Params, error) {
	remote, err := await(ctx, p, webrtc.SDPTypeOffer)
	if err != nil {
		return sdp.Params{}, err
	}
	util.LogDebug("received offer (sctp-port %d, %d candidates)", remote.SCTPPort, len(remote.Candidates))

	answer, err := sdp.BuildAnswer(local)
	if err != nil {
		return sdp.Params{}, fmt.Errorf("build answer: %w", err)
	}
	if err := p.Send(Message{
		Type:        MsgTypeAnswer,
		Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer},
	}); err != nil {
		return sdp.Params{}, err
	}
	return remote, nil
}

// SendCandidate trickles one local candidate.
func SendCandidate(p *Peer, c sdp.Candidate) error {
	mid := "0"
	return p.Send(Message{
		Type: MsgTypeCandidate,
		Candidate: &webrtc.ICECandidateInit{
			Candidate: "candidate:" + c.String(),
			SDPMid:    &mid,
		},
	})
}

// await reads until a description of type want arrives. Candidates that
// come first are appended to the parsed parameters.
func await(ctx context.Context, p *Peer, want webrtc.SDPType) (sdp.Params, error) {
	var trickled []sdp.Candidate
	for {
		msg, err := p.Receive(ctx)
		if err != nil {
			return sdp.Params{}, err
		}

		switch msg.Type {
		case MsgTypeCandidate:
			if msg.Candidate == nil {
				continue
			}
			c, err := sdp.ParseCandidate(strings.TrimSpace(msg.Candidate.Candidate))
			if err != nil {
				util.LogWarning("ignoring trickled candidate: %v", err)
				continue
			}
			trickled = append(trickled, c)

		case MsgTypeOffer, MsgTypeAnswer:
			if msg.Description == nil || msg.Description.Type != want {
				return sdp.Params{}, fmt.Errorf("got %s while waiting for %s: %w", msg.Type, want, ErrUnexpectedMessage)
			}
			remote, err := sdp.Parse(msg.Description.SDP)
			if err != nil {
				return sdp.Params{}, fmt.Errorf("parse %s: %w", want, err)
			}
			remote.Candidates = append(remote.Candidates, trickled...)
			return remote, nil

		default:
			return sdp.Params{}, fmt.Errorf("type %q: %w", msg.Type, ErrUnexpectedMessage)
		}
	}
}
