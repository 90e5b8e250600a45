package sdp

import (
	"fmt"

	"github.com/pion/ice/v4"
)

// Candidate is one ICE candidate line, parsed and rendered by pion/ice.
type Candidate struct {
	ice.Candidate
}

// ParseCandidate reads an a=candidate value, with or without the
// "candidate:" prefix.
func ParseCandidate(s string) (Candidate, error) {
	c, err := ice.UnmarshalCandidate(s)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}
	return Candidate{c}, nil
}

// NewHostCandidate builds a UDP host candidate for component 1.
func NewHostCandidate(address string, port int) (Candidate, error) {
	c, err := ice.NewCandidateHost(&ice.CandidateHostConfig{
		Network:   "udp",
		Address:   address,
		Port:      port,
		Component: 1,
	})
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}
	return Candidate{c}, nil
}

// String renders the attribute value without the "candidate:" prefix.
func (c Candidate) String() string {
	if c.Candidate == nil {
		return ""
	}
	return c.Marshal()
}
