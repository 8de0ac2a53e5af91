package protocol

import (
	"fmt"

	"github.com/MitchTurner/pallas/internal/plexer"
)

// Agency says which peer may transmit in a given protocol state.
type Agency int

const (
	AgencyNobody Agency = iota
	AgencyOurs
	AgencyTheirs
)

// Spec describes one mini-protocol from the local peer's point of view:
// who may send in each state, which (state, message) pairs are legal in
// each direction, and how messages cross the CBOR boundary.
type Spec[S comparable, M any] struct {
	Agency   func(S) Agency
	Outbound func(S, M) bool
	Inbound  func(S, M) bool
	Encode   func(M) ([]byte, error)
	Decode   func([]byte) (M, error)
}

// Invert flips a spec to the opposite role: their agency becomes ours
// and the legality tables swap direction. A server spec is the inverted
// client spec with the same codec.
func Invert[S comparable, M any](spec Spec[S, M]) Spec[S, M] {
	return Spec[S, M]{
		Agency: func(s S) Agency {
			switch spec.Agency(s) {
			case AgencyOurs:
				return AgencyTheirs
			case AgencyTheirs:
				return AgencyOurs
			default:
				return AgencyNobody
			}
		},
		Outbound: spec.Inbound,
		Inbound:  spec.Outbound,
		Encode:   spec.Encode,
		Decode:   spec.Decode,
	}
}

// Machine runs one mini-protocol state machine over a channel. It owns
// the agency checks; state transitions after a successful send or recv
// are the caller's responsibility.
type Machine[S comparable, M any] struct {
	state S
	spec  Spec[S, M]
	buf   *plexer.ChannelBuffer
}

func NewMachine[S comparable, M any](initial S, spec Spec[S, M], ch plexer.Channel) *Machine[S, M] {
	return &Machine[S, M]{
		state: initial,
		spec:  spec,
		buf:   plexer.NewChannelBuffer(ch),
	}
}

func (m *Machine[S, M]) State() S {
	return m.state
}

func (m *Machine[S, M]) Transition(s S) {
	m.state = s
}

func (m *Machine[S, M]) HasAgency() bool {
	return m.spec.Agency(m.state) == AgencyOurs
}

// IsDone reports whether the machine reached a terminal state.
func (m *Machine[S, M]) IsDone() bool {
	return m.spec.Agency(m.state) == AgencyNobody
}

func (m *Machine[S, M]) Send(msg M) error {
	if m.spec.Agency(m.state) != AgencyOurs {
		return fmt.Errorf("state %v: %w", m.state, ErrAgencyIsTheirs)
	}
	if !m.spec.Outbound(m.state, msg) {
		return fmt.Errorf("state %v, message %T: %w", m.state, msg, ErrInvalidOutbound)
	}
	data, err := m.spec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}
	return m.buf.SendMsgChunks(data)
}

func (m *Machine[S, M]) Recv() (M, error) {
	var zero M
	if m.spec.Agency(m.state) == AgencyOurs {
		return zero, fmt.Errorf("state %v: %w", m.state, ErrAgencyIsOurs)
	}
	data, err := m.buf.RecvFullMsg()
	if err != nil {
		return zero, err
	}
	msg, err := m.spec.Decode(data)
	if err != nil {
		return zero, fmt.Errorf("%v: %w", err, ErrMalformedMessage)
	}
	if !m.spec.Inbound(m.state, msg) {
		return zero, fmt.Errorf("state %v, message %T: %w", m.state, msg, ErrInvalidInbound)
	}
	return msg, nil
}
