package handshake

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

// Server answers one proposal. Receive the table with Receive, then
// settle it with Accept or Refuse.
type Server struct {
	m *protocol.Machine[state, Message]
}

func NewServer(ch plexer.Channel) *Server {
	return &Server{m: protocol.NewMachine(statePropose, serverSpec(), ch)}
}

func (s *Server) Receive() (VersionTable, error) {
	msg, err := s.m.Recv()
	if err != nil {
		return VersionTable{}, err
	}
	propose, ok := msg.(MsgProposeVersions)
	if !ok {
		return VersionTable{}, fmt.Errorf("handshake: unexpected proposal %T", msg)
	}
	s.m.Transition(stateConfirm)
	return propose.Versions, nil
}

func (s *Server) Accept(version uint64, params cbor.RawMessage) error {
	if err := s.m.Send(MsgAcceptVersion{Version: version, Params: params}); err != nil {
		return err
	}
	s.m.Transition(stateDone)
	return nil
}

func (s *Server) Refuse(reason RefuseReason) error {
	if err := s.m.Send(MsgRefuse{Reason: reason}); err != nil {
		return err
	}
	s.m.Transition(stateDone)
	return nil
}

func (s *Server) IsDone() bool {
	return s.m.IsDone()
}
