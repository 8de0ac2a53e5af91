package localstate

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

// Server is the node side of the query protocol, enough to stand in for
// a node in tests and loopback harnesses.
type Server struct {
	m *protocol.Machine[state, Message]
}

func NewServer(ch plexer.Channel) *Server {
	return &Server{m: protocol.NewMachine(stateIdle, protocol.Invert(clientSpec()), ch)}
}

// RecvMessage surfaces the client's next message and moves the machine
// along; the caller answers with Acquired/Failure or Result.
func (s *Server) RecvMessage() (Message, error) {
	msg, err := s.m.Recv()
	if err != nil {
		return nil, err
	}
	switch msg.(type) {
	case MsgAcquire, MsgReAcquire:
		s.m.Transition(stateAcquiring)
	case MsgQuery:
		s.m.Transition(stateQuerying)
	case MsgRelease:
		s.m.Transition(stateIdle)
	case MsgDone:
		s.m.Transition(stateDone)
	default:
		return nil, fmt.Errorf("localstate: unexpected client message %T", msg)
	}
	return msg, nil
}

func (s *Server) Acquired() error {
	if err := s.m.Send(MsgAcquired{}); err != nil {
		return err
	}
	s.m.Transition(stateAcquired)
	return nil
}

func (s *Server) FailPointTooOld() error {
	return s.fail(failurePointTooOld)
}

func (s *Server) FailPointNotOnChain() error {
	return s.fail(failurePointNotOnChain)
}

func (s *Server) fail(reason int) error {
	if err := s.m.Send(MsgFailure{Reason: reason}); err != nil {
		return err
	}
	s.m.Transition(stateIdle)
	return nil
}

func (s *Server) Result(result cbor.RawMessage) error {
	if err := s.m.Send(MsgResult{Result: result}); err != nil {
		return err
	}
	s.m.Transition(stateAcquired)
	return nil
}

func (s *Server) IsDone() bool {
	return s.m.IsDone()
}
