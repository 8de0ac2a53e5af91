package blockfetch

import (
	"fmt"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

// Range is a client's inclusive block request.
type Range struct {
	From protocol.Point
	To   protocol.Point
}

// Server answers range requests. Receive a request, then either
// NoBlocks or StartBatch followed by SendBlock* and BatchDone.
type Server struct {
	m *protocol.Machine[state, Message]
}

func NewServer(ch plexer.Channel) *Server {
	return &Server{m: protocol.NewMachine(stateIdle, protocol.Invert(clientSpec()), ch)}
}

// RecvRequest blocks for the next range request. A nil range means the
// client sent its terminal message.
func (s *Server) RecvRequest() (*Range, error) {
	msg, err := s.m.Recv()
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case MsgRequestRange:
		s.m.Transition(stateBusy)
		return &Range{From: m.From, To: m.To}, nil
	case MsgClientDone:
		s.m.Transition(stateDone)
		return nil, nil
	default:
		return nil, fmt.Errorf("blockfetch: unexpected request %T", msg)
	}
}

func (s *Server) NoBlocks() error {
	if err := s.m.Send(MsgNoBlocks{}); err != nil {
		return err
	}
	s.m.Transition(stateIdle)
	return nil
}

func (s *Server) StartBatch() error {
	if err := s.m.Send(MsgStartBatch{}); err != nil {
		return err
	}
	s.m.Transition(stateStreaming)
	return nil
}

func (s *Server) SendBlock(body []byte) error {
	return s.m.Send(MsgBlock{Body: body})
}

func (s *Server) BatchDone() error {
	if err := s.m.Send(MsgBatchDone{}); err != nil {
		return err
	}
	s.m.Transition(stateIdle)
	return nil
}

func (s *Server) IsDone() bool {
	return s.m.IsDone()
}
