package chainsync

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

// RequestKind tags what a consumer asked for.
type RequestKind int

const (
	RequestNext RequestKind = iota
	RequestIntersect
	RequestDone
)

type Request struct {
	Kind   RequestKind
	Points []protocol.Point
}

// Server is the producer side: it answers RequestNext and FindIntersect
// from a consumer peer.
type Server[C any] struct {
	m             *protocol.Machine[state, Message]
	encodeContent func(C) (cbor.RawMessage, error)
}

func NewN2NServer(ch plexer.Channel) *Server[HeaderContent] {
	return &Server[HeaderContent]{
		m:             protocol.NewMachine(stateIdle, protocol.Invert(clientSpec()), ch),
		encodeContent: encodeHeaderContent,
	}
}

func NewN2CServer(ch plexer.Channel) *Server[BlockContent] {
	return &Server[BlockContent]{
		m:             protocol.NewMachine(stateIdle, protocol.Invert(clientSpec()), ch),
		encodeContent: encodeBlockContent,
	}
}

// RecvRequest blocks for the consumer's next ask and moves into the
// matching busy state.
func (s *Server[C]) RecvRequest() (Request, error) {
	msg, err := s.m.Recv()
	if err != nil {
		return Request{}, err
	}
	switch m := msg.(type) {
	case MsgRequestNext:
		s.m.Transition(stateCanAwait)
		return Request{Kind: RequestNext}, nil
	case MsgFindIntersect:
		s.m.Transition(stateIntersect)
		return Request{Kind: RequestIntersect, Points: m.Points}, nil
	case MsgDone:
		s.m.Transition(stateDone)
		return Request{Kind: RequestDone}, nil
	default:
		return Request{}, fmt.Errorf("chainsync: unexpected request %T", msg)
	}
}

func (s *Server[C]) RollForward(content C, tip protocol.Tip) error {
	raw, err := s.encodeContent(content)
	if err != nil {
		return err
	}
	if err := s.m.Send(MsgRollForward{Content: raw, Tip: tip}); err != nil {
		return err
	}
	s.m.Transition(stateIdle)
	return nil
}

func (s *Server[C]) RollBackward(point protocol.Point, tip protocol.Tip) error {
	if err := s.m.Send(MsgRollBackward{Point: point, Tip: tip}); err != nil {
		return err
	}
	s.m.Transition(stateIdle)
	return nil
}

// AwaitReply parks the consumer until new chain shows up; the next
// RollForward or RollBackward releases it.
func (s *Server[C]) AwaitReply() error {
	if s.m.State() != stateCanAwait {
		return fmt.Errorf("chainsync: await only follows a request: %w", protocol.ErrInvalidOutbound)
	}
	if err := s.m.Send(MsgAwaitReply{}); err != nil {
		return err
	}
	s.m.Transition(stateMustReply)
	return nil
}

func (s *Server[C]) IntersectFound(point protocol.Point, tip protocol.Tip) error {
	if err := s.m.Send(MsgIntersectFound{Point: point, Tip: tip}); err != nil {
		return err
	}
	s.m.Transition(stateIdle)
	return nil
}

func (s *Server[C]) IntersectNotFound(tip protocol.Tip) error {
	if err := s.m.Send(MsgIntersectNotFound{Tip: tip}); err != nil {
		return err
	}
	s.m.Transition(stateIdle)
	return nil
}

func (s *Server[C]) IsDone() bool {
	return s.m.IsDone()
}
