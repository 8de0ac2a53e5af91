package txsubmission

import (
	"errors"
	"fmt"
	"math"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

var ErrAlreadyInitialized = errors.New("txsubmission: protocol already initialized")

// ReplyKind tags what the client answered with.
type ReplyKind int

const (
	ReplyTxIds ReplyKind = iota
	ReplyTxs
	ReplyDone
)

type Reply struct {
	Kind   ReplyKind
	IDs    []TxIDAndSize
	Bodies []TxBody
}

// Server requests and receives transactions from a connected client.
// It tracks the window of advertised-but-unacknowledged tx ids so the
// protocol invariants can be enforced locally:
//
//	ack <= outstanding
//	req <= 65535 - (outstanding - ack)
type Server struct {
	m      *protocol.Machine[state, Message]
	window []TxIDAndSize
}

func NewServer(ch plexer.Channel) *Server {
	return &Server{m: protocol.NewMachine(stateInit, serverSpec(), ch)}
}

// WaitForInit blocks until the client opens the protocol.
func (s *Server) WaitForInit() error {
	if s.m.State() != stateInit {
		return ErrAlreadyInitialized
	}
	if _, err := s.m.Recv(); err != nil {
		return err
	}
	s.m.Transition(stateIdle)
	return nil
}

// Outstanding is the number of advertised tx ids not yet acknowledged.
func (s *Server) Outstanding() int {
	return len(s.window)
}

// OutstandingIDs is the FIFO window of unacknowledged ids, oldest
// first.
func (s *Server) OutstandingIDs() []TxIDAndSize {
	out := make([]TxIDAndSize, len(s.window))
	copy(out, s.window)
	return out
}

// AcknowledgeAndRequestTxIds retires the oldest ack ids from the window
// and asks for up to req new ones. With blocking set, the client must
// answer with at least one id or end the protocol; without it, an empty
// reply is fine and the server should not poll in a tight loop.
func (s *Server) AcknowledgeAndRequestTxIds(blocking bool, ack uint16, req uint16) error {
	if int(ack) > len(s.window) {
		return fmt.Errorf("txsubmission: acknowledging %d of %d outstanding ids: %w",
			ack, len(s.window), protocol.ErrInvalidOutbound)
	}
	if int(req) > math.MaxUint16-(len(s.window)-int(ack)) {
		return fmt.Errorf("txsubmission: requesting %d ids would overflow the window: %w",
			req, protocol.ErrInvalidOutbound)
	}
	if err := s.m.Send(MsgRequestTxIds{Blocking: blocking, Acknowledge: ack, Request: req}); err != nil {
		return err
	}
	s.window = s.window[ack:]
	if blocking {
		s.m.Transition(stateTxIdsBlocking)
	} else {
		s.m.Transition(stateTxIdsNonBlocking)
	}
	return nil
}

// RequestTxs asks for the bodies of ids previously advertised and still
// unacknowledged.
func (s *Server) RequestTxs(ids []TxID) error {
	for _, id := range ids {
		if !s.inWindow(id) {
			return fmt.Errorf("txsubmission: tx id %x was not advertised or already acknowledged: %w",
				id.Hash, protocol.ErrInvalidOutbound)
		}
	}
	if err := s.m.Send(MsgRequestTxs{IDs: ids}); err != nil {
		return err
	}
	s.m.Transition(stateTxs)
	return nil
}

func (s *Server) inWindow(id TxID) bool {
	for _, ts := range s.window {
		if ts.ID.Era == id.Era && string(ts.ID.Hash) == string(id.Hash) {
			return true
		}
	}
	return false
}

// ReceiveNextReply blocks for the client's answer to the pending
// request. New ids join the unacknowledged window.
func (s *Server) ReceiveNextReply() (Reply, error) {
	msg, err := s.m.Recv()
	if err != nil {
		return Reply{}, err
	}
	switch m := msg.(type) {
	case MsgReplyTxIds:
		s.m.Transition(stateIdle)
		s.window = append(s.window, m.IDs...)
		return Reply{Kind: ReplyTxIds, IDs: m.IDs}, nil
	case MsgReplyTxs:
		s.m.Transition(stateIdle)
		return Reply{Kind: ReplyTxs, Bodies: m.Bodies}, nil
	case MsgDone:
		s.m.Transition(stateDone)
		return Reply{Kind: ReplyDone}, nil
	default:
		return Reply{}, fmt.Errorf("txsubmission: state %v, message %T: %w",
			s.m.State(), msg, protocol.ErrInvalidInbound)
	}
}

func (s *Server) IsDone() bool {
	return s.m.IsDone()
}
