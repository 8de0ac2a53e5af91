// Package localtx implements the local transaction submission
// mini-protocol (n2c): submit one transaction to the local node and get
// an accept or a typed rejection back.
package localtx

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

type state int

const (
	stateIdle state = iota
	stateBusy
	stateDone
)

const (
	labelSubmitTx = iota
	labelAcceptTx
	labelRejectTx
	labelDone
)

const wrappedCborTag = 24

type Message interface{ isLocalTxMessage() }

// MsgSubmitTx carries an era-tagged raw transaction.
type MsgSubmitTx struct {
	Era uint16
	Tx  []byte
}

type MsgAcceptTx struct{}

// MsgRejectTx carries the node's reason, opaque era-specific CBOR.
type MsgRejectTx struct {
	Reason cbor.RawMessage
}

type MsgDone struct{}

func (MsgSubmitTx) isLocalTxMessage() {}
func (MsgAcceptTx) isLocalTxMessage() {}
func (MsgRejectTx) isLocalTxMessage() {}
func (MsgDone) isLocalTxMessage()     {}

func encodeMessage(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case MsgSubmitTx:
		wrapped := []any{m.Era, cbor.Tag{Number: wrappedCborTag, Content: m.Tx}}
		return cbor.Marshal([]any{labelSubmitTx, wrapped})
	case MsgAcceptTx:
		return cbor.Marshal([]any{labelAcceptTx})
	case MsgRejectTx:
		return cbor.Marshal([]any{labelRejectTx, m.Reason})
	case MsgDone:
		return cbor.Marshal([]any{labelDone})
	default:
		return nil, fmt.Errorf("localtx: unknown message %T", msg)
	}
}

func decodeMessage(data []byte) (Message, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("localtx: empty message array")
	}
	var label int
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}

	switch label {
	case labelSubmitTx:
		if len(fields) != 2 {
			return nil, fmt.Errorf("localtx: submit wants 2 fields, got %d", len(fields))
		}
		var inner []cbor.RawMessage
		if err := cbor.Unmarshal(fields[1], &inner); err != nil {
			return nil, err
		}
		if len(inner) != 2 {
			return nil, fmt.Errorf("localtx: submit payload wants 2 fields, got %d", len(inner))
		}
		var m MsgSubmitTx
		if err := cbor.Unmarshal(inner[0], &m.Era); err != nil {
			return nil, err
		}
		var tag cbor.Tag
		if err := cbor.Unmarshal(inner[1], &tag); err != nil {
			return nil, err
		}
		tx, ok := tag.Content.([]byte)
		if tag.Number != wrappedCborTag || !ok {
			return nil, fmt.Errorf("localtx: tx is not a wrapped byte string")
		}
		m.Tx = tx
		return m, nil
	case labelAcceptTx:
		return MsgAcceptTx{}, nil
	case labelRejectTx:
		if len(fields) != 2 {
			return nil, fmt.Errorf("localtx: reject wants 2 fields, got %d", len(fields))
		}
		return MsgRejectTx{Reason: fields[1]}, nil
	case labelDone:
		return MsgDone{}, nil
	default:
		return nil, fmt.Errorf("localtx: unknown label %d", label)
	}
}

func clientSpec() protocol.Spec[state, Message] {
	return protocol.Spec[state, Message]{
		Agency: func(s state) protocol.Agency {
			switch s {
			case stateIdle:
				return protocol.AgencyOurs
			case stateBusy:
				return protocol.AgencyTheirs
			default:
				return protocol.AgencyNobody
			}
		},
		Outbound: func(s state, m Message) bool {
			if s != stateIdle {
				return false
			}
			switch m.(type) {
			case MsgSubmitTx, MsgDone:
				return true
			}
			return false
		},
		Inbound: func(s state, m Message) bool {
			if s != stateBusy {
				return false
			}
			switch m.(type) {
			case MsgAcceptTx, MsgRejectTx:
				return true
			}
			return false
		},
		Encode: encodeMessage,
		Decode: decodeMessage,
	}
}

// SubmitResult is the node's verdict on one transaction.
type SubmitResult struct {
	Accepted bool
	Reason   cbor.RawMessage
}

type Client struct {
	m *protocol.Machine[state, Message]
}

func NewClient(ch plexer.Channel) *Client {
	return &Client{m: protocol.NewMachine(stateIdle, clientSpec(), ch)}
}

// SubmitTx sends one transaction and blocks for the verdict. A
// rejection is a domain result, not an error.
func (c *Client) SubmitTx(era uint16, tx []byte) (SubmitResult, error) {
	if err := c.m.Send(MsgSubmitTx{Era: era, Tx: tx}); err != nil {
		return SubmitResult{}, err
	}
	c.m.Transition(stateBusy)

	msg, err := c.m.Recv()
	if err != nil {
		return SubmitResult{}, err
	}
	c.m.Transition(stateIdle)

	switch m := msg.(type) {
	case MsgAcceptTx:
		return SubmitResult{Accepted: true}, nil
	case MsgRejectTx:
		return SubmitResult{Reason: m.Reason}, nil
	default:
		return SubmitResult{}, fmt.Errorf("localtx: unexpected verdict %T", msg)
	}
}

func (c *Client) Done() error {
	if err := c.m.Send(MsgDone{}); err != nil {
		return err
	}
	c.m.Transition(stateDone)
	return nil
}

func (c *Client) IsDone() bool {
	return c.m.IsDone()
}

// Server is the node side, enough for loopback tests.
type Server struct {
	m *protocol.Machine[state, Message]
}

func NewServer(ch plexer.Channel) *Server {
	return &Server{m: protocol.NewMachine(stateIdle, protocol.Invert(clientSpec()), ch)}
}

// RecvSubmission blocks for the next submitted tx; nil means the client
// is done.
func (s *Server) RecvSubmission() (*MsgSubmitTx, error) {
	msg, err := s.m.Recv()
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case MsgSubmitTx:
		s.m.Transition(stateBusy)
		return &m, nil
	case MsgDone:
		s.m.Transition(stateDone)
		return nil, nil
	default:
		return nil, fmt.Errorf("localtx: unexpected submission %T", msg)
	}
}

func (s *Server) Accept() error {
	if err := s.m.Send(MsgAcceptTx{}); err != nil {
		return err
	}
	s.m.Transition(stateIdle)
	return nil
}

func (s *Server) Reject(reason cbor.RawMessage) error {
	if err := s.m.Send(MsgRejectTx{Reason: reason}); err != nil {
		return err
	}
	s.m.Transition(stateIdle)
	return nil
}

func (s *Server) IsDone() bool {
	return s.m.IsDone()
}
