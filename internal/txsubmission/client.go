package txsubmission

import (
	"fmt"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

// RequestKind tags what the server asked the client for.
type RequestKind int

const (
	RequestTxIds RequestKind = iota
	RequestTxs
)

type Request struct {
	Kind        RequestKind
	Blocking    bool
	Acknowledge uint16
	Request     uint16
	IDs         []TxID
}

// Client is the submitting side: it opens the protocol, then answers
// the server's requests with tx ids and bodies from its mempool.
type Client struct {
	m *protocol.Machine[state, Message]
}

func NewClient(ch plexer.Channel) *Client {
	return &Client{m: protocol.NewMachine(stateInit, protocol.Invert(serverSpec()), ch)}
}

// Init opens the protocol and hands agency to the server.
func (c *Client) Init() error {
	if c.m.State() != stateInit {
		return ErrAlreadyInitialized
	}
	if err := c.m.Send(MsgInit{}); err != nil {
		return err
	}
	c.m.Transition(stateIdle)
	return nil
}

// RecvNextRequest blocks for the server's next ask.
func (c *Client) RecvNextRequest() (Request, error) {
	msg, err := c.m.Recv()
	if err != nil {
		return Request{}, err
	}
	switch m := msg.(type) {
	case MsgRequestTxIds:
		if m.Blocking {
			c.m.Transition(stateTxIdsBlocking)
		} else {
			c.m.Transition(stateTxIdsNonBlocking)
		}
		return Request{
			Kind:        RequestTxIds,
			Blocking:    m.Blocking,
			Acknowledge: m.Acknowledge,
			Request:     m.Request,
		}, nil
	case MsgRequestTxs:
		c.m.Transition(stateTxs)
		return Request{Kind: RequestTxs, IDs: m.IDs}, nil
	default:
		return Request{}, fmt.Errorf("txsubmission: unexpected request %T", msg)
	}
}

// ReplyTxIds advertises ids. Answering a blocking request with an empty
// list is a protocol violation; send Done instead.
func (c *Client) ReplyTxIds(ids []TxIDAndSize) error {
	if err := c.m.Send(MsgReplyTxIds{IDs: ids}); err != nil {
		return err
	}
	c.m.Transition(stateIdle)
	return nil
}

func (c *Client) ReplyTxs(bodies []TxBody) error {
	if err := c.m.Send(MsgReplyTxs{Bodies: bodies}); err != nil {
		return err
	}
	c.m.Transition(stateIdle)
	return nil
}

// Done ends the protocol; only legal while a blocking id request is
// pending.
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
