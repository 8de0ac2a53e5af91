package blockfetch

import (
	"errors"
	"fmt"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

// ErrNoBlocks is the server's answer for a range it cannot serve. A
// domain result, not a session failure.
var ErrNoBlocks = errors.New("blockfetch: no blocks in the requested range")

type Client struct {
	m *protocol.Machine[state, Message]
}

func NewClient(ch plexer.Channel) *Client {
	return &Client{m: protocol.NewMachine(stateIdle, clientSpec(), ch)}
}

// FetchRange downloads every block between two points inclusive, in
// chain order.
func (c *Client) FetchRange(from, to protocol.Point) ([][]byte, error) {
	if err := c.m.Send(MsgRequestRange{From: from, To: to}); err != nil {
		return nil, err
	}
	c.m.Transition(stateBusy)

	msg, err := c.m.Recv()
	if err != nil {
		return nil, err
	}
	switch msg.(type) {
	case MsgNoBlocks:
		c.m.Transition(stateIdle)
		return nil, ErrNoBlocks
	case MsgStartBatch:
		c.m.Transition(stateStreaming)
	default:
		return nil, fmt.Errorf("blockfetch: unexpected range reply %T", msg)
	}

	var blocks [][]byte
	for {
		msg, err := c.m.Recv()
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case MsgBlock:
			blocks = append(blocks, m.Body)
		case MsgBatchDone:
			c.m.Transition(stateIdle)
			return blocks, nil
		default:
			return nil, fmt.Errorf("blockfetch: unexpected batch message %T", msg)
		}
	}
}

// FetchSingle downloads the block at one point.
func (c *Client) FetchSingle(point protocol.Point) ([]byte, error) {
	blocks, err := c.FetchRange(point, point)
	if err != nil {
		return nil, err
	}
	if len(blocks) != 1 {
		return nil, fmt.Errorf("blockfetch: expected a single block, got %d", len(blocks))
	}
	return blocks[0], nil
}

// Done releases the server side of the protocol.
func (c *Client) Done() error {
	if err := c.m.Send(MsgClientDone{}); err != nil {
		return err
	}
	c.m.Transition(stateDone)
	return nil
}

func (c *Client) IsDone() bool {
	return c.m.IsDone()
}
