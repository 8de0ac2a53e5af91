package localstate

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

// Acquire failures are domain results: the client stays in Idle and may
// retry with a younger point.
var (
	ErrPointTooOld     = errors.New("localstate: point is older than the node's immutable tip window")
	ErrPointNotOnChain = errors.New("localstate: point is not on the node's chain")
)

type Client struct {
	m *protocol.Machine[state, Message]
}

func NewClient(ch plexer.Channel) *Client {
	return &Client{m: protocol.NewMachine(stateIdle, clientSpec(), ch)}
}

// Acquire snapshots the ledger at a point, or at the node's tip when
// point is nil. The snapshot stays valid until Release.
func (c *Client) Acquire(point *protocol.Point) error {
	if err := c.m.Send(MsgAcquire{Point: point}); err != nil {
		return err
	}
	c.m.Transition(stateAcquiring)
	return c.finishAcquire()
}

// ReAcquire moves the snapshot to a new point without releasing it.
func (c *Client) ReAcquire(point *protocol.Point) error {
	if err := c.m.Send(MsgReAcquire{Point: point}); err != nil {
		return err
	}
	c.m.Transition(stateAcquiring)
	return c.finishAcquire()
}

func (c *Client) finishAcquire() error {
	msg, err := c.m.Recv()
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case MsgAcquired:
		c.m.Transition(stateAcquired)
		return nil
	case MsgFailure:
		c.m.Transition(stateIdle)
		switch m.Reason {
		case failurePointTooOld:
			return ErrPointTooOld
		case failurePointNotOnChain:
			return ErrPointNotOnChain
		default:
			return fmt.Errorf("localstate: unknown acquire failure %d", m.Reason)
		}
	default:
		return fmt.Errorf("localstate: unexpected acquire reply %T", msg)
	}
}

// Query runs one opaque query against the acquired snapshot.
func (c *Client) Query(query cbor.RawMessage) (cbor.RawMessage, error) {
	if err := c.m.Send(MsgQuery{Query: query}); err != nil {
		return nil, err
	}
	c.m.Transition(stateQuerying)

	msg, err := c.m.Recv()
	if err != nil {
		return nil, err
	}
	result, ok := msg.(MsgResult)
	if !ok {
		return nil, fmt.Errorf("localstate: unexpected query reply %T", msg)
	}
	c.m.Transition(stateAcquired)
	return result.Result, nil
}

// Release drops the snapshot and returns to Idle.
func (c *Client) Release() error {
	if err := c.m.Send(MsgRelease{}); err != nil {
		return err
	}
	c.m.Transition(stateIdle)
	return nil
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
