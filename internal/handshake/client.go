package handshake

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

// Confirmation is the outcome of one negotiation round trip.
type Confirmation struct {
	Accepted bool
	Version  uint64
	Params   cbor.RawMessage
	Refusal  RefuseReason
}

type Client struct {
	m *protocol.Machine[state, Message]
}

func NewClient(ch plexer.Channel) *Client {
	return &Client{m: protocol.NewMachine(statePropose, clientSpec(), ch)}
}

// Handshake proposes the version table and blocks for the server's
// verdict. A refusal is a domain result, not an error.
func (c *Client) Handshake(versions VersionTable) (Confirmation, error) {
	if err := c.m.Send(MsgProposeVersions{Versions: versions}); err != nil {
		return Confirmation{}, err
	}
	c.m.Transition(stateConfirm)

	msg, err := c.m.Recv()
	if err != nil {
		return Confirmation{}, err
	}
	c.m.Transition(stateDone)

	switch m := msg.(type) {
	case MsgAcceptVersion:
		return Confirmation{Accepted: true, Version: m.Version, Params: m.Params}, nil
	case MsgRefuse:
		return Confirmation{Refusal: m.Reason}, nil
	default:
		return Confirmation{}, fmt.Errorf("handshake: unexpected confirmation %T", msg)
	}
}

func (c *Client) IsDone() bool {
	return c.m.IsDone()
}
