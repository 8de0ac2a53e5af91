package chainsync

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

type NextKind int

const (
	// NextRollForward extends the consumer's chain with new content.
	NextRollForward NextKind = iota
	// NextRollBackward is authoritative: the consumer must discard
	// everything it accepted at slots >= the rollback point (everything,
	// if the point is origin).
	NextRollBackward
	// NextAwait means the producer has nothing yet; the client moved to
	// the must-reply state and should call RecvWhileMustReply.
	NextAwait
)

type NextResponse[C any] struct {
	Kind    NextKind
	Content C
	Point   protocol.Point
	Tip     protocol.Tip
}

// Client drives chain synchronization against a producer peer. C is the
// roll-forward content: HeaderContent on the n2n plane, BlockContent on
// the n2c plane.
type Client[C any] struct {
	m             *protocol.Machine[state, Message]
	decodeContent func(cbor.RawMessage) (C, error)
}

func NewN2NClient(ch plexer.Channel) *Client[HeaderContent] {
	return &Client[HeaderContent]{
		m:             protocol.NewMachine(stateIdle, clientSpec(), ch),
		decodeContent: decodeHeaderContent,
	}
}

func NewN2CClient(ch plexer.Channel) *Client[BlockContent] {
	return &Client[BlockContent]{
		m:             protocol.NewMachine(stateIdle, clientSpec(), ch),
		decodeContent: decodeBlockContent,
	}
}

// FindIntersect asks the producer for the newest of points that is on
// its chain. Points should be ordered tip-ward first to bound the
// producer's search. A nil point with no error means no intersection.
func (c *Client[C]) FindIntersect(points []protocol.Point) (*protocol.Point, protocol.Tip, error) {
	if err := c.m.Send(MsgFindIntersect{Points: points}); err != nil {
		return nil, protocol.Tip{}, err
	}
	c.m.Transition(stateIntersect)

	msg, err := c.m.Recv()
	if err != nil {
		return nil, protocol.Tip{}, err
	}
	c.m.Transition(stateIdle)

	switch m := msg.(type) {
	case MsgIntersectFound:
		return &m.Point, m.Tip, nil
	case MsgIntersectNotFound:
		return nil, m.Tip, nil
	default:
		return nil, protocol.Tip{}, fmt.Errorf("chainsync: unexpected intersect reply %T", msg)
	}
}

// RequestNext asks for the next chain update. If the producer is at its
// tip the response kind is NextAwait and agency stays with the producer
// until it publishes new chain.
func (c *Client[C]) RequestNext() (NextResponse[C], error) {
	if err := c.m.Send(MsgRequestNext{}); err != nil {
		return NextResponse[C]{}, err
	}
	c.m.Transition(stateCanAwait)

	msg, err := c.m.Recv()
	if err != nil {
		return NextResponse[C]{}, err
	}
	return c.processNext(msg)
}

// RecvWhileMustReply blocks in the must-reply state until the producer
// publishes the next update.
func (c *Client[C]) RecvWhileMustReply() (NextResponse[C], error) {
	if c.m.State() != stateMustReply {
		return NextResponse[C]{}, fmt.Errorf("chainsync: not awaiting a reply: %w", protocol.ErrAgencyIsOurs)
	}
	msg, err := c.m.Recv()
	if err != nil {
		return NextResponse[C]{}, err
	}
	return c.processNext(msg)
}

func (c *Client[C]) processNext(msg Message) (NextResponse[C], error) {
	switch m := msg.(type) {
	case MsgRollForward:
		content, err := c.decodeContent(m.Content)
		if err != nil {
			return NextResponse[C]{}, fmt.Errorf("%v: %w", err, protocol.ErrMalformedMessage)
		}
		c.m.Transition(stateIdle)
		return NextResponse[C]{Kind: NextRollForward, Content: content, Tip: m.Tip}, nil
	case MsgRollBackward:
		c.m.Transition(stateIdle)
		return NextResponse[C]{Kind: NextRollBackward, Point: m.Point, Tip: m.Tip}, nil
	case MsgAwaitReply:
		c.m.Transition(stateMustReply)
		return NextResponse[C]{Kind: NextAwait}, nil
	default:
		return NextResponse[C]{}, fmt.Errorf("chainsync: unexpected next reply %T", msg)
	}
}

// IntersectOrigin rewinds the producer to the very start of the chain.
func (c *Client[C]) IntersectOrigin() (protocol.Point, error) {
	point, _, err := c.FindIntersect([]protocol.Point{protocol.Origin()})
	if err != nil {
		return protocol.Point{}, err
	}
	if point == nil {
		return protocol.Point{}, fmt.Errorf("chainsync: producer does not know origin")
	}
	return *point, nil
}

// IntersectTip fast-forwards the producer to its current tip: one probe
// to learn the tip, then an intersect at it.
func (c *Client[C]) IntersectTip() (protocol.Point, error) {
	_, tip, err := c.FindIntersect([]protocol.Point{protocol.Origin()})
	if err != nil {
		return protocol.Point{}, err
	}
	point, _, err := c.FindIntersect([]protocol.Point{tip.Point})
	if err != nil {
		return protocol.Point{}, err
	}
	if point == nil {
		return protocol.Point{}, fmt.Errorf("chainsync: tip %v rolled away during intersect", tip.Point)
	}
	return *point, nil
}

// HasAgency lets a driver loop choose between RequestNext and
// RecvWhileMustReply.
func (c *Client[C]) HasAgency() bool {
	return c.m.HasAgency()
}

func (c *Client[C]) Done() error {
	if err := c.m.Send(MsgDone{}); err != nil {
		return err
	}
	c.m.Transition(stateDone)
	return nil
}

func (c *Client[C]) IsDone() bool {
	return c.m.IsDone()
}
