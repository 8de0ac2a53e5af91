// Package chainsync implements the chain synchronization mini-protocol
// on both planes: header sync against a remote node (n2n) and full
// block sync against a local node (n2c).
package chainsync

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/protocol"
)

type state int

const (
	stateIdle state = iota
	stateCanAwait
	stateMustReply
	stateIntersect
	stateDone
)

const (
	labelRequestNext = iota
	labelAwaitReply
	labelRollForward
	labelRollBackward
	labelFindIntersect
	labelIntersectFound
	labelIntersectNotFound
	labelDone
)

type Message interface{ isChainSyncMessage() }

type MsgRequestNext struct{}

type MsgAwaitReply struct{}

// MsgRollForward carries era-dependent content: a wrapped header on the
// n2n plane, a whole block on the n2c plane. It stays raw here and is
// interpreted by the client's content codec.
type MsgRollForward struct {
	Content cbor.RawMessage
	Tip     protocol.Tip
}

type MsgRollBackward struct {
	Point protocol.Point
	Tip   protocol.Tip
}

type MsgFindIntersect struct {
	Points []protocol.Point
}

type MsgIntersectFound struct {
	Point protocol.Point
	Tip   protocol.Tip
}

type MsgIntersectNotFound struct {
	Tip protocol.Tip
}

type MsgDone struct{}

func (MsgRequestNext) isChainSyncMessage()       {}
func (MsgAwaitReply) isChainSyncMessage()        {}
func (MsgRollForward) isChainSyncMessage()       {}
func (MsgRollBackward) isChainSyncMessage()      {}
func (MsgFindIntersect) isChainSyncMessage()     {}
func (MsgIntersectFound) isChainSyncMessage()    {}
func (MsgIntersectNotFound) isChainSyncMessage() {}
func (MsgDone) isChainSyncMessage()              {}

func encodeMessage(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case MsgRequestNext:
		return cbor.Marshal([]any{labelRequestNext})
	case MsgAwaitReply:
		return cbor.Marshal([]any{labelAwaitReply})
	case MsgRollForward:
		return cbor.Marshal([]any{labelRollForward, m.Content, m.Tip})
	case MsgRollBackward:
		return cbor.Marshal([]any{labelRollBackward, m.Point, m.Tip})
	case MsgFindIntersect:
		return cbor.Marshal([]any{labelFindIntersect, m.Points})
	case MsgIntersectFound:
		return cbor.Marshal([]any{labelIntersectFound, m.Point, m.Tip})
	case MsgIntersectNotFound:
		return cbor.Marshal([]any{labelIntersectNotFound, m.Tip})
	case MsgDone:
		return cbor.Marshal([]any{labelDone})
	default:
		return nil, fmt.Errorf("chainsync: unknown message %T", msg)
	}
}

func decodeMessage(data []byte) (Message, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("chainsync: empty message array")
	}
	var label int
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}

	switch label {
	case labelRequestNext:
		return MsgRequestNext{}, nil
	case labelAwaitReply:
		return MsgAwaitReply{}, nil
	case labelRollForward:
		if len(fields) != 3 {
			return nil, fmt.Errorf("chainsync: roll forward wants 3 fields, got %d", len(fields))
		}
		var m MsgRollForward
		m.Content = fields[1]
		if err := cbor.Unmarshal(fields[2], &m.Tip); err != nil {
			return nil, err
		}
		return m, nil
	case labelRollBackward:
		if len(fields) != 3 {
			return nil, fmt.Errorf("chainsync: roll backward wants 3 fields, got %d", len(fields))
		}
		var m MsgRollBackward
		if err := cbor.Unmarshal(fields[1], &m.Point); err != nil {
			return nil, err
		}
		if err := cbor.Unmarshal(fields[2], &m.Tip); err != nil {
			return nil, err
		}
		return m, nil
	case labelFindIntersect:
		if len(fields) != 2 {
			return nil, fmt.Errorf("chainsync: find intersect wants 2 fields, got %d", len(fields))
		}
		var m MsgFindIntersect
		if err := cbor.Unmarshal(fields[1], &m.Points); err != nil {
			return nil, err
		}
		return m, nil
	case labelIntersectFound:
		if len(fields) != 3 {
			return nil, fmt.Errorf("chainsync: intersect found wants 3 fields, got %d", len(fields))
		}
		var m MsgIntersectFound
		if err := cbor.Unmarshal(fields[1], &m.Point); err != nil {
			return nil, err
		}
		if err := cbor.Unmarshal(fields[2], &m.Tip); err != nil {
			return nil, err
		}
		return m, nil
	case labelIntersectNotFound:
		if len(fields) != 2 {
			return nil, fmt.Errorf("chainsync: intersect not found wants 2 fields, got %d", len(fields))
		}
		var m MsgIntersectNotFound
		if err := cbor.Unmarshal(fields[1], &m.Tip); err != nil {
			return nil, err
		}
		return m, nil
	case labelDone:
		return MsgDone{}, nil
	default:
		return nil, fmt.Errorf("chainsync: unknown label %d", label)
	}
}

func clientSpec() protocol.Spec[state, Message] {
	return protocol.Spec[state, Message]{
		Agency: func(s state) protocol.Agency {
			switch s {
			case stateIdle:
				return protocol.AgencyOurs
			case stateCanAwait, stateMustReply, stateIntersect:
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
			case MsgRequestNext, MsgFindIntersect, MsgDone:
				return true
			}
			return false
		},
		Inbound: func(s state, m Message) bool {
			switch s {
			case stateCanAwait:
				switch m.(type) {
				case MsgRollForward, MsgRollBackward, MsgAwaitReply:
					return true
				}
			case stateMustReply:
				switch m.(type) {
				case MsgRollForward, MsgRollBackward:
					return true
				}
			case stateIntersect:
				switch m.(type) {
				case MsgIntersectFound, MsgIntersectNotFound:
					return true
				}
			}
			return false
		},
		Encode: encodeMessage,
		Decode: decodeMessage,
	}
}
