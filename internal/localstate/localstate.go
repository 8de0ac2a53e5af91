// Package localstate implements the local state query mini-protocol
// (n2c only): acquire a ledger snapshot at a point, run queries against
// it, release. Query and result payloads stay opaque CBOR; their shapes
// belong to the ledger-era collaborator.
package localstate

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/protocol"
)

type state int

const (
	stateIdle state = iota
	stateAcquiring
	stateAcquired
	stateQuerying
	stateDone
)

const (
	labelAcquire = iota
	labelAcquired
	labelFailure
	labelQuery
	labelResult
	labelRelease
	labelReAcquire
	labelDone
	labelAcquireTip
)

// Acquire failure reasons.
const (
	failurePointTooOld = iota
	failurePointNotOnChain
)

type Message interface{ isLocalStateMessage() }

// MsgAcquire snapshots the ledger at a point, or at the node's current
// tip when Point is nil.
type MsgAcquire struct {
	Point *protocol.Point
}

type MsgAcquired struct{}

type MsgFailure struct {
	Reason int
}

type MsgQuery struct {
	Query cbor.RawMessage
}

type MsgResult struct {
	Result cbor.RawMessage
}

type MsgRelease struct{}

// MsgReAcquire moves an existing snapshot to a new point without going
// through Idle.
type MsgReAcquire struct {
	Point *protocol.Point
}

type MsgDone struct{}

func (MsgAcquire) isLocalStateMessage()   {}
func (MsgAcquired) isLocalStateMessage()  {}
func (MsgFailure) isLocalStateMessage()   {}
func (MsgQuery) isLocalStateMessage()     {}
func (MsgResult) isLocalStateMessage()    {}
func (MsgRelease) isLocalStateMessage()   {}
func (MsgReAcquire) isLocalStateMessage() {}
func (MsgDone) isLocalStateMessage()      {}

func encodeMessage(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case MsgAcquire:
		if m.Point == nil {
			return cbor.Marshal([]any{labelAcquireTip})
		}
		return cbor.Marshal([]any{labelAcquire, *m.Point})
	case MsgAcquired:
		return cbor.Marshal([]any{labelAcquired})
	case MsgFailure:
		return cbor.Marshal([]any{labelFailure, m.Reason})
	case MsgQuery:
		return cbor.Marshal([]any{labelQuery, m.Query})
	case MsgResult:
		return cbor.Marshal([]any{labelResult, m.Result})
	case MsgRelease:
		return cbor.Marshal([]any{labelRelease})
	case MsgReAcquire:
		if m.Point == nil {
			return cbor.Marshal([]any{labelReAcquire})
		}
		return cbor.Marshal([]any{labelReAcquire, *m.Point})
	case MsgDone:
		return cbor.Marshal([]any{labelDone})
	default:
		return nil, fmt.Errorf("localstate: unknown message %T", msg)
	}
}

func decodeMessage(data []byte) (Message, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("localstate: empty message array")
	}
	var label int
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}

	switch label {
	case labelAcquire, labelReAcquire:
		var point *protocol.Point
		if len(fields) == 2 {
			point = new(protocol.Point)
			if err := cbor.Unmarshal(fields[1], point); err != nil {
				return nil, err
			}
		}
		if label == labelAcquire {
			return MsgAcquire{Point: point}, nil
		}
		return MsgReAcquire{Point: point}, nil
	case labelAcquireTip:
		return MsgAcquire{}, nil
	case labelAcquired:
		return MsgAcquired{}, nil
	case labelFailure:
		if len(fields) != 2 {
			return nil, fmt.Errorf("localstate: failure wants 2 fields, got %d", len(fields))
		}
		var m MsgFailure
		if err := cbor.Unmarshal(fields[1], &m.Reason); err != nil {
			return nil, err
		}
		return m, nil
	case labelQuery:
		if len(fields) != 2 {
			return nil, fmt.Errorf("localstate: query wants 2 fields, got %d", len(fields))
		}
		return MsgQuery{Query: fields[1]}, nil
	case labelResult:
		if len(fields) != 2 {
			return nil, fmt.Errorf("localstate: result wants 2 fields, got %d", len(fields))
		}
		return MsgResult{Result: fields[1]}, nil
	case labelRelease:
		return MsgRelease{}, nil
	case labelDone:
		return MsgDone{}, nil
	default:
		return nil, fmt.Errorf("localstate: unknown label %d", label)
	}
}

func clientSpec() protocol.Spec[state, Message] {
	return protocol.Spec[state, Message]{
		Agency: func(s state) protocol.Agency {
			switch s {
			case stateIdle, stateAcquired:
				return protocol.AgencyOurs
			case stateAcquiring, stateQuerying:
				return protocol.AgencyTheirs
			default:
				return protocol.AgencyNobody
			}
		},
		Outbound: func(s state, m Message) bool {
			switch s {
			case stateIdle:
				switch m.(type) {
				case MsgAcquire, MsgDone:
					return true
				}
			case stateAcquired:
				switch m.(type) {
				case MsgQuery, MsgReAcquire, MsgRelease:
					return true
				}
			}
			return false
		},
		Inbound: func(s state, m Message) bool {
			switch s {
			case stateAcquiring:
				switch m.(type) {
				case MsgAcquired, MsgFailure:
					return true
				}
			case stateQuerying:
				_, result := m.(MsgResult)
				return result
			}
			return false
		},
		Encode: encodeMessage,
		Decode: decodeMessage,
	}
}
