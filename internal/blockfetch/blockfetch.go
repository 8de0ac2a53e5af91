// Package blockfetch implements the block download mini-protocol: the
// client names a point range, the server streams the block bodies in
// chain order or reports that it cannot serve the range.
package blockfetch

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/protocol"
)

type state int

const (
	stateIdle state = iota
	stateBusy
	stateStreaming
	stateDone
)

const (
	labelRequestRange = iota
	labelClientDone
	labelStartBatch
	labelNoBlocks
	labelBlock
	labelBatchDone
)

const wrappedCborTag = 24

type Message interface{ isBlockFetchMessage() }

type MsgRequestRange struct {
	From protocol.Point
	To   protocol.Point
}

type MsgClientDone struct{}

type MsgStartBatch struct{}

type MsgNoBlocks struct{}

type MsgBlock struct {
	Body []byte
}

type MsgBatchDone struct{}

func (MsgRequestRange) isBlockFetchMessage() {}
func (MsgClientDone) isBlockFetchMessage()   {}
func (MsgStartBatch) isBlockFetchMessage()   {}
func (MsgNoBlocks) isBlockFetchMessage()     {}
func (MsgBlock) isBlockFetchMessage()        {}
func (MsgBatchDone) isBlockFetchMessage()    {}

func encodeMessage(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case MsgRequestRange:
		return cbor.Marshal([]any{labelRequestRange, m.From, m.To})
	case MsgClientDone:
		return cbor.Marshal([]any{labelClientDone})
	case MsgStartBatch:
		return cbor.Marshal([]any{labelStartBatch})
	case MsgNoBlocks:
		return cbor.Marshal([]any{labelNoBlocks})
	case MsgBlock:
		return cbor.Marshal([]any{labelBlock, cbor.Tag{Number: wrappedCborTag, Content: m.Body}})
	case MsgBatchDone:
		return cbor.Marshal([]any{labelBatchDone})
	default:
		return nil, fmt.Errorf("blockfetch: unknown message %T", msg)
	}
}

func decodeMessage(data []byte) (Message, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("blockfetch: empty message array")
	}
	var label int
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}

	switch label {
	case labelRequestRange:
		if len(fields) != 3 {
			return nil, fmt.Errorf("blockfetch: request range wants 3 fields, got %d", len(fields))
		}
		var m MsgRequestRange
		if err := cbor.Unmarshal(fields[1], &m.From); err != nil {
			return nil, err
		}
		if err := cbor.Unmarshal(fields[2], &m.To); err != nil {
			return nil, err
		}
		return m, nil
	case labelClientDone:
		return MsgClientDone{}, nil
	case labelStartBatch:
		return MsgStartBatch{}, nil
	case labelNoBlocks:
		return MsgNoBlocks{}, nil
	case labelBlock:
		if len(fields) != 2 {
			return nil, fmt.Errorf("blockfetch: block wants 2 fields, got %d", len(fields))
		}
		var tag cbor.Tag
		if err := cbor.Unmarshal(fields[1], &tag); err != nil {
			return nil, err
		}
		body, ok := tag.Content.([]byte)
		if tag.Number != wrappedCborTag || !ok {
			return nil, fmt.Errorf("blockfetch: block body is not a wrapped byte string")
		}
		return MsgBlock{Body: body}, nil
	case labelBatchDone:
		return MsgBatchDone{}, nil
	default:
		return nil, fmt.Errorf("blockfetch: unknown label %d", label)
	}
}

func clientSpec() protocol.Spec[state, Message] {
	return protocol.Spec[state, Message]{
		Agency: func(s state) protocol.Agency {
			switch s {
			case stateIdle:
				return protocol.AgencyOurs
			case stateBusy, stateStreaming:
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
			case MsgRequestRange, MsgClientDone:
				return true
			}
			return false
		},
		Inbound: func(s state, m Message) bool {
			switch s {
			case stateBusy:
				switch m.(type) {
				case MsgStartBatch, MsgNoBlocks:
					return true
				}
			case stateStreaming:
				switch m.(type) {
				case MsgBlock, MsgBatchDone:
					return true
				}
			}
			return false
		},
		Encode: encodeMessage,
		Decode: decodeMessage,
	}
}
