// Package txsubmission implements the transaction relay mini-protocol.
// Unusually, the server drives: it asks the connected client for tx ids
// and bodies, windowed by an acknowledgement counter.
package txsubmission

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/MitchTurner/pallas/internal/protocol"
)

type state int

const (
	stateInit state = iota
	stateIdle
	stateTxIdsBlocking
	stateTxIdsNonBlocking
	stateTxs
	stateDone
)

const (
	labelRequestTxIds = 0
	labelReplyTxIds   = 1
	labelRequestTxs   = 2
	labelReplyTxs     = 3
	labelDone         = 4
	labelInit         = 6
)

const wrappedCborTag = 24

// TxID identifies a transaction: its era tag and the blake2b-256 hash
// of the tx body.
type TxID struct {
	Era  uint16
	Hash []byte
}

func (id TxID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]any{id.Era, id.Hash})
}

func (id *TxID) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("tx id: unexpected array length %d", len(fields))
	}
	if err := cbor.Unmarshal(fields[0], &id.Era); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &id.Hash)
}

// TxIDAndSize is an advertised transaction: its id plus the byte size
// of the body, so the server can budget its fetch window.
type TxIDAndSize struct {
	ID   TxID
	Size uint32
}

func (ts TxIDAndSize) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]any{ts.ID, ts.Size})
}

func (ts *TxIDAndSize) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("tx id and size: unexpected array length %d", len(fields))
	}
	if err := cbor.Unmarshal(fields[0], &ts.ID); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &ts.Size)
}

// TxBody is an era-tagged raw transaction.
type TxBody struct {
	Era  uint16
	Cbor []byte
}

func (tb TxBody) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]any{tb.Era, cbor.Tag{Number: wrappedCborTag, Content: tb.Cbor}})
}

func (tb *TxBody) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("tx body: unexpected array length %d", len(fields))
	}
	if err := cbor.Unmarshal(fields[0], &tb.Era); err != nil {
		return err
	}
	var tag cbor.Tag
	if err := cbor.Unmarshal(fields[1], &tag); err != nil {
		return err
	}
	body, ok := tag.Content.([]byte)
	if tag.Number != wrappedCborTag || !ok {
		return fmt.Errorf("tx body: not a wrapped byte string")
	}
	tb.Cbor = body
	return nil
}

// ID derives the transaction id from the body bytes.
func (tb TxBody) ID() TxID {
	hash := blake2b.Sum256(tb.Cbor)
	return TxID{Era: tb.Era, Hash: hash[:]}
}

type Message interface{ isTxSubmissionMessage() }

type MsgInit struct{}

type MsgRequestTxIds struct {
	Blocking    bool
	Acknowledge uint16
	Request     uint16
}

type MsgReplyTxIds struct {
	IDs []TxIDAndSize
}

type MsgRequestTxs struct {
	IDs []TxID
}

type MsgReplyTxs struct {
	Bodies []TxBody
}

type MsgDone struct{}

func (MsgInit) isTxSubmissionMessage()         {}
func (MsgRequestTxIds) isTxSubmissionMessage() {}
func (MsgReplyTxIds) isTxSubmissionMessage()   {}
func (MsgRequestTxs) isTxSubmissionMessage()   {}
func (MsgReplyTxs) isTxSubmissionMessage()     {}
func (MsgDone) isTxSubmissionMessage()         {}

func encodeMessage(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case MsgInit:
		return cbor.Marshal([]any{labelInit})
	case MsgRequestTxIds:
		return cbor.Marshal([]any{labelRequestTxIds, m.Blocking, m.Acknowledge, m.Request})
	case MsgReplyTxIds:
		ids := m.IDs
		if ids == nil {
			ids = []TxIDAndSize{}
		}
		return cbor.Marshal([]any{labelReplyTxIds, ids})
	case MsgRequestTxs:
		ids := m.IDs
		if ids == nil {
			ids = []TxID{}
		}
		return cbor.Marshal([]any{labelRequestTxs, ids})
	case MsgReplyTxs:
		bodies := m.Bodies
		if bodies == nil {
			bodies = []TxBody{}
		}
		return cbor.Marshal([]any{labelReplyTxs, bodies})
	case MsgDone:
		return cbor.Marshal([]any{labelDone})
	default:
		return nil, fmt.Errorf("txsubmission: unknown message %T", msg)
	}
}

func decodeMessage(data []byte) (Message, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("txsubmission: empty message array")
	}
	var label int
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}

	switch label {
	case labelInit:
		return MsgInit{}, nil
	case labelRequestTxIds:
		if len(fields) != 4 {
			return nil, fmt.Errorf("txsubmission: request tx ids wants 4 fields, got %d", len(fields))
		}
		var m MsgRequestTxIds
		if err := cbor.Unmarshal(fields[1], &m.Blocking); err != nil {
			return nil, err
		}
		if err := cbor.Unmarshal(fields[2], &m.Acknowledge); err != nil {
			return nil, err
		}
		if err := cbor.Unmarshal(fields[3], &m.Request); err != nil {
			return nil, err
		}
		return m, nil
	case labelReplyTxIds:
		if len(fields) != 2 {
			return nil, fmt.Errorf("txsubmission: reply tx ids wants 2 fields, got %d", len(fields))
		}
		var m MsgReplyTxIds
		if err := cbor.Unmarshal(fields[1], &m.IDs); err != nil {
			return nil, err
		}
		return m, nil
	case labelRequestTxs:
		if len(fields) != 2 {
			return nil, fmt.Errorf("txsubmission: request txs wants 2 fields, got %d", len(fields))
		}
		var m MsgRequestTxs
		if err := cbor.Unmarshal(fields[1], &m.IDs); err != nil {
			return nil, err
		}
		return m, nil
	case labelReplyTxs:
		if len(fields) != 2 {
			return nil, fmt.Errorf("txsubmission: reply txs wants 2 fields, got %d", len(fields))
		}
		var m MsgReplyTxs
		if err := cbor.Unmarshal(fields[1], &m.Bodies); err != nil {
			return nil, err
		}
		return m, nil
	case labelDone:
		return MsgDone{}, nil
	default:
		return nil, fmt.Errorf("txsubmission: unknown label %d", label)
	}
}

// serverSpec is written from the server's own point of view rather than
// by inverting a client table, because the server drives this protocol.
func serverSpec() protocol.Spec[state, Message] {
	return protocol.Spec[state, Message]{
		Agency: func(s state) protocol.Agency {
			switch s {
			case stateIdle:
				return protocol.AgencyOurs
			case stateInit, stateTxIdsBlocking, stateTxIdsNonBlocking, stateTxs:
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
			case MsgRequestTxIds, MsgRequestTxs:
				return true
			}
			return false
		},
		Inbound: func(s state, m Message) bool {
			switch s {
			case stateInit:
				_, init := m.(MsgInit)
				return init
			case stateTxIdsBlocking:
				switch mm := m.(type) {
				case MsgReplyTxIds:
					// a blocking request must not be answered empty
					return len(mm.IDs) > 0
				case MsgDone:
					return true
				}
			case stateTxIdsNonBlocking:
				_, reply := m.(MsgReplyTxIds)
				return reply
			case stateTxs:
				_, reply := m.(MsgReplyTxs)
				return reply
			}
			return false
		},
		Encode: encodeMessage,
		Decode: decodeMessage,
	}
}
