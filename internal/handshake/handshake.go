// Package handshake implements the version negotiation mini-protocol.
// Both peers must complete it before driving anything else over the
// bearer. One round trip: the client proposes a version table, the
// server accepts one entry or refuses.
package handshake

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/protocol"
)

type state int

const (
	statePropose state = iota
	stateConfirm
	stateDone
)

// Message labels on the wire.
const (
	labelProposeVersions = 0
	labelAcceptVersion   = 1
	labelRefuse          = 2
)

// Refuse reason labels.
const (
	labelVersionMismatch      = 0
	labelHandshakeDecodeError = 1
	labelRefused              = 2
)

type Message interface{ isHandshakeMessage() }

type MsgProposeVersions struct {
	Versions VersionTable
}

type MsgAcceptVersion struct {
	Version uint64
	Params  cbor.RawMessage
}

type MsgRefuse struct {
	Reason RefuseReason
}

func (MsgProposeVersions) isHandshakeMessage() {}
func (MsgAcceptVersion) isHandshakeMessage()   {}
func (MsgRefuse) isHandshakeMessage()          {}

// RefuseReason is the server's typed rejection. A refusal is a domain
// result, not a protocol violation.
type RefuseReason interface{ isRefuseReason() }

type VersionMismatch struct {
	Supported []uint64
}

type HandshakeDecodeError struct {
	Version uint64
	Reason  string
}

type Refused struct {
	Version uint64
	Reason  string
}

func (VersionMismatch) isRefuseReason()      {}
func (HandshakeDecodeError) isRefuseReason() {}
func (Refused) isRefuseReason()              {}

func encodeMessage(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case MsgProposeVersions:
		return cbor.Marshal([]any{labelProposeVersions, m.Versions.Versions})
	case MsgAcceptVersion:
		params := m.Params
		if params == nil {
			params = cbor.RawMessage{0xf6} // null
		}
		return cbor.Marshal([]any{labelAcceptVersion, m.Version, params})
	case MsgRefuse:
		reason, err := encodeRefuseReason(m.Reason)
		if err != nil {
			return nil, err
		}
		return cbor.Marshal([]any{labelRefuse, reason})
	default:
		return nil, fmt.Errorf("handshake: unknown message %T", msg)
	}
}

func encodeRefuseReason(r RefuseReason) (cbor.RawMessage, error) {
	switch r := r.(type) {
	case VersionMismatch:
		return cbor.Marshal([]any{labelVersionMismatch, r.Supported})
	case HandshakeDecodeError:
		return cbor.Marshal([]any{labelHandshakeDecodeError, r.Version, r.Reason})
	case Refused:
		return cbor.Marshal([]any{labelRefused, r.Version, r.Reason})
	default:
		return nil, fmt.Errorf("handshake: unknown refuse reason %T", r)
	}
}

func decodeMessage(data []byte) (Message, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("handshake: empty message array")
	}
	var label int
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}

	switch label {
	case labelProposeVersions:
		if len(fields) != 2 {
			return nil, fmt.Errorf("handshake: propose wants 2 fields, got %d", len(fields))
		}
		var versions map[uint64]cbor.RawMessage
		if err := cbor.Unmarshal(fields[1], &versions); err != nil {
			return nil, err
		}
		return MsgProposeVersions{Versions: VersionTable{Versions: versions}}, nil
	case labelAcceptVersion:
		if len(fields) != 3 {
			return nil, fmt.Errorf("handshake: accept wants 3 fields, got %d", len(fields))
		}
		var m MsgAcceptVersion
		if err := cbor.Unmarshal(fields[1], &m.Version); err != nil {
			return nil, err
		}
		m.Params = fields[2]
		return m, nil
	case labelRefuse:
		if len(fields) != 2 {
			return nil, fmt.Errorf("handshake: refuse wants 2 fields, got %d", len(fields))
		}
		reason, err := decodeRefuseReason(fields[1])
		if err != nil {
			return nil, err
		}
		return MsgRefuse{Reason: reason}, nil
	default:
		return nil, fmt.Errorf("handshake: unknown label %d", label)
	}
}

func decodeRefuseReason(data []byte) (RefuseReason, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("handshake: empty refuse reason")
	}
	var label int
	if err := cbor.Unmarshal(fields[0], &label); err != nil {
		return nil, err
	}
	switch label {
	case labelVersionMismatch:
		var r VersionMismatch
		if len(fields) != 2 {
			return nil, fmt.Errorf("handshake: version mismatch wants 2 fields")
		}
		if err := cbor.Unmarshal(fields[1], &r.Supported); err != nil {
			return nil, err
		}
		return r, nil
	case labelHandshakeDecodeError:
		var r HandshakeDecodeError
		if len(fields) != 3 {
			return nil, fmt.Errorf("handshake: decode error wants 3 fields")
		}
		if err := cbor.Unmarshal(fields[1], &r.Version); err != nil {
			return nil, err
		}
		if err := cbor.Unmarshal(fields[2], &r.Reason); err != nil {
			return nil, err
		}
		return r, nil
	case labelRefused:
		var r Refused
		if len(fields) != 3 {
			return nil, fmt.Errorf("handshake: refused wants 3 fields")
		}
		if err := cbor.Unmarshal(fields[1], &r.Version); err != nil {
			return nil, err
		}
		if err := cbor.Unmarshal(fields[2], &r.Reason); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("handshake: unknown refuse label %d", label)
	}
}

func clientSpec() protocol.Spec[state, Message] {
	return protocol.Spec[state, Message]{
		Agency: func(s state) protocol.Agency {
			switch s {
			case statePropose:
				return protocol.AgencyOurs
			case stateConfirm:
				return protocol.AgencyTheirs
			default:
				return protocol.AgencyNobody
			}
		},
		Outbound: func(s state, m Message) bool {
			_, propose := m.(MsgProposeVersions)
			return s == statePropose && propose
		},
		Inbound: func(s state, m Message) bool {
			if s != stateConfirm {
				return false
			}
			switch m.(type) {
			case MsgAcceptVersion, MsgRefuse:
				return true
			}
			return false
		},
		Encode: encodeMessage,
		Decode: decodeMessage,
	}
}

func serverSpec() protocol.Spec[state, Message] {
	return protocol.Invert(clientSpec())
}
