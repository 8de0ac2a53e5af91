package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Point is a position on the chain: either the origin or a specific
// (slot, block hash) pair. On the wire it is a CBOR array, empty for
// origin, [slot, hash] otherwise.
type Point struct {
	IsOrigin bool
	Slot     uint64
	Hash     []byte
}

func Origin() Point {
	return Point{IsOrigin: true}
}

func Specific(slot uint64, hash []byte) Point {
	return Point{Slot: slot, Hash: hash}
}

func (p Point) Equal(o Point) bool {
	if p.IsOrigin || o.IsOrigin {
		return p.IsOrigin == o.IsOrigin
	}
	return p.Slot == o.Slot && bytes.Equal(p.Hash, o.Hash)
}

func (p Point) String() string {
	if p.IsOrigin {
		return "origin"
	}
	return fmt.Sprintf("%d@%s", p.Slot, hex.EncodeToString(p.Hash))
}

func (p Point) MarshalCBOR() ([]byte, error) {
	if p.IsOrigin {
		return cbor.Marshal([]any{})
	}
	return cbor.Marshal([]any{p.Slot, p.Hash})
}

func (p *Point) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	switch len(fields) {
	case 0:
		*p = Origin()
		return nil
	case 2:
		var slot uint64
		var hash []byte
		if err := cbor.Unmarshal(fields[0], &slot); err != nil {
			return fmt.Errorf("point slot: %w", err)
		}
		if err := cbor.Unmarshal(fields[1], &hash); err != nil {
			return fmt.Errorf("point hash: %w", err)
		}
		*p = Specific(slot, hash)
		return nil
	default:
		return fmt.Errorf("point: unexpected array length %d", len(fields))
	}
}

// Tip is the best chain point a peer advertises, paired with its block
// height. Wire shape: [point, blockNo].
type Tip struct {
	Point   Point
	BlockNo uint64
}

func (t Tip) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]any{t.Point, t.BlockNo})
}

func (t *Tip) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("tip: %w", err)
	}
	if len(fields) != 2 {
		return fmt.Errorf("tip: unexpected array length %d", len(fields))
	}
	if err := cbor.Unmarshal(fields[0], &t.Point); err != nil {
		return err
	}
	if err := cbor.Unmarshal(fields[1], &t.BlockNo); err != nil {
		return fmt.Errorf("tip block number: %w", err)
	}
	return nil
}
