package chainsync

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const wrappedCborTag = 24

// HeaderContent is the n2n roll-forward payload: a block header still
// in its era-specific CBOR, tagged with the era variant. Byron headers
// additionally carry a (subtag, epoch size) prefix. Decoding the header
// itself is the ledger collaborator's job.
type HeaderContent struct {
	Variant     uint8
	ByronPrefix *[2]uint64
	Cbor        []byte
}

// BlockContent is the n2c roll-forward payload: a whole block, raw.
type BlockContent []byte

func wrapCbor(body []byte) cbor.Tag {
	return cbor.Tag{Number: wrappedCborTag, Content: body}
}

func unwrapCbor(raw cbor.RawMessage) ([]byte, error) {
	var tag cbor.Tag
	if err := cbor.Unmarshal(raw, &tag); err != nil {
		return nil, err
	}
	if tag.Number != wrappedCborTag {
		return nil, fmt.Errorf("chainsync: expected tag %d, got %d", wrappedCborTag, tag.Number)
	}
	body, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("chainsync: tag %d content is not a byte string", wrappedCborTag)
	}
	return body, nil
}

func decodeHeaderContent(raw cbor.RawMessage) (HeaderContent, error) {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(raw, &fields); err != nil {
		return HeaderContent{}, err
	}
	if len(fields) != 2 {
		return HeaderContent{}, fmt.Errorf("chainsync: header content wants 2 fields, got %d", len(fields))
	}
	var hc HeaderContent
	if err := cbor.Unmarshal(fields[0], &hc.Variant); err != nil {
		return HeaderContent{}, err
	}
	if hc.Variant == 0 {
		// byron: [[subtag, epoch size], wrapped header]
		var inner []cbor.RawMessage
		if err := cbor.Unmarshal(fields[1], &inner); err != nil {
			return HeaderContent{}, err
		}
		if len(inner) != 2 {
			return HeaderContent{}, fmt.Errorf("chainsync: byron content wants 2 fields, got %d", len(inner))
		}
		var prefix [2]uint64
		if err := cbor.Unmarshal(inner[0], &prefix); err != nil {
			return HeaderContent{}, err
		}
		hc.ByronPrefix = &prefix
		body, err := unwrapCbor(inner[1])
		if err != nil {
			return HeaderContent{}, err
		}
		hc.Cbor = body
		return hc, nil
	}
	body, err := unwrapCbor(fields[1])
	if err != nil {
		return HeaderContent{}, err
	}
	hc.Cbor = body
	return hc, nil
}

func encodeHeaderContent(hc HeaderContent) (cbor.RawMessage, error) {
	if hc.ByronPrefix != nil {
		return cbor.Marshal([]any{hc.Variant, []any{hc.ByronPrefix, wrapCbor(hc.Cbor)}})
	}
	return cbor.Marshal([]any{hc.Variant, wrapCbor(hc.Cbor)})
}

func decodeBlockContent(raw cbor.RawMessage) (BlockContent, error) {
	body, err := unwrapCbor(raw)
	if err != nil {
		return nil, err
	}
	return BlockContent(body), nil
}

func encodeBlockContent(bc BlockContent) (cbor.RawMessage, error) {
	return cbor.Marshal(wrapCbor([]byte(bc)))
}
