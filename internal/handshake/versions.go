package handshake

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/MitchTurner/pallas/internal/protocol"
)

// VersionTable maps a protocol version number to its version-specific
// parameters. The parameter shape differs between the n2n plane
// ([magic, initiatorOnlyDiffusion]) and the n2c plane (bare magic), so
// entries stay raw until the peer picks one.
type VersionTable struct {
	Versions map[uint64]cbor.RawMessage
}

// N2NVersionData is the parameter record for node-to-node versions 4+.
type N2NVersionData struct {
	NetworkMagic           protocol.MagicNum
	InitiatorOnlyDiffusion bool
}

func (d N2NVersionData) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]any{d.NetworkMagic, d.InitiatorOnlyDiffusion})
}

func (d *N2NVersionData) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("version data: unexpected array length %d", len(fields))
	}
	if err := cbor.Unmarshal(fields[0], &d.NetworkMagic); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &d.InitiatorOnlyDiffusion)
}

// V4AndAbove builds the node-to-node table proposing versions 4..7.
func V4AndAbove(magic protocol.MagicNum) VersionTable {
	versions := make(map[uint64]cbor.RawMessage)
	for v := uint64(4); v <= 7; v++ {
		data, _ := cbor.Marshal(N2NVersionData{NetworkMagic: magic})
		versions[v] = data
	}
	return VersionTable{Versions: versions}
}

// V1AndAbove builds the node-to-client table proposing versions 1..10,
// whose parameter is the bare network magic.
func V1AndAbove(magic protocol.MagicNum) VersionTable {
	versions := make(map[uint64]cbor.RawMessage)
	for v := uint64(1); v <= 10; v++ {
		data, _ := cbor.Marshal(magic)
		versions[v] = data
	}
	return VersionTable{Versions: versions}
}

// SingleVersion proposes exactly one version; useful for forcing a
// refusal or pinning a peer.
func SingleVersion(version uint64, params cbor.RawMessage) VersionTable {
	return VersionTable{Versions: map[uint64]cbor.RawMessage{version: params}}
}
