package protocol

// Mini-protocol ids (15-bit). The same numeric id can mean different
// protocols on the node-to-node and node-to-client planes.
const (
	PROTOCOL_N2N_HANDSHAKE     uint16 = 0
	PROTOCOL_N2N_CHAIN_SYNC    uint16 = 2
	PROTOCOL_N2N_BLOCK_FETCH   uint16 = 3
	PROTOCOL_N2N_TX_SUBMISSION uint16 = 4

	PROTOCOL_N2C_HANDSHAKE     uint16 = 0
	PROTOCOL_N2C_CHAIN_SYNC    uint16 = 5
	PROTOCOL_N2C_TX_SUBMISSION uint16 = 6
	PROTOCOL_N2C_STATE_QUERY   uint16 = 7
)

type MagicNum = uint64

// Network magics carried in the handshake version table.
const MAINNET_MAGIC MagicNum = 764824073
const TESTNET_MAGIC MagicNum = 1097911063

// Typical relay port for node-to-node connections.
const RELAY_PORT int = 3001
