package plexer_test

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MitchTurner/pallas/internal/blockfetch"
	"github.com/MitchTurner/pallas/internal/handshake"
	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

// Full session over a real bearer pair: handshake on protocol 0, then a
// single-block download on protocol 3, with a block big enough to span
// several segments.
func TestBlockDownloadSession(t *testing.T) {
	c1, c2 := net.Pipe()
	clientPlexer := plexer.New(plexer.NewBearer(c1))
	serverPlexer := plexer.New(plexer.NewBearer(c2))

	hsOut := clientPlexer.UseClientChannel(protocol.PROTOCOL_N2N_HANDSHAKE)
	bfOut := clientPlexer.UseClientChannel(protocol.PROTOCOL_N2N_BLOCK_FETCH)
	hsIn := serverPlexer.UseServerChannel(protocol.PROTOCOL_N2N_HANDSHAKE)
	bfIn := serverPlexer.UseServerChannel(protocol.PROTOCOL_N2N_BLOCK_FETCH)

	clientPlexer.Spawn()
	serverPlexer.Spawn()
	defer clientPlexer.Close()
	defer serverPlexer.Close()

	block := bytes.Repeat([]byte{0xb1, 0x0c}, 70*1024)
	point := protocol.Specific(63528597, bytes.Repeat([]byte{0x3f}, 32))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- func() error {
			hs := handshake.NewServer(hsIn)
			versions, err := hs.Receive()
			if err != nil {
				return err
			}
			var best uint64
			for v := range versions.Versions {
				if v > best {
					best = v
				}
			}
			if err := hs.Accept(best, versions.Versions[best]); err != nil {
				return err
			}

			bf := blockfetch.NewServer(bfIn)
			req, err := bf.RecvRequest()
			if err != nil {
				return err
			}
			if !req.From.Equal(point) || !req.To.Equal(point) {
				return bf.NoBlocks()
			}
			if err := bf.StartBatch(); err != nil {
				return err
			}
			if err := bf.SendBlock(block); err != nil {
				return err
			}
			return bf.BatchDone()
		}()
	}()

	confirmation, err := handshake.NewClient(hsOut).
		Handshake(handshake.V4AndAbove(protocol.TESTNET_MAGIC))
	require.NoError(t, err)
	require.True(t, confirmation.Accepted)
	require.EqualValues(t, 7, confirmation.Version)

	got, err := blockfetch.NewClient(bfOut).FetchSingle(point)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.True(t, bytes.Equal(got, block), "fetched block differs from the served one")

	require.NoError(t, <-serverErr)
}
