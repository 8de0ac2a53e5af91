package chainsync

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

func TestChainSyncFlow(t *testing.T) {
	near, far := plexer.Loopback()
	client := NewN2CClient(near)
	server := NewN2CServer(far)

	intersectPoint := protocol.Specific(43847831, bytes.Repeat([]byte{0x15}, 32))
	rollbackPoint := protocol.Specific(43847831, bytes.Repeat([]byte{0x15}, 32))
	block1 := bytes.Repeat([]byte{0xb1}, 512)
	block2 := bytes.Repeat([]byte{0xb2}, 256)
	tip := protocol.Tip{Point: protocol.Specific(43847999, bytes.Repeat([]byte{0xee}, 32)), BlockNo: 420}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- func() error {
			// intersect
			req, err := server.RecvRequest()
			if err != nil {
				return err
			}
			if req.Kind != RequestIntersect || len(req.Points) != 1 {
				return server.IntersectNotFound(tip)
			}
			if err := server.IntersectFound(req.Points[0], tip); err != nil {
				return err
			}
			// forward, backward, await+forward
			if _, err := server.RecvRequest(); err != nil {
				return err
			}
			if err := server.RollForward(BlockContent(block1), tip); err != nil {
				return err
			}
			if _, err := server.RecvRequest(); err != nil {
				return err
			}
			if err := server.RollBackward(rollbackPoint, tip); err != nil {
				return err
			}
			if _, err := server.RecvRequest(); err != nil {
				return err
			}
			if err := server.AwaitReply(); err != nil {
				return err
			}
			if err := server.RollForward(BlockContent(block2), tip); err != nil {
				return err
			}
			// client hangs up
			req, err = server.RecvRequest()
			if err != nil {
				return err
			}
			if req.Kind != RequestDone {
				return protocol.ErrInvalidInbound
			}
			return nil
		}()
	}()

	point, gotTip, err := client.FindIntersect([]protocol.Point{intersectPoint})
	require.NoError(t, err)
	require.NotNil(t, point)
	require.True(t, point.Equal(intersectPoint))
	require.Equal(t, tip.BlockNo, gotTip.BlockNo)

	next, err := client.RequestNext()
	require.NoError(t, err)
	require.Equal(t, NextRollForward, next.Kind)
	require.Equal(t, block1, []byte(next.Content))

	next, err = client.RequestNext()
	require.NoError(t, err)
	require.Equal(t, NextRollBackward, next.Kind)
	require.True(t, next.Point.Equal(rollbackPoint))

	// producer has nothing yet: agency stays with it until it publishes
	next, err = client.RequestNext()
	require.NoError(t, err)
	require.Equal(t, NextAwait, next.Kind)
	require.False(t, client.HasAgency())

	next, err = client.RecvWhileMustReply()
	require.NoError(t, err)
	require.Equal(t, NextRollForward, next.Kind)
	require.Equal(t, block2, []byte(next.Content))
	require.True(t, client.HasAgency())

	require.NoError(t, client.Done())
	require.True(t, client.IsDone())
	require.NoError(t, <-serverErr)
}

func TestIntersectNotFound(t *testing.T) {
	near, far := plexer.Loopback()
	client := NewN2CClient(near)
	server := NewN2CServer(far)

	tip := protocol.Tip{Point: protocol.Origin(), BlockNo: 0}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- func() error {
			if _, err := server.RecvRequest(); err != nil {
				return err
			}
			return server.IntersectNotFound(tip)
		}()
	}()

	point, _, err := client.FindIntersect([]protocol.Point{protocol.Specific(1, bytes.Repeat([]byte{9}, 32))})
	require.NoError(t, err)
	require.Nil(t, point)
	require.NoError(t, <-serverErr)
}

func TestIntersectTip(t *testing.T) {
	near, far := plexer.Loopback()
	client := NewN2CClient(near)
	server := NewN2CServer(far)

	tipPoint := protocol.Specific(777, bytes.Repeat([]byte{0x77}, 32))
	tip := protocol.Tip{Point: tipPoint, BlockNo: 77}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- func() error {
			// probe at origin, then the real intersect at the tip
			if _, err := server.RecvRequest(); err != nil {
				return err
			}
			if err := server.IntersectFound(protocol.Origin(), tip); err != nil {
				return err
			}
			req, err := server.RecvRequest()
			if err != nil {
				return err
			}
			return server.IntersectFound(req.Points[0], tip)
		}()
	}()

	point, err := client.IntersectTip()
	require.NoError(t, err)
	require.True(t, point.Equal(tipPoint))
	require.NoError(t, <-serverErr)
}

func TestRecvWhileMustReplyRequiresAwait(t *testing.T) {
	near, _ := plexer.Loopback()
	client := NewN2CClient(near)

	_, err := client.RecvWhileMustReply()
	require.ErrorIs(t, err, protocol.ErrAgencyIsOurs)
}

func TestHeaderContentRoundtrip(t *testing.T) {
	shelley := HeaderContent{Variant: 4, Cbor: bytes.Repeat([]byte{0x84}, 64)}
	raw, err := encodeHeaderContent(shelley)
	require.NoError(t, err)
	got, err := decodeHeaderContent(raw)
	require.NoError(t, err)
	require.Equal(t, shelley, got)

	byron := HeaderContent{Variant: 0, ByronPrefix: &[2]uint64{1, 21600}, Cbor: bytes.Repeat([]byte{0x83}, 64)}
	raw, err = encodeHeaderContent(byron)
	require.NoError(t, err)
	got, err = decodeHeaderContent(raw)
	require.NoError(t, err)
	require.Equal(t, byron, got)
}

// After a rollback to point p, the producer's next forward must be past
// p; the consumer treats the rollback as authoritative and prunes.
func TestRollbackThenForwardOrdering(t *testing.T) {
	near, far := plexer.Loopback()
	client := NewN2NClient(near)
	server := NewN2NServer(far)

	rollback := protocol.Specific(100, bytes.Repeat([]byte{0x64}, 32))
	header := HeaderContent{Variant: 4, Cbor: bytes.Repeat([]byte{0x99}, 32)}
	tip := protocol.Tip{Point: protocol.Specific(101, bytes.Repeat([]byte{0x65}, 32)), BlockNo: 101}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- func() error {
			if _, err := server.RecvRequest(); err != nil {
				return err
			}
			if err := server.RollBackward(rollback, tip); err != nil {
				return err
			}
			if _, err := server.RecvRequest(); err != nil {
				return err
			}
			return server.RollForward(header, tip)
		}()
	}()

	next, err := client.RequestNext()
	require.NoError(t, err)
	require.Equal(t, NextRollBackward, next.Kind)
	require.EqualValues(t, 100, next.Point.Slot)

	next, err = client.RequestNext()
	require.NoError(t, err)
	require.Equal(t, NextRollForward, next.Kind)
	require.Equal(t, header, next.Content)
	require.Greater(t, next.Tip.Point.Slot, rollback.Slot)

	require.NoError(t, <-serverErr)
}
