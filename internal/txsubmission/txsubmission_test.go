package txsubmission

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

func testBodies(n int) []TxBody {
	bodies := make([]TxBody, n)
	for i := range bodies {
		bodies[i] = TxBody{Era: 5, Cbor: bytes.Repeat([]byte{byte(i + 1)}, 64)}
	}
	return bodies
}

func advertise(bodies []TxBody) []TxIDAndSize {
	ids := make([]TxIDAndSize, len(bodies))
	for i, b := range bodies {
		ids[i] = TxIDAndSize{ID: b.ID(), Size: uint32(len(b.Cbor))}
	}
	return ids
}

func TestTxSubmissionExchange(t *testing.T) {
	near, far := plexer.Loopback()
	server := NewServer(near)
	client := NewClient(far)

	bodies := testBodies(2)
	ids := advertise(bodies)

	clientErr := make(chan error, 1)
	go func() {
		clientErr <- func() error {
			if err := client.Init(); err != nil {
				return err
			}
			// advertise two txs
			if _, err := client.RecvNextRequest(); err != nil {
				return err
			}
			if err := client.ReplyTxIds(ids); err != nil {
				return err
			}
			// hand over the bodies
			req, err := client.RecvNextRequest()
			if err != nil {
				return err
			}
			if req.Kind != RequestTxs {
				return protocol.ErrInvalidInbound
			}
			if err := client.ReplyTxs(bodies); err != nil {
				return err
			}
			// mempool is empty now; a blocking ask ends the protocol
			if _, err := client.RecvNextRequest(); err != nil {
				return err
			}
			return client.Done()
		}()
	}()

	require.NoError(t, server.WaitForInit())

	require.NoError(t, server.AcknowledgeAndRequestTxIds(false, 0, 2))
	reply, err := server.ReceiveNextReply()
	require.NoError(t, err)
	require.Equal(t, ReplyTxIds, reply.Kind)
	require.Equal(t, ids, reply.IDs)
	require.Equal(t, 2, server.Outstanding())

	require.NoError(t, server.RequestTxs([]TxID{ids[0].ID, ids[1].ID}))
	reply, err = server.ReceiveNextReply()
	require.NoError(t, err)
	require.Equal(t, ReplyTxs, reply.Kind)
	require.Equal(t, bodies, reply.Bodies)

	// acknowledge both, ask for more; advertised - acknowledged (2 - 2)
	// is the outstanding window until the client replies
	require.NoError(t, server.AcknowledgeAndRequestTxIds(true, 2, 1))
	require.Equal(t, 0, server.Outstanding())

	reply, err = server.ReceiveNextReply()
	require.NoError(t, err)
	require.Equal(t, ReplyDone, reply.Kind)
	require.True(t, server.IsDone())
	require.NoError(t, <-clientErr)
}

// A blocking request must never be answered with an empty id list; the
// machine rejects it as an inbound violation. Done is the legal way
// out.
func TestBlockingEmptyReplyRejected(t *testing.T) {
	near, far := plexer.Loopback()
	server := NewServer(near)

	require.NoError(t, far.EnqueueChunk(mustEncode(t, MsgInit{})))
	require.NoError(t, server.WaitForInit())
	require.NoError(t, server.AcknowledgeAndRequestTxIds(true, 0, 1))

	require.NoError(t, far.EnqueueChunk(mustEncode(t, MsgReplyTxIds{})))
	_, err := server.ReceiveNextReply()
	require.ErrorIs(t, err, protocol.ErrInvalidInbound)
}

func TestBlockingDoneAccepted(t *testing.T) {
	near, far := plexer.Loopback()
	server := NewServer(near)

	require.NoError(t, far.EnqueueChunk(mustEncode(t, MsgInit{})))
	require.NoError(t, server.WaitForInit())
	require.NoError(t, server.AcknowledgeAndRequestTxIds(true, 0, 1))

	require.NoError(t, far.EnqueueChunk(mustEncode(t, MsgDone{})))
	reply, err := server.ReceiveNextReply()
	require.NoError(t, err)
	require.Equal(t, ReplyDone, reply.Kind)
	require.True(t, server.IsDone())
}

func TestNonBlockingEmptyReplyAccepted(t *testing.T) {
	near, far := plexer.Loopback()
	server := NewServer(near)

	require.NoError(t, far.EnqueueChunk(mustEncode(t, MsgInit{})))
	require.NoError(t, server.WaitForInit())
	require.NoError(t, server.AcknowledgeAndRequestTxIds(false, 0, 1))

	require.NoError(t, far.EnqueueChunk(mustEncode(t, MsgReplyTxIds{})))
	reply, err := server.ReceiveNextReply()
	require.NoError(t, err)
	require.Equal(t, ReplyTxIds, reply.Kind)
	require.Empty(t, reply.IDs)
}

func TestWindowInvariants(t *testing.T) {
	near, far := plexer.Loopback()
	server := NewServer(near)

	require.NoError(t, far.EnqueueChunk(mustEncode(t, MsgInit{})))
	require.NoError(t, server.WaitForInit())

	bodies := testBodies(2)
	ids := advertise(bodies)
	require.NoError(t, server.AcknowledgeAndRequestTxIds(false, 0, 2))
	require.NoError(t, far.EnqueueChunk(mustEncode(t, MsgReplyTxIds{IDs: ids})))
	_, err := server.ReceiveNextReply()
	require.NoError(t, err)
	require.Equal(t, 2, server.Outstanding())

	// acknowledging more than is outstanding
	err = server.AcknowledgeAndRequestTxIds(false, 3, 1)
	require.ErrorIs(t, err, protocol.ErrInvalidOutbound)

	// requesting past the window bound
	err = server.AcknowledgeAndRequestTxIds(false, 1, 65535)
	require.ErrorIs(t, err, protocol.ErrInvalidOutbound)

	// asking for a body that was never advertised
	unknown := TxID{Era: 5, Hash: bytes.Repeat([]byte{0xff}, 32)}
	err = server.RequestTxs([]TxID{unknown})
	require.ErrorIs(t, err, protocol.ErrInvalidOutbound)

	// the failed sends left the window untouched
	require.Equal(t, 2, server.Outstanding())
	require.NoError(t, server.RequestTxs([]TxID{ids[1].ID}))
}

func TestWaitForInitOnlyOnce(t *testing.T) {
	near, far := plexer.Loopback()
	server := NewServer(near)

	require.NoError(t, far.EnqueueChunk(mustEncode(t, MsgInit{})))
	require.NoError(t, server.WaitForInit())
	require.ErrorIs(t, server.WaitForInit(), ErrAlreadyInitialized)
}

func TestClientBlockingEtiquette(t *testing.T) {
	near, far := plexer.Loopback()
	server := NewServer(near)
	client := NewClient(far)

	require.NoError(t, client.Init())
	require.NoError(t, server.WaitForInit())
	require.NoError(t, server.AcknowledgeAndRequestTxIds(true, 0, 1))

	req, err := client.RecvNextRequest()
	require.NoError(t, err)
	require.True(t, req.Blocking)

	// an empty reply to a blocking ask is an outbound violation locally
	err = client.ReplyTxIds(nil)
	require.ErrorIs(t, err, protocol.ErrInvalidOutbound)

	require.NoError(t, client.Done())
	require.True(t, client.IsDone())
}

func TestTxBodyID(t *testing.T) {
	body := TxBody{Era: 5, Cbor: []byte("raw tx bytes")}
	want := blake2b.Sum256(body.Cbor)

	id := body.ID()
	require.EqualValues(t, 5, id.Era)
	require.Equal(t, want[:], id.Hash)
}

func TestTxMessageRoundtrips(t *testing.T) {
	bodies := testBodies(2)
	for _, msg := range []Message{
		MsgInit{},
		MsgRequestTxIds{Blocking: true, Acknowledge: 3, Request: 7},
		MsgReplyTxIds{IDs: advertise(bodies)},
		MsgRequestTxs{IDs: []TxID{bodies[0].ID()}},
		MsgReplyTxs{Bodies: bodies},
		MsgDone{},
	} {
		data, err := encodeMessage(msg)
		require.NoError(t, err)
		got, err := decodeMessage(data)
		require.NoError(t, err)
		require.Equal(t, msg, got)
	}
}

func mustEncode(t *testing.T, msg Message) []byte {
	t.Helper()
	data, err := encodeMessage(msg)
	require.NoError(t, err)
	return data
}
