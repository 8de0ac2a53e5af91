package localstate

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

func TestAcquireQueryRelease(t *testing.T) {
	near, far := plexer.Loopback()
	client := NewClient(near)
	server := NewServer(far)

	query, err := cbor.Marshal([]any{0, []any{0, []any{1}}})
	require.NoError(t, err)
	result, err := cbor.Marshal([]any{2017, 9, 23})
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- func() error {
			// acquire at tip
			msg, err := server.RecvMessage()
			if err != nil {
				return err
			}
			if acquire, ok := msg.(MsgAcquire); !ok || acquire.Point != nil {
				return protocol.ErrInvalidInbound
			}
			if err := server.Acquired(); err != nil {
				return err
			}
			// one query
			msg, err = server.RecvMessage()
			if err != nil {
				return err
			}
			if _, ok := msg.(MsgQuery); !ok {
				return protocol.ErrInvalidInbound
			}
			if err := server.Result(result); err != nil {
				return err
			}
			// release, then done
			if _, err := server.RecvMessage(); err != nil {
				return err
			}
			_, err = server.RecvMessage()
			return err
		}()
	}()

	require.NoError(t, client.Acquire(nil))
	got, err := client.Query(query)
	require.NoError(t, err)
	require.True(t, bytes.Equal(got, result))
	require.NoError(t, client.Release())
	require.NoError(t, client.Done())
	require.True(t, client.IsDone())
	require.NoError(t, <-serverErr)
	require.True(t, server.IsDone())
}

func TestAcquireFailureLeavesClientUsable(t *testing.T) {
	near, far := plexer.Loopback()
	client := NewClient(near)
	server := NewServer(far)

	point := protocol.Specific(1, bytes.Repeat([]byte{0x01}, 32))
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- func() error {
			if _, err := server.RecvMessage(); err != nil {
				return err
			}
			if err := server.FailPointTooOld(); err != nil {
				return err
			}
			if _, err := server.RecvMessage(); err != nil {
				return err
			}
			return server.Acquired()
		}()
	}()

	err := client.Acquire(&point)
	require.ErrorIs(t, err, ErrPointTooOld)

	// still in idle: a fresh acquire goes through
	require.NoError(t, client.Acquire(nil))
	require.NoError(t, <-serverErr)
}

func TestAcquireFailurePointNotOnChain(t *testing.T) {
	near, far := plexer.Loopback()
	client := NewClient(near)
	server := NewServer(far)

	point := protocol.Specific(9, bytes.Repeat([]byte{0x09}, 32))
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- func() error {
			if _, err := server.RecvMessage(); err != nil {
				return err
			}
			return server.FailPointNotOnChain()
		}()
	}()

	require.ErrorIs(t, client.Acquire(&point), ErrPointNotOnChain)
	require.NoError(t, <-serverErr)
}

func TestReAcquire(t *testing.T) {
	near, far := plexer.Loopback()
	client := NewClient(near)
	server := NewServer(far)

	point := protocol.Specific(55, bytes.Repeat([]byte{0x37}, 32))
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- func() error {
			if _, err := server.RecvMessage(); err != nil {
				return err
			}
			if err := server.Acquired(); err != nil {
				return err
			}
			msg, err := server.RecvMessage()
			if err != nil {
				return err
			}
			re, ok := msg.(MsgReAcquire)
			if !ok || re.Point == nil || !re.Point.Equal(point) {
				return protocol.ErrInvalidInbound
			}
			return server.Acquired()
		}()
	}()

	require.NoError(t, client.Acquire(nil))
	require.NoError(t, client.ReAcquire(&point))
	require.NoError(t, <-serverErr)
}

func TestQueryWithoutSnapshotRejected(t *testing.T) {
	near, _ := plexer.Loopback()
	client := NewClient(near)

	_, err := client.Query(cbor.RawMessage{0x80})
	require.ErrorIs(t, err, protocol.ErrInvalidOutbound)
}

func TestMessageRoundtrips(t *testing.T) {
	point := protocol.Specific(5, bytes.Repeat([]byte{0x05}, 32))
	for _, msg := range []Message{
		MsgAcquire{},
		MsgAcquire{Point: &point},
		MsgAcquired{},
		MsgFailure{Reason: failurePointNotOnChain},
		MsgQuery{Query: cbor.RawMessage{0x81, 0x00}},
		MsgResult{Result: cbor.RawMessage{0x81, 0x01}},
		MsgRelease{},
		MsgReAcquire{Point: &point},
		MsgDone{},
	} {
		data, err := encodeMessage(msg)
		require.NoError(t, err)
		got, err := decodeMessage(data)
		require.NoError(t, err)
		require.Equal(t, msg, got)
	}
}
