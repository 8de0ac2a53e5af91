package localtx

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

func TestSubmitAccepted(t *testing.T) {
	near, far := plexer.Loopback()
	client := NewClient(near)
	server := NewServer(far)

	tx := bytes.Repeat([]byte{0x7a}, 256)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- func() error {
			sub, err := server.RecvSubmission()
			if err != nil {
				return err
			}
			if sub == nil || sub.Era != 5 || !bytes.Equal(sub.Tx, tx) {
				return protocol.ErrInvalidInbound
			}
			if err := server.Accept(); err != nil {
				return err
			}
			_, err = server.RecvSubmission()
			return err
		}()
	}()

	result, err := client.SubmitTx(5, tx)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	require.NoError(t, client.Done())
	require.True(t, client.IsDone())
	require.NoError(t, <-serverErr)
	require.True(t, server.IsDone())
}

func TestSubmitRejected(t *testing.T) {
	near, far := plexer.Loopback()
	client := NewClient(near)
	server := NewServer(far)

	reason, err := cbor.Marshal([]any{2, "fee too small"})
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- func() error {
			if _, err := server.RecvSubmission(); err != nil {
				return err
			}
			return server.Reject(reason)
		}()
	}()

	result, err := client.SubmitTx(5, []byte{0x01})
	require.NoError(t, err)
	require.False(t, result.Accepted)
	require.Equal(t, cbor.RawMessage(reason), result.Reason)
	require.NoError(t, <-serverErr)
}

func TestSubmitMessageRoundtrip(t *testing.T) {
	msg := MsgSubmitTx{Era: 6, Tx: bytes.Repeat([]byte{0xdd}, 64)}
	data, err := encodeMessage(msg)
	require.NoError(t, err)
	got, err := decodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}
