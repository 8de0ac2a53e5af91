package plexer

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ChannelBuffer turns a chunk-oriented Channel into a message-oriented
// one. Ingress chunks accumulate until a complete CBOR item is present;
// egress messages are fragmented into segment-sized chunks.
type ChannelBuffer struct {
	ch  Channel
	buf []byte
}

func NewChannelBuffer(ch Channel) *ChannelBuffer {
	return &ChannelBuffer{ch: ch}
}

// SendMsgChunks enqueues one encoded message, split into chunks of at
// most MaxPayloadLength bytes, in order.
func (b *ChannelBuffer) SendMsgChunks(payload []byte) error {
	for len(payload) > 0 {
		n := len(payload)
		if n > MaxPayloadLength {
			n = MaxPayloadLength
		}
		if err := b.ch.EnqueueChunk(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

// RecvFullMsg blocks until the reassembly buffer holds one complete
// CBOR item and returns exactly its bytes.
func (b *ChannelBuffer) RecvFullMsg() ([]byte, error) {
	for {
		if len(b.buf) > 0 {
			var item cbor.RawMessage
			rest, err := cbor.UnmarshalFirst(b.buf, &item)
			switch {
			case err == nil:
				msg := b.buf[:len(b.buf)-len(rest)]
				b.buf = rest
				return msg, nil
			case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
				// partial item, keep pulling
			default:
				return nil, fmt.Errorf("channel buffer: %v: %w", err, ErrMalformedWireMessage)
			}
		}
		chunk, err := b.ch.DequeueChunk()
		if err != nil {
			return nil, err
		}
		b.buf = append(b.buf, chunk...)
	}
}

// ErrMalformedWireMessage marks ingress bytes that cannot be parsed as
// a CBOR item at all. Fatal for the mini-protocol.
var ErrMalformedWireMessage = errors.New("ingress bytes are not a CBOR item")
