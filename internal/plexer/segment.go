package plexer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxPayloadLength is the largest payload one segment can carry.
const MaxPayloadLength = math.MaxUint16

const segmentHeaderLength = 8

var ErrMalformedSegment = errors.New("malformed segment")

var ErrPayloadTooLarge = fmt.Errorf("payload exceeds %d bytes", MaxPayloadLength)

// Segment is the on-wire framed unit:
//
//	offset  size  field
//	 0      4     transmission time (u32 BE, microseconds since bearer start)
//	 4      2     mode and protocol (u16 BE; bit 15 set when the sender
//	              holds the server role, bits 14..0 protocol id)
//	 6      2     payload length (u16 BE)
//	 8      L     payload
type Segment struct {
	Timestamp  uint32
	Protocol   uint16
	FromServer bool
	Payload    []byte
}

func NewSegment(protocol uint16, fromServer bool, timestamp uint32, payload []byte) (Segment, error) {
	if len(payload) > MaxPayloadLength {
		return Segment{}, ErrPayloadTooLarge
	}
	return Segment{
		Timestamp:  timestamp,
		Protocol:   protocol & 0x7fff,
		FromServer: fromServer,
		Payload:    payload,
	}, nil
}

func (s Segment) Serialize() []byte {
	buf := make([]byte, segmentHeaderLength+len(s.Payload))
	binary.BigEndian.PutUint32(buf[0:4], s.Timestamp)
	mode := s.Protocol & 0x7fff
	if s.FromServer {
		mode |= 0x8000
	}
	binary.BigEndian.PutUint16(buf[4:6], mode)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(s.Payload)))
	copy(buf[segmentHeaderLength:], s.Payload)
	return buf
}

// ParseSegment reads exactly one segment off the bearer. A clean EOF on
// the first header byte means the peer closed the bearer and is returned
// as io.EOF; any short read mid-segment is a framing error.
func ParseSegment(b *Bearer) (Segment, error) {
	header := make([]byte, segmentHeaderLength)
	if err := b.ReadFull(header); err != nil {
		if errors.Is(err, io.EOF) {
			return Segment{}, io.EOF
		}
		return Segment{}, fmt.Errorf("%w: header: %v", ErrMalformedSegment, err)
	}

	mode := binary.BigEndian.Uint16(header[4:6])
	seg := Segment{
		Timestamp:  binary.BigEndian.Uint32(header[0:4]),
		Protocol:   mode & 0x7fff,
		FromServer: mode&0x8000 != 0,
	}

	length := binary.BigEndian.Uint16(header[6:8])
	seg.Payload = make([]byte, length)
	if err := b.ReadFull(seg.Payload); err != nil {
		return Segment{}, fmt.Errorf("%w: truncated payload (want %d bytes): %v", ErrMalformedSegment, length, err)
	}
	return seg, nil
}
