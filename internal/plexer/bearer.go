package plexer

import (
	"fmt"
	"io"
	"net"
	"runtime"
	"time"
)

// Bearer is the reliable byte stream a plexer runs over. The muxer owns
// the write side and the demuxer the read side; neither side is shared
// beyond that pair.
type Bearer struct {
	conn  net.Conn
	start time.Time
}

func NewBearer(conn net.Conn) *Bearer {
	return &Bearer{conn: conn, start: time.Now()}
}

// ConnectTCP opens a node-to-node bearer against a remote peer.
func ConnectTCP(addr string) (*Bearer, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		// segments are small; don't let the kernel batch them
		_ = tc.SetNoDelay(true)
	}
	return NewBearer(conn), nil
}

// ConnectUnix opens a node-to-client bearer on a local stream socket.
func ConnectUnix(path string) (*Bearer, error) {
	if runtime.GOOS == "windows" {
		return nil, fmt.Errorf("node-to-client sockets are not available on %s", runtime.GOOS)
	}
	conn, err := net.DialTimeout("unix", path, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("error connecting to socket %s: %w", path, err)
	}
	return NewBearer(conn), nil
}

// Accept waits for one inbound connection and wraps it as a bearer.
func Accept(l net.Listener) (*Bearer, error) {
	conn, err := l.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	return NewBearer(conn), nil
}

func (b *Bearer) ReadFull(buf []byte) error {
	_, err := io.ReadFull(b.conn, buf)
	return err
}

func (b *Bearer) WriteAll(data []byte) error {
	for len(data) > 0 {
		n, err := b.conn.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// ClockMicros is the segment timestamp source: microseconds since the
// bearer was opened, truncated to 32 bits. Diagnostic only; it wraps
// roughly every 71 minutes.
func (b *Bearer) ClockMicros() uint32 {
	return uint32(time.Since(b.start).Microseconds())
}

func (b *Bearer) Close() error {
	return b.conn.Close()
}
