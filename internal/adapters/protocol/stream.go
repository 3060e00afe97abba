package protocol

import (
	"context"
	"net"
	"sync"
	"time"
)

// DefaultWriteTimeout bounds a frame write when the context has no deadline.
const DefaultWriteTimeout = 5 * time.Second

// Stream carries frames over an established, handshaken connection.
// Writes are serialised; reads must come from a single goroutine.
type Stream struct {
	conn     net.Conn
	maxFrame int

	wmu sync.Mutex
}

// NewStream wraps conn. maxFrame <= 0 uses DefaultMaxFrameBytes.
func NewStream(conn net.Conn, maxFrame int) *Stream {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Stream{conn: conn, maxFrame: maxFrame}
}

func (s *Stream) write(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(DefaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return WriteFrame(s.conn, payload, s.maxFrame)
}

func (s *Stream) read() ([]byte, error) { return ReadFrame(s.conn, s.maxFrame) }

// Close closes the underlying connection.
func (s *Stream) Close() error { return s.conn.Close() }

// RemoteAddr is the peer address.
func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// ServerStream is the coordinator end of a configuration stream.
type ServerStream struct{ *Stream }

// Send writes one message to the device.
func (s ServerStream) Send(ctx context.Context, msg ConfigurationDown) error {
	b, err := EncodeDown(msg)
	if err != nil {
		return err
	}
	return s.write(ctx, b)
}

// Receive blocks for the next device message.
func (s ServerStream) Receive() (ConfigurationUp, error) {
	b, err := s.read()
	if err != nil {
		return nil, err
	}
	return DecodeUp(b)
}

// DeviceStream is the device end of a configuration stream.
type DeviceStream struct{ *Stream }

// Send writes one message to the coordinator.
func (s DeviceStream) Send(ctx context.Context, msg ConfigurationUp) error {
	b, err := EncodeUp(msg)
	if err != nil {
		return err
	}
	return s.write(ctx, b)
}

// Receive blocks for the next coordinator message.
func (s DeviceStream) Receive() (ConfigurationDown, error) {
	b, err := s.read()
	if err != nil {
		return nil, err
	}
	return DecodeDown(b)
}
