package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/okian/netvr/internal/adapters/protocol"
	"github.com/okian/netvr/internal/domain/model"
)

// Dial opens a configuration stream to addr and waits for Welcome.
func Dial(ctx context.Context, addr string, opts ...Option) (protocol.DeviceStream, protocol.Welcome, error) {
	st := defaults("transport.client")
	for _, opt := range opts {
		opt(&st)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return protocol.DeviceStream{}, protocol.Welcome{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := protocol.Initiate(ctx, conn, protocol.ConfigurationStream, st.handshakeTimeout); err != nil {
		_ = conn.Close()
		return protocol.DeviceStream{}, protocol.Welcome{}, err
	}

	stream := protocol.DeviceStream{Stream: protocol.NewStream(conn, st.maxFrame)}
	_ = conn.SetReadDeadline(time.Now().Add(st.handshakeTimeout))
	first, err := stream.Receive()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		return protocol.DeviceStream{}, protocol.Welcome{}, fmt.Errorf("%w: %w", ErrNoWelcome, err)
	}
	w, ok := first.(protocol.Welcome)
	if !ok {
		_ = conn.Close()
		return protocol.DeviceStream{}, protocol.Welcome{}, fmt.Errorf("%w: got %s", ErrNoWelcome, first.Kind())
	}
	return stream, w, nil
}

// DatagramConn is a device's UDP connection to the coordinator. Every
// datagram it sends carries the id and token issued in Welcome.
type DatagramConn struct {
	conn  *net.UDPConn
	id    model.ClientID
	token uint64
	buf   []byte
}

// DialDatagrams connects to the coordinator's datagram socket.
func DialDatagrams(addr string, w protocol.Welcome) (*DatagramConn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, ua)
	if err != nil {
		return nil, fmt.Errorf("dial datagrams %s: %w", addr, err)
	}
	return &DatagramConn{conn: conn, id: w.ClientID, token: w.Token, buf: make([]byte, maxDatagram)}, nil
}

// Send writes one payload.
func (c *DatagramConn) Send(p protocol.DatagramPayload) error {
	b, err := protocol.EncodeDatagramUp(protocol.DatagramUp{ClientID: c.id, Token: c.token, Payload: p})
	if err != nil {
		return err
	}
	_, err = c.conn.Write(b)
	return err
}

// Receive blocks for the next coordinator datagram. It must not be called
// concurrently.
func (c *DatagramConn) Receive() (protocol.DatagramDown, error) {
	n, err := c.conn.Read(c.buf)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeDatagramDown(c.buf[:n])
}

// SetReadDeadline bounds the next Receive.
func (c *DatagramConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// Close releases the socket.
func (c *DatagramConn) Close() error { return c.conn.Close() }
