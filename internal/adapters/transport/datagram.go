package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/okian/netvr/internal/adapters/protocol"
	"github.com/okian/netvr/internal/adapters/registry"
	"github.com/okian/netvr/pkg/logger"
	"github.com/okian/netvr/pkg/metrics"
)

const maxDatagram = 64 * 1024

// DatagramSocket is the coordinator's UDP endpoint. It authenticates
// incoming datagrams against the registry and implements
// registry.DatagramWriter for outbound ones.
type DatagramSocket struct {
	conn    *net.UDPConn
	reg     *registry.Registry
	handler Handler
	settings
}

// ListenDatagrams binds addr.
func ListenDatagrams(addr string, reg *registry.Registry, handler Handler, opts ...Option) (*DatagramSocket, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("datagram listen %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, fmt.Errorf("datagram listen %s: %w", addr, err)
	}
	d := &DatagramSocket{conn: conn, reg: reg, handler: handler, settings: defaults("datagram")}
	for _, opt := range opts {
		opt(&d.settings)
	}
	return d, nil
}

// Addr is the bound local address.
func (d *DatagramSocket) Addr() *net.UDPAddr { return d.conn.LocalAddr().(*net.UDPAddr) }

// WriteDatagram encodes msg and sends it to addr.
func (d *DatagramSocket) WriteDatagram(addr netip.AddrPort, msg protocol.DatagramDown) error {
	b, err := protocol.EncodeDatagramDown(msg)
	if err != nil {
		return err
	}
	_, err = d.conn.WriteToUDPAddrPort(b, addr)
	return err
}

// Serve reads datagrams until ctx is done or the socket is closed.
func (d *DatagramSocket) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = d.conn.Close() })
	defer stop()

	d.logger.Info(ctx, "datagram socket listening", logger.String("addr", d.conn.LocalAddr().String()))
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := d.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			return fmt.Errorf("datagram read: %w", err)
		}
		metrics.RecordDatagram()
		d.dispatch(ctx, buf[:n], from)
	}
}

func (d *DatagramSocket) dispatch(ctx context.Context, b []byte, from netip.AddrPort) {
	msg, err := protocol.DecodeDatagramUp(b)
	if err != nil {
		metrics.RecordDatagramDropped("malformed")
		d.logger.Debug(ctx, "malformed datagram", logger.String("from", from.String()), logger.Error(err))
		return
	}
	if _, err := d.reg.Authenticate(msg.ClientID, msg.Token, from); err != nil {
		reason := "unknown_client"
		if errors.Is(err, registry.ErrBadToken) {
			reason = "bad_token"
		}
		metrics.RecordDatagramDropped(reason)
		d.logger.Debug(ctx, "datagram rejected",
			logger.ClientID(msg.ClientID), logger.String("from", from.String()), logger.String("reason", reason))
		return
	}
	d.handler.OnDatagram(ctx, msg.ClientID, msg.Payload)
}

// Close releases the socket.
func (d *DatagramSocket) Close() error { return d.conn.Close() }
