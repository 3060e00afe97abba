// Package discovery lets devices find the coordinator on the local network.
// A probe is any UDP datagram containing "netvr"; the responder answers with
// a fixed header naming the protocol version.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/okian/netvr/pkg/logger"
)

var (
	// ErrBadHeader means a reply did not match Header byte for byte.
	ErrBadHeader = errors.New("discovery: unexpected response header")
	// ErrClosed is returned by Serve after Close.
	ErrClosed = errors.New("discovery: responder closed")
)

// Request is the probe payload.
var Request = []byte("netvr")

// Header is the response: "nvr", major 0, minor 1.
var Header = []byte{0x6e, 0x76, 0x72, 0x00, 0x01}

const (
	maxDatagram   = 1500
	probeInterval = 250 * time.Millisecond
)

// CheckHeader validates a response.
func CheckHeader(b []byte) error {
	if !bytes.Equal(b, Header) {
		return ErrBadHeader
	}
	return nil
}

// Responder answers probes on one UDP socket.
type Responder struct {
	conn   *net.UDPConn
	logger logger.Logger
}

// Option applies a configuration option to the Responder.
type Option func(*Responder)

// WithLogger sets the responder's logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Responder) {
		if l != nil {
			r.logger = l
		}
	}
}

// Listen binds addr. When group is set the socket joins that multicast
// group on the default interface instead.
func Listen(addr, group string, opts ...Option) (*Responder, error) {
	var (
		conn *net.UDPConn
		err  error
	)
	if group != "" {
		var ga *net.UDPAddr
		ga, err = net.ResolveUDPAddr("udp4", group)
		if err == nil {
			ga.Port, err = portOf(addr)
		}
		if err == nil {
			conn, err = net.ListenMulticastUDP("udp4", nil, ga)
		}
	} else {
		var la *net.UDPAddr
		la, err = net.ResolveUDPAddr("udp", addr)
		if err == nil {
			conn, err = net.ListenUDP("udp", la)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("discovery listen %s: %w", addr, err)
	}

	r := &Responder{conn: conn, logger: logger.Get().Named("discovery")}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func portOf(addr string) (int, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return 0, err
	}
	return ua.Port, nil
}

// Addr is the bound local address.
func (r *Responder) Addr() *net.UDPAddr { return r.conn.LocalAddr().(*net.UDPAddr) }

// Serve answers probes until ctx is done or Close is called.
func (r *Responder) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()

	r.logger.Info(ctx, "discovery responder listening", logger.String("addr", r.conn.LocalAddr().String()))
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrClosed
			}
			return fmt.Errorf("discovery read: %w", err)
		}
		if !bytes.Contains(buf[:n], Request) {
			continue
		}
		if _, err := r.conn.WriteToUDP(Header, from); err != nil {
			r.logger.Warn(ctx, "discovery reply failed", logger.String("to", from.String()), logger.Error(err))
			continue
		}
		r.logger.Debug(ctx, "answered discovery probe", logger.String("from", from.String()))
	}
}

// Close releases the socket.
func (r *Responder) Close() error { return r.conn.Close() }

// Probe sends probes to addr, which may be a broadcast or multicast
// address, until a valid reply arrives or ctx expires. It returns the
// responder's address.
func Probe(ctx context.Context, addr string) (*net.UDPAddr, error) {
	to, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery probe %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("discovery probe socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var mismatched bool
	buf := make([]byte, maxDatagram)
	for {
		if _, err := conn.WriteToUDP(Request, to); err != nil {
			return nil, fmt.Errorf("discovery probe send: %w", err)
		}
		deadline := time.Now().Add(probeInterval)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = conn.SetReadDeadline(deadline)

		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				break
			}
			if CheckHeader(buf[:n]) != nil {
				mismatched = true
				continue
			}
			return from, nil
		}

		if err := ctx.Err(); err != nil {
			if mismatched {
				return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
			}
			return nil, err
		}
	}
}
