// Package transport runs the coordinator's network endpoints: the reliable
// configuration stream over TCP and the state datagram socket over UDP.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/netvr/internal/adapters/protocol"
	"github.com/okian/netvr/internal/adapters/registry"
	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/logger"
	"github.com/okian/netvr/pkg/metrics"
)

// Handler receives connection events. Calls for one client come from one
// goroutine at a time, except OnDatagram which runs on the socket reader.
type Handler interface {
	OnConnect(ctx context.Context, c *registry.Client)
	OnConfigurationUp(ctx context.Context, id model.ClientID, msg protocol.ConfigurationUp)
	OnDatagram(ctx context.Context, id model.ClientID, msg protocol.DatagramPayload)
	OnDisconnect(ctx context.Context, id model.ClientID)
}

// Server accepts configuration streams and registers each as a client.
type Server struct {
	reg     *registry.Registry
	handler Handler
	settings

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a server registering clients in reg.
func NewServer(reg *registry.Registry, handler Handler, opts ...Option) *Server {
	s := &Server{reg: reg, handler: handler, settings: defaults("transport")}
	for _, opt := range opts {
		opt(&s.settings)
	}
	return s
}

// Listen binds the TCP address. Serve must be called afterwards.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is done or Close is called. It waits
// for every connection to finish before returning.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("transport: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	s.logger.Info(ctx, "configuration stream listening", logger.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			s.logger.Warn(ctx, "accept failed", logger.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Close stops accepting. Live connections end when Serve's context is done
// or their clients are removed from the registry.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	remote := conn.RemoteAddr().String()

	if err := protocol.Accept(ctx, conn, protocol.ConfigurationStream, s.handshakeTimeout); err != nil {
		metrics.RecordHandshakeFailure()
		s.logger.Warn(ctx, "handshake failed", logger.String("remote", remote), logger.Error(err))
		return
	}

	stream := protocol.ServerStream{Stream: protocol.NewStream(conn, s.maxFrame)}
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	gate := &welcomeGate{stream: stream, ready: make(chan struct{}), conn: cctx}

	client := s.reg.Register(gate, cancel, remote)
	log := s.logger.With(logger.ClientID(client.ID))

	var reason string
	defer func() {
		s.reg.Remove(client.ID)
		s.handler.OnDisconnect(context.WithoutCancel(ctx), client.ID)
		metrics.RecordDisconnect(reason)
		log.Info(ctx, "client disconnected", logger.String("reason", reason))
	}()

	if err := stream.Send(cctx, protocol.Welcome{ClientID: client.ID, Token: client.Token}); err != nil {
		reason = "welcome"
		return
	}
	close(gate.ready)
	s.handler.OnConnect(cctx, client)

	g, gctx := errgroup.WithContext(cctx)
	g.Go(func() error { return s.heartbeatLoop(gctx, stream) })
	g.Go(func() error { return s.read(gctx, client.ID, stream) })
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	reason = disconnectReason(ctx, cctx, g.Wait())
}

func (s *Server) heartbeatLoop(ctx context.Context, stream protocol.ServerStream) error {
	t := time.NewTicker(s.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := stream.Send(ctx, protocol.Heartbeat{}); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return &sendError{err: err}
			}
		}
	}
}

func (s *Server) read(ctx context.Context, id model.ClientID, stream protocol.ServerStream) error {
	for {
		msg, err := stream.Receive()
		if err != nil {
			return err
		}
		s.handler.OnConfigurationUp(ctx, id, msg)
	}
}

// welcomeGate holds back registry sends until Welcome has been written.
type welcomeGate struct {
	stream protocol.ServerStream
	ready  chan struct{}
	conn   context.Context
}

func (g *welcomeGate) Send(ctx context.Context, msg protocol.ConfigurationDown) error {
	select {
	case <-g.ready:
	case <-g.conn.Done():
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.stream.Send(ctx, msg)
}

type sendError struct{ err error }

func (e *sendError) Error() string { return "heartbeat: " + e.err.Error() }
func (e *sendError) Unwrap() error { return e.err }

func disconnectReason(parent, conn context.Context, err error) string {
	var se *sendError
	switch {
	case parent.Err() != nil:
		return "shutdown"
	case conn.Err() != nil:
		return "removed"
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return "closed"
	case errors.As(err, &se):
		return "heartbeat"
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, protocol.ErrUnknownKind), errors.Is(err, protocol.ErrShortFrame):
		return "protocol"
	default:
		return "error"
	}
}
