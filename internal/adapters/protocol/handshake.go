package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// IdentifierLen is the size of a stream identifier.
const IdentifierLen = 8

// Identifier names a logical stream. The initiator sends it first and the
// acceptor echoes it back.
type Identifier [IdentifierLen]byte

// ConfigurationStream identifies the reliable configuration stream.
var ConfigurationStream = Identifier{'n', 'e', 't', 'v', 'r', 'c', 'f', 'g'}

// DefaultHandshakeTimeout bounds each side of the identifier exchange.
const DefaultHandshakeTimeout = 5 * time.Second

func (id Identifier) String() string { return string(id[:]) }

// Initiate sends id and waits for the echo.
func Initiate(ctx context.Context, conn net.Conn, id Identifier, timeout time.Duration) error {
	return handshake(ctx, conn, timeout, func() error {
		if _, err := conn.Write(id[:]); err != nil {
			return err
		}
		return expect(conn, id)
	})
}

// Accept waits for id and echoes it.
func Accept(ctx context.Context, conn net.Conn, id Identifier, timeout time.Duration) error {
	return handshake(ctx, conn, timeout, func() error {
		if err := expect(conn, id); err != nil {
			return err
		}
		_, err := conn.Write(id[:])
		return err
	})
}

func handshake(ctx context.Context, conn net.Conn, timeout time.Duration, exchange func() error) error {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	err := exchange()
	if err == nil {
		return conn.SetDeadline(time.Time{})
	}
	var ne net.Error
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.As(err, &ne) && ne.Timeout():
		return ErrHandshakeTimeout
	default:
		return err
	}
}

func expect(r io.Reader, id Identifier) error {
	var got Identifier
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return err
	}
	if got != id {
		return fmt.Errorf("%w: got %q, want %q", ErrBadIdentifier, got[:], id[:])
	}
	return nil
}
