package transport

import "errors"

var (
	// ErrNoWelcome means the first message on a dialed stream was not Welcome.
	ErrNoWelcome = errors.New("transport: expected welcome")
	// ErrServerClosed is returned by Serve after Close.
	ErrServerClosed = errors.New("transport: server closed")
)
