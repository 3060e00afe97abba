package protocol

import "errors"

var (
	ErrBadIdentifier    = errors.New("protocol: stream identifier mismatch")
	ErrHandshakeTimeout = errors.New("protocol: handshake timed out")
	ErrFrameTooLarge    = errors.New("protocol: frame too large")
	ErrShortFrame       = errors.New("protocol: short frame")
	ErrUnknownKind      = errors.New("protocol: unknown message kind")
)
