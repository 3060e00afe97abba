package registry

import "errors"

var (
	// ErrUnknownClient means the id is not registered, usually because the
	// client disconnected mid-operation. Callers log and drop.
	ErrUnknownClient = errors.New("unknown client")
	// ErrBadToken means a datagram carried the wrong token for its client id.
	ErrBadToken = errors.New("datagram token mismatch")
	// ErrNoDatagramWriter means no datagram socket has been attached.
	ErrNoDatagramWriter = errors.New("no datagram writer attached")
)
