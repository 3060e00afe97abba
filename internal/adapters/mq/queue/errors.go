package queue

import "errors"

// Reasons a command was not enqueued.
var (
	ErrClosed = errors.New("command queue closed")
	ErrFull   = errors.New("command queue full")
)
