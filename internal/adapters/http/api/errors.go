package api

import (
	"errors"
	"fmt"
)

// Sentinel kinds for API errors. Dependencies wrap their failures with one
// of these so handlers can choose a status code.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")

	errInternal = errors.New("internal error")
)

// NewKind tags an operation failure with a sentinel kind.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// WrapKind tags err with a sentinel kind, keeping both in the chain.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return NewKind(op, kind)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// kindOf returns the sentinel kind in err's chain.
func kindOf(err error) error {
	for _, kind := range []error{ErrBadRequest, ErrNotFound, ErrConflict, ErrUnavailable} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return errInternal
}

// statusOf maps an error chain to an HTTP status and error code.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return statusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound):
		return statusNotFound, "not_found"
	case errors.Is(err, ErrConflict):
		return statusConflict, "conflict"
	case errors.Is(err, ErrUnavailable):
		return statusUnavailable, "unavailable"
	default:
		return statusInternalError, "internal"
	}
}
