package calibration

import "errors"

var (
	ErrTimedOut       = errors.New("calibration: sample collection timed out")
	ErrSessionActive  = errors.New("calibration: a session is already running")
	ErrTriggerFailed  = errors.New("calibration: could not start sampling on both clients")
	ErrAborted        = errors.New("calibration: session aborted")
	ErrSameClient     = errors.New("calibration: target and reference must differ")
	ErrInvalidTrigger = errors.New("calibration: invalid trigger")
	ErrNotCollecting  = errors.New("calibration: session is not collecting")
)
