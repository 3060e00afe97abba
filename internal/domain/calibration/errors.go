package calibration

import "errors"

var (
	// ErrNotEnoughPairs means too few sample pairs survived the rejection filter.
	ErrNotEnoughPairs = errors.New("not enough usable rotation pairs")
	// ErrSampleMismatch means the target and reference sequences differ in length.
	ErrSampleMismatch = errors.New("target and reference sample counts differ")
	// ErrSVDFailed means the cross-covariance factorisation did not converge.
	ErrSVDFailed = errors.New("svd factorisation failed")
)
