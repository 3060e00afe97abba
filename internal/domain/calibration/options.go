package calibration

// Default rejection thresholds. Deltas at or below these are too close to
// identity or too axis-degenerate to constrain the rotation.
const (
	DefaultMinAngle    = 0.4
	DefaultMinAxisNorm = 0.01
	DefaultMinPairs    = 3
)

// Options tunes the rejection filter and convergence requirement.
type Options struct {
	MinAngle    float64
	MinAxisNorm float64
	MinPairs    int
}

// Option applies a configuration option to Options.
type Option func(*Options)

// DefaultOptions returns the thresholds used when no option is given.
func DefaultOptions() Options {
	return Options{
		MinAngle:    DefaultMinAngle,
		MinAxisNorm: DefaultMinAxisNorm,
		MinPairs:    DefaultMinPairs,
	}
}

// WithMinPairs sets the minimum number of accepted pairs.
func WithMinPairs(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MinPairs = n
		}
	}
}

// WithThresholds overrides the angle and axis-norm rejection thresholds.
func WithThresholds(minAngle, minAxisNorm float64) Option {
	return func(o *Options) {
		if minAngle >= 0 {
			o.MinAngle = minAngle
		}
		if minAxisNorm >= 0 {
			o.MinAxisNorm = minAxisNorm
		}
	}
}

func buildOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
