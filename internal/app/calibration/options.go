package calibration

import (
	"time"

	rigid "github.com/okian/netvr/internal/domain/calibration"
	"github.com/okian/netvr/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithTimeout bounds sample collection.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMaxSamples caps the sample_count a trigger may ask for.
func WithMaxSamples(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSamples = n
		}
	}
}

// WithDumper persists raw input after successful collection.
func WithDumper(d Dumper) Option {
	return func(m *Manager) { m.dumper = d }
}

// WithMinPairs sets the minimum accepted rotation pairs.
func WithMinPairs(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.rigidOpts = append(m.rigidOpts, rigid.WithMinPairs(n))
		}
	}
}

// WithObserver receives every session state transition.
func WithObserver(fn func(Event)) Option {
	return func(m *Manager) { m.observe = fn }
}

// WithLogger sets the manager logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
