package coordinator

import (
	"time"

	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/logger"
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithTickInterval sets the world broadcast period.
func WithTickInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithWorldObserver registers a callback invoked with the world after every
// tick broadcast. It runs on the loop goroutine and must not block.
func WithWorldObserver(fn func([]model.Object)) Option {
	return func(c *Coordinator) { c.observe = fn }
}
