package simclient

import (
	"time"

	"github.com/okian/netvr/internal/adapters/transport"
	"github.com/okian/netvr/internal/domain/geometry"
	"github.com/okian/netvr/pkg/logger"
)

// Default device settings.
const (
	DefaultStateInterval = 20 * time.Millisecond
	DefaultName          = "simulated"
)

// Option configures a Device.
type Option func(*Device)

// WithName sets the configuration name the device reports.
func WithName(name string) Option {
	return func(d *Device) {
		if name != "" {
			d.name = name
		}
	}
}

// WithFrame places the device's tracking space inside the shared physical
// space. Calibration recovers the relative frame of two devices.
func WithFrame(frame geometry.Pose) Option {
	return func(d *Device) { d.frame = frame }
}

// WithStateInterval sets how often state datagrams are sent.
func WithStateInterval(interval time.Duration) Option {
	return func(d *Device) {
		if interval > 0 {
			d.stateInterval = interval
		}
	}
}

// WithDialOptions passes options to the stream handshake.
func WithDialOptions(opts ...transport.Option) Option {
	return func(d *Device) { d.dialOpts = append(d.dialOpts, opts...) }
}

// WithLogger sets the device logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}
