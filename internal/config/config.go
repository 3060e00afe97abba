// Package config defines coordinator configuration structures and loading hooks.
//
// Conventions:
//   - New() builds a Config with defaults; Load layers file and env on top.
//   - Durations are configured in milliseconds and exposed through accessors.
//   - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr is the dashboard HTTP listen address.
	Addr string `koanf:"addr"`

	// StreamAddr is the TCP address for reliable configuration streams.
	StreamAddr string `koanf:"stream_addr"`

	// DatagramAddr is the UDP address for state datagrams.
	DatagramAddr string `koanf:"datagram_addr"`

	// DiscoveryAddr is the UDP address answering discovery probes.
	// Empty disables discovery.
	DiscoveryAddr string `koanf:"discovery_addr"`

	// DiscoveryGroup optionally joins a multicast group, e.g. "239.255.13.160".
	DiscoveryGroup string `koanf:"discovery_group"`

	HandshakeTimeoutMS   int `koanf:"handshake_timeout_ms"`
	HeartbeatIntervalMS  int `koanf:"heartbeat_interval_ms"`
	TickIntervalMS       int `koanf:"tick_interval_ms"`
	StatePushIntervalMS  int `koanf:"state_push_interval_ms"`
	CalibrationTimeoutMS int `koanf:"calibration_timeout_ms"`

	// CalibrationMinPairs is the minimum number of accepted rotation pairs.
	CalibrationMinPairs int `koanf:"calibration_min_pairs"`

	// CalibrationMaxSamples caps the per-side sample_count of a trigger.
	CalibrationMaxSamples int `koanf:"calibration_max_samples"`

	// CalibrationDumpDir receives raw sample dumps. Empty disables dumps.
	CalibrationDumpDir string `koanf:"calibration_dump_dir"`

	// CommandQueueSize bounds the coordinator command queue.
	CommandQueueSize int `koanf:"command_queue_size"`

	// MaxFrameBytes caps one length-prefixed frame.
	MaxFrameBytes int `koanf:"max_frame_bytes"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":13162",
		StreamAddr:            ":13161",
		DatagramAddr:          ":13161",
		DiscoveryAddr:         ":13160",
		HandshakeTimeoutMS:    5_000,
		HeartbeatIntervalMS:   1_000,
		TickIntervalMS:        20,
		StatePushIntervalMS:   20,
		CalibrationTimeoutMS:  60_000,
		CalibrationMinPairs:   3,
		CalibrationMaxSamples: 10_000,
		CalibrationDumpDir:    "calibrations",
		CommandQueueSize:      1024,
		MaxFrameBytes:         8 * 1024 * 1024,
	}
}

// Validate checks the invariants Load relies on.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StreamAddr == "":
		return fmt.Errorf("%w: stream_addr must not be empty", ErrInvalidConfig)
	case c.DatagramAddr == "":
		return fmt.Errorf("%w: datagram_addr must not be empty", ErrInvalidConfig)
	}
	positive := map[string]int{
		"handshake_timeout_ms":    c.HandshakeTimeoutMS,
		"heartbeat_interval_ms":   c.HeartbeatIntervalMS,
		"tick_interval_ms":        c.TickIntervalMS,
		"state_push_interval_ms":  c.StatePushIntervalMS,
		"calibration_timeout_ms":  c.CalibrationTimeoutMS,
		"calibration_min_pairs":   c.CalibrationMinPairs,
		"calibration_max_samples": c.CalibrationMaxSamples,
		"command_queue_size":      c.CommandQueueSize,
		"max_frame_bytes":         c.MaxFrameBytes,
	}
	for key, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, key, v)
		}
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) HandshakeTimeout() time.Duration   { return ms(c.HandshakeTimeoutMS) }
func (c *Config) HeartbeatInterval() time.Duration  { return ms(c.HeartbeatIntervalMS) }
func (c *Config) TickInterval() time.Duration       { return ms(c.TickIntervalMS) }
func (c *Config) StatePushInterval() time.Duration  { return ms(c.StatePushIntervalMS) }
func (c *Config) CalibrationTimeout() time.Duration { return ms(c.CalibrationTimeoutMS) }
