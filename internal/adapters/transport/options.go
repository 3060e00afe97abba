package transport

import (
	"time"

	"github.com/okian/netvr/internal/adapters/protocol"
	"github.com/okian/netvr/pkg/logger"
)

type settings struct {
	handshakeTimeout time.Duration
	heartbeat        time.Duration
	maxFrame         int
	logger           logger.Logger
}

func defaults(name string) settings {
	return settings{
		handshakeTimeout: protocol.DefaultHandshakeTimeout,
		heartbeat:        time.Second,
		maxFrame:         protocol.DefaultMaxFrameBytes,
		logger:           logger.Get().Named(name),
	}
}

// Option applies a configuration option to a Server or DatagramSocket.
type Option func(*settings)

// WithHandshakeTimeout bounds the identifier exchange.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// WithHeartbeatInterval sets how often Heartbeat is sent to each client.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithMaxFrameBytes caps inbound and outbound frames.
func WithMaxFrameBytes(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxFrame = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
