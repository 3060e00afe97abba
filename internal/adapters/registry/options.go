package registry

import "github.com/okian/netvr/pkg/logger"

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDatagramWriter attaches the socket used by SendDatagram.
func WithDatagramWriter(w DatagramWriter) Option {
	return func(r *Registry) { r.datagrams = w }
}
