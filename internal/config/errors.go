package config

import "errors"

// Load wraps ErrLoadConfig when the YAML file or a NETVR_ variable cannot
// be read, and ErrInvalidConfig when the values parse but cannot run a
// coordinator.
var (
	ErrInvalidConfig = errors.New("netvr config: invalid value")
	ErrLoadConfig    = errors.New("netvr config: cannot load")
)
