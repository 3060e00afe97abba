package repository

import "errors"

// ErrNotFound means the client has no stored configuration.
var ErrNotFound = errors.New("client not found")
