package routing

import "errors"

var (
	ErrInvalidStrategy  = errors.New("invalid strategy")
	ErrInvalidThreshold = errors.New("confidence threshold must be within [0,1]")
	ErrMissingBackend   = errors.New("router requires both a local and a remote backend")
)
