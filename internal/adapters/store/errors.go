package store

import "errors"

// Sentinel kinds for store errors.
var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrInvalidValue = errors.New("invalid value")
	ErrAborted      = errors.New("transaction aborted")
	ErrClosed       = errors.New("store closed")
	ErrSnapshot     = errors.New("snapshot failed")
)
