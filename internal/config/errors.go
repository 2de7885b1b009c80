package config

import "errors"

// Sentinel error kinds for this package.
var (
	// ErrInvalidConfig wraps validation failures from Validate and Load.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig wraps file, .env, and environment provider failures.
	ErrLoadConfig = errors.New("load config failed")
)
