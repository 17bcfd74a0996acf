package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound          = errors.New("activity not found")
	ErrUnsupportedDriver = errors.New("unsupported store driver")
	ErrEmptyDSN          = errors.New("store dsn is empty")
)
