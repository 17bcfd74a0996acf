package config

import (
	"errors"
	"fmt"
)

// ErrLoadConfig wraps failures reading the file or the environment.
// ErrInvalidConfig wraps every validation failure, including the more
// specific principal errors below.
var (
	ErrLoadConfig    = errors.New("load config failed")
	ErrInvalidConfig = errors.New("invalid config")

	ErrDuplicatePrincipal = fmt.Errorf("%w: duplicate principal", ErrInvalidConfig)
	ErrMissingOAuthClient = fmt.Errorf("%w: client_id and client_secret are required with principals", ErrInvalidConfig)
)
