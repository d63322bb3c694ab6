package config

import "codeberg.org/mutker/hcgsync/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrInvalidConfig
	ErrMissingConfig   = errors.ErrMissingConfig
	ErrBindFlags       = errors.ErrBindFlags
	ErrReadConfig      = errors.ErrReadConfig
	ErrInvalidInterval = errors.ErrInvalidInterval
	ErrInvalidLogLevel = errors.ErrInvalidLogLevel
)
