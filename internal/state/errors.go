package state

import "codeberg.org/mutker/hcgsync/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrMalformedState = errors.ErrMalformedState
	ErrStateRead      = errors.ErrStateRead
	ErrStateWrite     = errors.ErrStateWrite
)
