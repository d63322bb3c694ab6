package collector

import "codeberg.org/mutker/hcgsync/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrInvalidWindow  = errors.ErrInvalidWindow
	ErrAuthentication = errors.ErrAuthentication
)
