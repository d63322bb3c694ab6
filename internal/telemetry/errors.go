package telemetry

import "codeberg.org/mutker/hcgsync/internal/errors"

const (
	// Configuration Errors
	ErrInvalidAddr = errors.ErrorCode("telemetry_invalid_addr")

	// Server Errors
	ErrServe           = errors.ErrorCode("telemetry_serve_failed")
	ErrServiceShutdown = errors.ErrorCode("telemetry_service_shutdown_failed")
)
