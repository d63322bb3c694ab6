package errors

// Common error codes
const (
	// System errors
	ErrInternal ErrorCode = "internal_error"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidMethods  ErrorCode = "invalid_methods"
	ErrInvalidWindow   ErrorCode = "invalid_date_window"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Application errors
	ErrInitApp  ErrorCode = "init_app_failed"
	ErrMainLoop ErrorCode = "main_loop_failed"

	// Gateway errors
	ErrAuthentication    ErrorCode = "gateway_authentication_failed"
	ErrUnauthorized      ErrorCode = "gateway_unauthorized"
	ErrFetch             ErrorCode = "gateway_fetch_failed"
	ErrMalformedResponse ErrorCode = "gateway_malformed_response"

	// Persistence errors
	ErrMalformedState ErrorCode = "state_malformed"
	ErrStateRead      ErrorCode = "state_read_failed"
	ErrStateWrite     ErrorCode = "state_write_failed"
	ErrStoreRead      ErrorCode = "store_read_failed"
	ErrStoreWrite     ErrorCode = "store_write_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidConfig:     "Invalid configuration",
	ErrMissingConfig:     "Missing configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrReadConfig:        "Failed to read config file",
	ErrInvalidInterval:   "Invalid interval value",
	ErrInvalidMethods:    "Invalid methods selection",
	ErrInvalidWindow:     "Invalid date window",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrInitFailed:        "Initialization failed",
	ErrShutdownFailed:    "Shutdown failed",
	ErrAlreadyRunning:    "Another collector is already running",
	ErrInitApp:           "Failed to initialize application",
	ErrMainLoop:          "Error in main loop",
	ErrAuthentication:    "Authentication rejected by gateway",
	ErrUnauthorized:      "Gateway token rejected",
	ErrFetch:             "Fetch failed after retries",
	ErrMalformedResponse: "Malformed gateway response",
	ErrMalformedState:    "Malformed collection state",
	ErrStateRead:         "Failed to read collection state",
	ErrStateWrite:        "Failed to write collection state",
	ErrStoreRead:         "Failed to read record store",
	ErrStoreWrite:        "Failed to write record store",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
