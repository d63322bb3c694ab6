package store

import "codeberg.org/mutker/hcgsync/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrInvalidBackend = errors.ErrorCode("store_invalid_backend")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
	ErrStoreRead    = errors.ErrStoreRead
	ErrStoreWrite   = errors.ErrStoreWrite
)
