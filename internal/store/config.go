package store

import (
	"path/filepath"

	"codeberg.org/mutker/hcgsync/internal/errors"
)

// Backend names accepted by the store setting.
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

const (
	// File system permissions and paths
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644
	defaultDataDir  = "data"
	dbFileName      = "records.db"
	backupDirName   = "backups"
)

type Config struct {
	Backend         string
	Dir             string
	BackupOnMigrate bool
}

func DefaultConfig() Config {
	return Config{
		Backend:         BackendCSV,
		Dir:             defaultDataDir,
		BackupOnMigrate: true,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch c.Backend {
	case BackendCSV, BackendSQLite:
	default:
		return errFactory.WithData(ErrInvalidBackend, c.Backend)
	}
	if c.Dir == "" {
		return errFactory.WithData(ErrInvalidConfig, "data_dir must not be empty")
	}
	return nil
}

// DBPath is the sqlite database location inside Dir.
func (c Config) DBPath() string {
	return filepath.Join(c.Dir, dbFileName)
}

func (c Config) backupDir() string {
	return filepath.Join(c.Dir, backupDirName)
}
