package state

import "codeberg.org/mutker/hcgsync/internal/errors"

const (
	defaultDir      = "state"
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	// DefaultLookbackHours is the window collected for a metric without state.
	DefaultLookbackHours = 24
)

type Config struct {
	Dir           string
	LookbackHours int
}

func DefaultConfig() Config {
	return Config{
		Dir:           defaultDir,
		LookbackHours: DefaultLookbackHours,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Dir == "" {
		return errFactory.WithData(ErrInvalidConfig, "state_dir must not be empty")
	}
	if c.LookbackHours <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "lookback must be positive")
	}
	return nil
}
