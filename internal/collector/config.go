package collector

import "codeberg.org/mutker/hcgsync/internal/errors"

const defaultWorkers = 1

type Config struct {
	// Workers bounds how many metrics are collected at once.
	Workers int
}

func DefaultConfig() Config {
	return Config{Workers: defaultWorkers}
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return errors.New().WithData(ErrInvalidConfig, "workers must be at least 1")
	}
	return nil
}
