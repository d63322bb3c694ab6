package gateway

import (
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"codeberg.org/mutker/hcgsync/internal/errors"
)

const (
	DefaultBaseURL = "https://api.hcgateway.shuchir.dev"

	defaultAuthTimeout  = 30 * time.Second
	defaultFetchTimeout = 60 * time.Second
	defaultMaxAttempts  = 3
	defaultBaseDelay    = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultMultiplier   = 2.0
)

// RetryPolicy bounds the transient-failure retries of a fetch.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
		Multiplier:  defaultMultiplier,
	}
}

// backOff yields BaseDelay, BaseDelay*Multiplier, ... capped at MaxDelay, without jitter.
func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

type Config struct {
	BaseURL      string
	AuthTimeout  time.Duration
	FetchTimeout time.Duration
	Retry        RetryPolicy
	// RateLimit caps requests per second; zero disables the limiter.
	RateLimit float64
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		AuthTimeout:  defaultAuthTimeout,
		FetchTimeout: defaultFetchTimeout,
		Retry:        DefaultRetryPolicy(),
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errFactory.WithData(ErrInvalidConfig, "base_url: "+c.BaseURL)
	}
	if c.AuthTimeout <= 0 || c.FetchTimeout <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "timeouts must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return errFactory.WithData(ErrInvalidConfig, "retry attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay || c.Retry.Multiplier < 1 {
		return errFactory.WithData(ErrInvalidConfig, "invalid retry backoff")
	}
	if c.RateLimit < 0 {
		return errFactory.WithData(ErrInvalidConfig, "rate_limit must not be negative")
	}
	return nil
}

func (c Config) baseURL() string {
	return strings.TrimRight(c.BaseURL, "/")
}
