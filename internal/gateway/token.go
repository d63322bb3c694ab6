package gateway

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/hcgsync/internal/logger"
	"codeberg.org/mutker/hcgsync/internal/telemetry"
)

// DefaultRefreshBuffer is how long before expiry a token is refreshed.
const DefaultRefreshBuffer = 5 * time.Minute

// TokenManager owns the token bundle for the lifetime of a run. Ensure and
// ForceRefresh are serialized so concurrent collectors never issue
// overlapping refresh calls.
type TokenManager struct {
	mu     sync.Mutex
	auth   Authenticator
	bundle TokenBundle
	buffer time.Duration
	now    func() time.Time
	log    logger.Logger
}

type TokenOption func(*TokenManager)

// WithClock overrides the wall clock used for expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

func WithRefreshBuffer(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		m.buffer = d
	}
}

func WithTokenLogger(log logger.Logger) TokenOption {
	return func(m *TokenManager) {
		m.log = log
	}
}

// NewTokenManager logs in and holds the resulting bundle.
func NewTokenManager(ctx context.Context, auth Authenticator, creds Credentials, opts ...TokenOption) (*TokenManager, error) {
	m := &TokenManager{
		auth:   auth,
		buffer: DefaultRefreshBuffer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.New("token")
	}

	bundle, err := auth.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	m.bundle = bundle

	m.log.Info().
		Str("username", creds.Username).
		Time("expiry", bundle.Expiry).
		Msg("Logged in to gateway")

	return m, nil
}

// Ensure returns the access token, refreshing it first when it expires
// within the refresh buffer.
func (m *TokenManager) Ensure(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expiring() {
		if err := m.refresh(ctx, telemetry.RefreshExpiring); err != nil {
			return "", err
		}
	}

	return m.bundle.AccessToken, nil
}

// ForceRefresh refreshes the bundle after the gateway rejected stale. When
// the held token already differs from stale, someone else refreshed it and
// the current token is returned as is.
func (m *TokenManager) ForceRefresh(ctx context.Context, stale string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bundle.AccessToken != stale {
		m.log.Debug().Msg("Token already refreshed by another caller")
		return m.bundle.AccessToken, nil
	}

	if err := m.refresh(ctx, telemetry.RefreshUnauthorized); err != nil {
		return "", err
	}

	return m.bundle.AccessToken, nil
}

// Bundle returns a copy of the held bundle.
func (m *TokenManager) Bundle() TokenBundle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bundle
}

func (m *TokenManager) expiring() bool {
	return !m.now().UTC().Add(m.buffer).Before(m.bundle.Expiry)
}

// refresh must be called with mu held. The bundle is only replaced on success.
func (m *TokenManager) refresh(ctx context.Context, reason string) error {
	bundle, err := m.auth.Refresh(ctx, m.bundle.RefreshToken)
	if err != nil {
		m.log.Error().Err(err).Str("reason", reason).Msg("Token refresh failed")
		return err
	}

	telemetry.RecordTokenRefresh(reason)
	m.bundle = bundle

	m.log.Debug().
		Str("reason", reason).
		Time("expiry", bundle.Expiry).
		Msg("Token refreshed")

	return nil
}
