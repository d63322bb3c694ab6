package gateway_test

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/gateway"
)

// fakeAuth issues access-N/refresh-N bundles that expire ttl after now.
type fakeAuth struct {
	now         time.Time
	ttl         time.Duration
	refreshes   atomic.Int32
	loginErr    error
	refreshErr  error
	lastRefresh atomic.Value
}

func (f *fakeAuth) bundle(n int32) gateway.TokenBundle {
	s := strconv.Itoa(int(n))
	return gateway.TokenBundle{
		AccessToken:  "access-" + s,
		RefreshToken: "refresh-" + s,
		Expiry:       f.now.Add(f.ttl),
	}
}

func (f *fakeAuth) Login(_ context.Context, _ gateway.Credentials) (gateway.TokenBundle, error) {
	if f.loginErr != nil {
		return gateway.TokenBundle{}, f.loginErr
	}
	return f.bundle(0), nil
}

func (f *fakeAuth) Refresh(_ context.Context, refreshToken string) (gateway.TokenBundle, error) {
	f.lastRefresh.Store(refreshToken)
	if f.refreshErr != nil {
		return gateway.TokenBundle{}, f.refreshErr
	}
	time.Sleep(time.Millisecond)
	return f.bundle(f.refreshes.Add(1)), nil
}

var tokenNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newManager(t *testing.T, auth *fakeAuth, now time.Time) *gateway.TokenManager {
	t.Helper()
	m, err := gateway.NewTokenManager(context.Background(), auth,
		gateway.Credentials{Username: "alice", Password: "secret"},
		gateway.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return m
}

func TestNewTokenManagerLoginFailure(t *testing.T) {
	auth := &fakeAuth{now: tokenNow, ttl: time.Hour}
	auth.loginErr = errors.New().WithData(errors.ErrAuthentication, "rejected")

	_, err := gateway.NewTokenManager(context.Background(), auth, gateway.Credentials{})
	assert.True(t, gateway.IsAuthentication(err))
}

func TestEnsureKeepsFreshToken(t *testing.T) {
	auth := &fakeAuth{now: tokenNow, ttl: time.Hour}
	m := newManager(t, auth, tokenNow)

	token, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-0", token)
	assert.Zero(t, auth.refreshes.Load())
}

func TestEnsureRefreshesWithinBuffer(t *testing.T) {
	auth := &fakeAuth{now: tokenNow, ttl: 4 * time.Minute}
	m := newManager(t, auth, tokenNow)

	token, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, "refresh-0", auth.lastRefresh.Load())
	assert.Equal(t, "refresh-1", m.Bundle().RefreshToken)
}

func TestEnsureRefreshesExpiredToken(t *testing.T) {
	auth := &fakeAuth{now: tokenNow, ttl: time.Hour}
	m := newManager(t, auth, tokenNow.Add(2*time.Hour))

	token, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
}

func TestEnsureRefreshFailureKeepsBundle(t *testing.T) {
	auth := &fakeAuth{now: tokenNow, ttl: time.Minute}
	m := newManager(t, auth, tokenNow)
	auth.refreshErr = errors.New().WithData(errors.ErrAuthentication, "refresh revoked")

	_, err := m.Ensure(context.Background())
	assert.True(t, gateway.IsAuthentication(err))
	assert.Equal(t, "access-0", m.Bundle().AccessToken)
}

func TestForceRefresh(t *testing.T) {
	auth := &fakeAuth{now: tokenNow, ttl: time.Hour}
	m := newManager(t, auth, tokenNow)

	token, err := m.ForceRefresh(context.Background(), "access-0")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	// A caller still holding access-0 gets the new token without another refresh.
	token, err = m.ForceRefresh(context.Background(), "access-0")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, int32(1), auth.refreshes.Load())
}

func TestConcurrentForceRefreshRefreshesOnce(t *testing.T) {
	auth := &fakeAuth{now: tokenNow, ttl: time.Hour}
	m := newManager(t, auth, tokenNow)

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := m.ForceRefresh(context.Background(), "access-0")
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), auth.refreshes.Load())
	for _, token := range tokens {
		assert.Equal(t, "access-1", token)
	}
}
