package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/isotime"
	"codeberg.org/mutker/hcgsync/internal/logger"
	"codeberg.org/mutker/hcgsync/internal/telemetry"
)

const (
	loginPath   = "/api/v2/login"
	refreshPath = "/api/v2/refresh"
	fetchPath   = "/api/v2/fetch/"

	maxErrorBody = 512
)

// Client talks to the Health Connect Gateway REST API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logger.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.New("gateway")
	}

	return c, nil
}

// HTTPClient returns the *http.Client used for every call.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

type tokenResponse struct {
	Token   string `json:"token"`
	Refresh string `json:"refresh"`
	Expiry  string `json:"expiry"`
}

// Login exchanges credentials for a token bundle.
func (c *Client) Login(ctx context.Context, creds Credentials) (TokenBundle, error) {
	body := map[string]string{"username": creds.Username, "password": creds.Password}
	return c.authenticate(ctx, loginPath, body)
}

// Refresh exchanges a refresh token for a new bundle.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenBundle, error) {
	return c.authenticate(ctx, refreshPath, map[string]string{"refresh": refreshToken})
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (TokenBundle, error) {
	errFactory := errors.New()

	var resp tokenResponse
	if err := c.post(ctx, c.cfg.AuthTimeout, path, "", body, &resp); err != nil {
		return TokenBundle{}, errFactory.Wrap(ErrAuthentication, fmt.Errorf("%s: %w", path, err))
	}

	if resp.Token == "" || resp.Refresh == "" {
		return TokenBundle{}, errFactory.WithData(ErrAuthentication, path+": response without token")
	}

	expiry, err := isotime.Parse(resp.Expiry)
	if err != nil {
		return TokenBundle{}, errFactory.Wrap(ErrAuthentication, fmt.Errorf("%s: expiry: %w", path, err))
	}

	return TokenBundle{
		AccessToken:  resp.Token,
		RefreshToken: resp.Refresh,
		Expiry:       expiry,
	}, nil
}

// Fetch returns the records of metric matching query. A 401 is returned
// immediately as ErrUnauthorized; any other failure is retried according to
// the retry policy before surfacing as ErrFetch.
func (c *Client) Fetch(ctx context.Context, metric Metric, bearer string, query Query) ([]RawRecord, error) {
	errFactory := errors.New()
	policy := c.cfg.Retry
	delays := policy.backOff()
	method := string(metric)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		records, err := c.fetchOnce(ctx, metric, bearer, query)
		if err == nil {
			telemetry.RecordFetchAttempt(method, telemetry.OutcomeSuccess)
			return records, nil
		}

		if IsUnauthorized(err) {
			telemetry.RecordFetchAttempt(method, telemetry.OutcomeUnauthorized)
			return nil, err
		}

		telemetry.RecordFetchAttempt(method, telemetry.OutcomeError)
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		delay := delays.NextBackOff()
		c.log.Warn().
			Err(err).
			Str("method", method).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Fetch failed, retrying")

		if err := sleepContext(ctx, delay); err != nil {
			return nil, errFactory.Wrap(ErrFetch, err)
		}
	}

	return nil, errFactory.Wrap(ErrFetch, fmt.Errorf("%s after %d attempts: %w", method, policy.MaxAttempts, lastErr))
}

func (c *Client) fetchOnce(ctx context.Context, metric Metric, bearer string, query Query) ([]RawRecord, error) {
	var doc any
	body := map[string]any{"queries": query}
	if err := c.post(ctx, c.cfg.FetchTimeout, fetchPath+string(metric), bearer, body, &doc); err != nil {
		return nil, err
	}

	records, skipped, ok := decodeRecords(doc)
	if !ok {
		c.log.Warn().
			Str("method", string(metric)).
			Str("error_code", string(ErrMalformedResponse)).
			Msgf("Response is %T, not a list; treating as no data", doc)
		return []RawRecord{}, nil
	}
	if skipped > 0 {
		c.log.Warn().
			Str("method", string(metric)).
			Int("skipped", skipped).
			Msg("Skipped non-object entries in response")
	}

	return records, nil
}

// post sends body as JSON and decodes the response into out. A 401 yields
// ErrUnauthorized; other non-2xx statuses yield a plain error.
func (c *Client) post(ctx context.Context, timeout time.Duration, path, bearer string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.baseURL()+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.New().WithData(ErrUnauthorized, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return fmt.Errorf("http error %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
