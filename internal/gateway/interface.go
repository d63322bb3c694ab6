package gateway

import (
	"context"
	"time"
)

// Metric names a Health Connect record type, e.g. "heartRate".
type Metric string

// Payload is the usual shape of a record's "data" value.
type Payload map[string]any

// RawRecord is one observation as returned by the fetch endpoint.
type RawRecord struct {
	RecordID   string  `json:"_id"`
	ExternalID *string `json:"id"`
	Start      string  `json:"start"`
	End        string  `json:"end"`
	SourceApp  string  `json:"app"`
	// Payload is the decoded "data" value: a Payload for objects, any other
	// JSON value as decoded.
	Payload any `json:"data"`
}

// TokenBundle is the credential pair handed out by login and refresh.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Credentials used for the initial login.
type Credentials struct {
	Username string
	Password string
}

// Query is a Mongo-style filter sent as {"queries": Query}.
type Query map[string]any

// Authenticator performs the login and refresh calls.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (TokenBundle, error)
	Refresh(ctx context.Context, refreshToken string) (TokenBundle, error)
}

// Fetcher retrieves the records of one metric matching query.
type Fetcher interface {
	Fetch(ctx context.Context, metric Metric, bearer string, query Query) ([]RawRecord, error)
}

// TokenSource hands out bearer tokens.
type TokenSource interface {
	// Ensure returns a token valid for immediate use, refreshing it first
	// when it is about to expire.
	Ensure(ctx context.Context) (string, error)
	// ForceRefresh replaces the token after the gateway rejected stale.
	ForceRefresh(ctx context.Context, stale string) (string, error)
}
