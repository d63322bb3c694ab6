package gateway_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/gateway"
)

const testURL = "http://gateway.test"

func newTestClient(t *testing.T) *gateway.Client {
	t.Helper()

	cfg := gateway.DefaultConfig()
	cfg.BaseURL = testURL + "/"
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond

	client, err := gateway.NewClient(cfg)
	require.NoError(t, err)

	gock.InterceptClient(client.HTTPClient())
	t.Cleanup(func() {
		gock.Off()
		gock.RestoreClient(client.HTTPClient())
	})

	return client
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.BaseURL = "not a url"
	_, err := gateway.NewClient(cfg)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	cfg = gateway.DefaultConfig()
	cfg.Retry.MaxAttempts = 0
	_, err = gateway.NewClient(cfg)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestLogin(t *testing.T) {
	client := newTestClient(t)

	gock.New(testURL).
		Post("/api/v2/login").
		MatchType("json").
		JSON(map[string]string{"username": "alice", "password": "secret"}).
		Reply(200).
		JSON(map[string]string{
			"token":   "access-1",
			"refresh": "refresh-1",
			"expiry":  "2026-03-01T12:00:00Z",
		})

	bundle, err := client.Login(context.Background(), gateway.Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)

	assert.Equal(t, "access-1", bundle.AccessToken)
	assert.Equal(t, "refresh-1", bundle.RefreshToken)
	assert.True(t, bundle.Expiry.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.True(t, gock.IsDone())
}

func TestLoginRejected(t *testing.T) {
	client := newTestClient(t)

	gock.New(testURL).
		Post("/api/v2/login").
		Reply(403).
		JSON(map[string]string{"message": "bad credentials"})

	_, err := client.Login(context.Background(), gateway.Credentials{Username: "alice", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, gateway.IsAuthentication(err))
}

func TestLoginWithoutTokens(t *testing.T) {
	client := newTestClient(t)

	gock.New(testURL).
		Post("/api/v2/login").
		Reply(200).
		JSON(map[string]string{"token": "access-1"})

	_, err := client.Login(context.Background(), gateway.Credentials{Username: "alice", Password: "secret"})
	assert.True(t, gateway.IsAuthentication(err))
}

func TestRefresh(t *testing.T) {
	client := newTestClient(t)

	gock.New(testURL).
		Post("/api/v2/refresh").
		MatchType("json").
		JSON(map[string]string{"refresh": "refresh-1"}).
		Reply(200).
		JSON(map[string]string{
			"token":   "access-2",
			"refresh": "refresh-2",
			"expiry":  "2026-03-01T13:00:00+01:00",
		})

	bundle, err := client.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)

	assert.Equal(t, "access-2", bundle.AccessToken)
	assert.Equal(t, "refresh-2", bundle.RefreshToken)
	assert.True(t, bundle.Expiry.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestFetchSendsQueryAndDecodesRecords(t *testing.T) {
	client := newTestClient(t)

	gock.New(testURL).
		Post("/api/v2/fetch/heartRate").
		MatchHeader("Authorization", "^Bearer access-1$").
		MatchType("json").
		JSON(map[string]any{
			"queries": map[string]any{"start": map[string]any{"$gte": "2024-05-01T00:00:00+00:00"}},
		}).
		Reply(200).
		JSON([]any{
			map[string]any{
				"_id":   "r1",
				"id":    "ext-1",
				"start": "2024-05-01T08:00:00Z",
				"end":   "2024-05-01T08:01:00Z",
				"app":   "com.example.watch",
				"data":  map[string]any{"bpm": 71},
			},
			map[string]any{
				"_id":   "r2",
				"start": "2024-05-01T09:00:00Z",
				"data":  42,
			},
			map[string]any{
				"_id":   "r3",
				"start": "2024-05-01T10:00:00Z",
				"data":  []int{1, 2},
			},
			map[string]any{
				"_id":   "r4",
				"start": "2024-05-01T11:00:00Z",
			},
		})

	records, err := client.Fetch(context.Background(), "heartRate", "access-1",
		gateway.QuerySince("2024-05-01T00:00:00+00:00"))
	require.NoError(t, err)
	require.Len(t, records, 4)

	first := records[0]
	assert.Equal(t, "r1", first.RecordID)
	require.NotNil(t, first.ExternalID)
	assert.Equal(t, "ext-1", *first.ExternalID)
	assert.Equal(t, "com.example.watch", first.SourceApp)
	assert.Equal(t, gateway.Payload{"bpm": float64(71)}, first.Payload)

	second := records[1]
	assert.Nil(t, second.ExternalID)
	assert.Empty(t, second.End)
	assert.Equal(t, "2024-05-01T09:00:00Z", second.Timestamp())
	assert.Equal(t, float64(42), second.Payload)

	assert.Equal(t, []any{float64(1), float64(2)}, records[2].Payload)
	assert.Nil(t, records[3].Payload)

	assert.True(t, gock.IsDone())
}

func TestFetchUnauthorizedIsNotRetried(t *testing.T) {
	client := newTestClient(t)

	gock.New(testURL).
		Post("/api/v2/fetch/steps").
		Reply(401)
	gock.New(testURL).
		Post("/api/v2/fetch/steps").
		Reply(200).
		JSON([]any{})

	_, err := client.Fetch(context.Background(), "steps", "stale", gateway.QuerySince("2024-05-01T00:00:00+00:00"))
	require.Error(t, err)
	assert.True(t, gateway.IsUnauthorized(err))
	assert.False(t, errors.HasCode(err, errors.ErrFetch))
	assert.True(t, gock.IsPending(), "second mock must not be consumed")
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	client := newTestClient(t)

	gock.New(testURL).
		Post("/api/v2/fetch/steps").
		Reply(502)
	gock.New(testURL).
		Post("/api/v2/fetch/steps").
		ReplyError(stderrors.New("connection reset by peer"))
	gock.New(testURL).
		Post("/api/v2/fetch/steps").
		Reply(200).
		JSON([]any{map[string]any{"_id": "s1", "start": "2024-05-01T00:00:00Z"}})

	records, err := client.Fetch(context.Background(), "steps", "access-1", gateway.QuerySince("2024-05-01T00:00:00+00:00"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].RecordID)
	assert.True(t, gock.IsDone())
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	client := newTestClient(t)

	for i := 0; i < 3; i++ {
		gock.New(testURL).
			Post("/api/v2/fetch/steps").
			Reply(503).
			BodyString("upstream unavailable")
	}

	_, err := client.Fetch(context.Background(), "steps", "access-1", gateway.QuerySince("2024-05-01T00:00:00+00:00"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrFetch))
	assert.Contains(t, err.Error(), "503")
	assert.True(t, gock.IsDone())
}

func TestFetchNonListResponseIsEmpty(t *testing.T) {
	client := newTestClient(t)

	gock.New(testURL).
		Post("/api/v2/fetch/weight").
		Reply(200).
		JSON(map[string]string{"detail": "no data"})

	records, err := client.Fetch(context.Background(), "weight", "access-1", gateway.QuerySince("2024-05-01T00:00:00+00:00"))
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestFetchSkipsNonObjectEntries(t *testing.T) {
	client := newTestClient(t)

	gock.New(testURL).
		Post("/api/v2/fetch/weight").
		Reply(200).
		JSON([]any{"junk", 3, map[string]any{"_id": "w1", "start": "2024-05-01T00:00:00Z"}})

	records, err := client.Fetch(context.Background(), "weight", "access-1", gateway.QuerySince("2024-05-01T00:00:00+00:00"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "w1", records[0].RecordID)
}

func TestFetchHonoursCancellation(t *testing.T) {
	client := newTestClient(t)

	gock.New(testURL).
		Post("/api/v2/fetch/steps").
		Reply(500)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Fetch(ctx, "steps", "access-1", gateway.QuerySince("2024-05-01T00:00:00+00:00"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrFetch))
}
