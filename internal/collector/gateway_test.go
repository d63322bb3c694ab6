package collector_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/hcgsync/internal/collector"
	"codeberg.org/mutker/hcgsync/internal/gateway"
	"codeberg.org/mutker/hcgsync/internal/state"
	"codeberg.org/mutker/hcgsync/internal/store"
)

const gatewayURL = "http://hcgateway.test"

type pipeline struct {
	collector *collector.Collector
	states    *state.Store
	records   store.Store
}

// newPipeline wires the real gateway client, token manager and stores
// against a gock-mocked gateway. The login mock must already be registered.
func newPipeline(t *testing.T, backend string) *pipeline {
	t.Helper()

	cfg := gateway.DefaultConfig()
	cfg.BaseURL = gatewayURL
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 4 * time.Millisecond

	client, err := gateway.NewClient(cfg)
	require.NoError(t, err)
	gock.InterceptClient(client.HTTPClient())
	t.Cleanup(func() {
		gock.Off()
		gock.RestoreClient(client.HTTPClient())
	})

	tokens, err := gateway.NewTokenManager(context.Background(), client,
		gateway.Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)

	dir := t.TempDir()
	stateCfg := state.DefaultConfig()
	stateCfg.Dir = filepath.Join(dir, "state")
	states, err := state.New(stateCfg)
	require.NoError(t, err)

	storeCfg := store.DefaultConfig()
	storeCfg.Backend = backend
	storeCfg.Dir = filepath.Join(dir, "data")
	records, err := store.Open(storeCfg)
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	c, err := collector.New(collector.DefaultConfig(), client, tokens, states, records)
	require.NoError(t, err)

	return &pipeline{collector: c, states: states, records: records}
}

func mockLogin(access string) {
	gock.New(gatewayURL).
		Post("/api/v2/login").
		Reply(200).
		JSON(map[string]string{
			"token":   access,
			"refresh": "refresh-" + access,
			"expiry":  time.Now().UTC().Add(time.Hour).Format("2006-01-02T15:04:05"),
		})
}

func TestPipelineRefreshesAfterUnauthorized(t *testing.T) {
	mockLogin("tok-1")
	p := newPipeline(t, store.BackendCSV)
	require.NoError(t, p.states.Save("heartRate", state.State{LastSince: "2025-01-01T00:00:00Z"}))

	gock.New(gatewayURL).
		Post("/api/v2/fetch/heartRate").
		MatchHeader("Authorization", "^Bearer tok-1$").
		Reply(401)
	gock.New(gatewayURL).
		Post("/api/v2/refresh").
		MatchType("json").
		JSON(map[string]string{"refresh": "refresh-tok-1"}).
		Reply(200).
		JSON(map[string]string{
			"token":   "tok-2",
			"refresh": "refresh-tok-2",
			"expiry":  time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
		})
	gock.New(gatewayURL).
		Post("/api/v2/fetch/heartRate").
		MatchHeader("Authorization", "^Bearer tok-2$").
		MatchType("json").
		JSON(map[string]any{"queries": map[string]any{"start": map[string]any{"$gte": "2025-01-01T00:00:00+00:00"}}}).
		Reply(200).
		JSON([]any{map[string]any{
			"_id":   "a",
			"start": "2025-01-02T00:00:00Z",
			"end":   "2025-01-02T00:05:00Z",
			"data":  map[string]any{"samples": []any{}},
		}})

	res, err := p.collector.CollectOnce(context.Background(), "heartRate", collector.Window{})
	require.NoError(t, err)
	assert.Equal(t, collector.Result{Count: 1, Cursor: "2025-01-02T00:05:00+00:00"}, res)
	assert.True(t, gock.IsDone())

	rows, err := p.records.Rows("heartRate")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].RecordID)
}

func TestPipelineSurvivesTransientFailures(t *testing.T) {
	mockLogin("tok-1")
	p := newPipeline(t, store.BackendSQLite)
	require.NoError(t, p.states.Save("steps", state.State{LastSince: "2025-01-01T00:00:00Z"}))

	gock.New(gatewayURL).Post("/api/v2/fetch/steps").Reply(500)
	gock.New(gatewayURL).Post("/api/v2/fetch/steps").Reply(503)
	gock.New(gatewayURL).
		Post("/api/v2/fetch/steps").
		Reply(200).
		JSON([]any{
			map[string]any{"_id": "s2", "start": "2025-01-01T09:00:00Z", "data": map[string]any{"count": 30}},
			map[string]any{"_id": "s1", "start": "2025-01-01T08:00:00Z", "data": map[string]any{"count": 12}},
		})

	res, err := p.collector.CollectOnce(context.Background(), "steps", collector.Window{})
	require.NoError(t, err)
	assert.Equal(t, collector.Result{Count: 2, Cursor: "2025-01-01T09:00:00+00:00"}, res)
	assert.True(t, gock.IsDone())

	st, err := p.states.Load("steps")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01T09:00:00+00:00", st.LastSince)
}

func TestPipelineExhaustedRetriesIsolatedPerMetric(t *testing.T) {
	mockLogin("tok-1")
	p := newPipeline(t, store.BackendCSV)

	for i := 0; i < 3; i++ {
		gock.New(gatewayURL).Post("/api/v2/fetch/weight").Reply(502)
	}
	gock.New(gatewayURL).
		Post("/api/v2/fetch/steps").
		Reply(200).
		JSON([]any{map[string]any{"_id": "s1", "start": "2025-01-01T08:00:00Z"}})

	outcomes := p.collector.CollectAll(context.Background(), []gateway.Metric{"weight", "steps"}, collector.Window{})

	require.Error(t, outcomes["weight"].Err)
	assert.Zero(t, outcomes["weight"].Count)
	assert.NoError(t, outcomes["steps"].Err)
	assert.Equal(t, 1, outcomes["steps"].Count)

	_, ok := p.states.LastUpdate("weight")
	assert.False(t, ok)
}
