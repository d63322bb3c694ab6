// Package collector runs the incremental collection cycle: read the cursor,
// fetch newer records, store them and advance the cursor.
package collector

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/gateway"
	"codeberg.org/mutker/hcgsync/internal/isotime"
	"codeberg.org/mutker/hcgsync/internal/logger"
	"codeberg.org/mutker/hcgsync/internal/telemetry"
)

type Collector struct {
	cfg      Config
	fetcher  gateway.Fetcher
	tokens   gateway.TokenSource
	states   StateStore
	records  RecordStore
	log      logger.Logger
	newRunID func() string
}

type Option func(*Collector)

func WithLogger(log logger.Logger) Option {
	return func(c *Collector) {
		c.log = log
	}
}

// WithRunID overrides the generator of per-cycle run ids.
func WithRunID(fn func() string) Option {
	return func(c *Collector) {
		c.newRunID = fn
	}
}

func New(cfg Config, fetcher gateway.Fetcher, tokens gateway.TokenSource, states StateStore, records RecordStore, opts ...Option) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Collector{
		cfg:      cfg,
		fetcher:  fetcher,
		tokens:   tokens,
		states:   states,
		records:  records,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.New("collector")
	}

	return c, nil
}

// CollectOnce runs one cycle for metric.
func (c *Collector) CollectOnce(ctx context.Context, metric gateway.Metric, window Window) (Result, error) {
	return c.collect(ctx, c.newRunID(), metric, window)
}

// CollectAll runs one cycle for every metric. A failing metric never aborts
// the others; its Outcome carries the error.
func (c *Collector) CollectAll(ctx context.Context, metrics []gateway.Metric, window Window) map[gateway.Metric]Outcome {
	runID := c.newRunID()
	log := c.log.With("run_id", runID)
	started := time.Now()

	var (
		mu       sync.Mutex
		outcomes = make(map[gateway.Metric]Outcome, len(metrics))
		g        errgroup.Group
	)
	g.SetLimit(c.cfg.Workers)

	for _, metric := range metrics {
		metric := metric
		g.Go(func() error {
			res, err := c.collect(ctx, runID, metric, window)

			out := Outcome{Count: res.Count, Cursor: res.Cursor}
			if err != nil {
				out = Outcome{Err: err}
				telemetry.RecordCollectError(string(metric), string(errors.CodeOf(err)))
				log.Error().
					Err(err).
					Str("method", string(metric)).
					Str("error_code", string(errors.CodeOf(err))).
					Msg("Collection failed")
			}

			mu.Lock()
			outcomes[metric] = out
			mu.Unlock()

			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(started)
	telemetry.ObserveCycle(elapsed)

	total, failed := 0, 0
	for _, out := range outcomes {
		total += out.Count
		if out.Err != nil {
			failed++
		}
	}
	log.Info().
		Int("methods", len(metrics)).
		Int("failed", failed).
		Int("count", total).
		Dur("elapsed", elapsed).
		Msg("Collection cycle finished")

	return outcomes
}

func (c *Collector) collect(ctx context.Context, runID string, metric gateway.Metric, window Window) (Result, error) {
	log := c.log.With("method", string(metric))

	// Explicit runs read the cursor only to report it back.
	st, err := c.states.Load(metric)
	if err != nil {
		return Result{}, err
	}

	query := gateway.QuerySince(st.LastSince)
	if window.Explicit() {
		query = gateway.QueryRange(window.Start, window.End)
	}

	records, err := c.fetch(ctx, metric, query)
	if err != nil {
		return Result{}, err
	}
	sortByInstant(records)

	if err := c.records.Append(metric, records); err != nil {
		return Result{}, err
	}
	telemetry.RecordStored(string(metric), len(records))

	if window.Explicit() {
		log.Info().
			Str("since", window.Start).
			Str("until", window.End).
			Int("count", len(records)).
			Msg("Collected explicit range")
		return Result{Count: len(records), Cursor: st.LastSince}, nil
	}

	if len(records) == 0 {
		log.Debug().Str("since", st.LastSince).Msg("No new records")
		return Result{Count: 0, Cursor: st.LastSince}, nil
	}

	last := records[len(records)-1]
	cursor, err := isotime.Normalize(last.Timestamp())
	if err != nil {
		log.Warn().
			Err(err).
			Str("record_id", last.RecordID).
			Msg("Newest record has no usable timestamp, keeping cursor")
		return Result{Count: len(records), Cursor: st.LastSince}, nil
	}

	st.LastSince = cursor
	st.LastRunID = runID
	st.LastCount = len(records)
	if err := c.states.Save(metric, st); err != nil {
		return Result{}, err
	}
	telemetry.RecordCursor(string(metric), last.Instant())

	log.Info().
		Str("since", cursor).
		Int("count", len(records)).
		Msg("Collected records")

	return Result{Count: len(records), Cursor: cursor}, nil
}

// fetch calls the gateway with a valid token. A rejected token is refreshed
// and the call repeated exactly once; a second rejection is an
// authentication failure.
func (c *Collector) fetch(ctx context.Context, metric gateway.Metric, query gateway.Query) ([]gateway.RawRecord, error) {
	bearer, err := c.tokens.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	records, err := c.fetcher.Fetch(ctx, metric, bearer, query)
	if gateway.IsUnauthorized(err) {
		c.log.Warn().Str("method", string(metric)).Msg("Token rejected, refreshing and retrying once")

		bearer, err = c.tokens.ForceRefresh(ctx, bearer)
		if err != nil {
			return nil, err
		}

		records, err = c.fetcher.Fetch(ctx, metric, bearer, query)
		if gateway.IsUnauthorized(err) {
			return nil, errors.New().Wrap(ErrAuthentication, err)
		}
	}
	if err != nil {
		return nil, err
	}

	if records == nil {
		records = []gateway.RawRecord{}
	}
	return records, nil
}

// sortByInstant orders records by end-or-start time, oldest first. Records
// without a usable timestamp sort as the epoch; ties keep API order.
func sortByInstant(records []gateway.RawRecord) {
	type keyed struct {
		at  time.Time
		rec gateway.RawRecord
	}

	items := make([]keyed, len(records))
	for i, rec := range records {
		items[i] = keyed{at: rec.Instant(), rec: rec}
	}
	slices.SortStableFunc(items, func(a, b keyed) int {
		return a.at.Compare(b.at)
	})
	for i := range items {
		records[i] = items[i].rec
	}
}
