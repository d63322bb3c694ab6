// Package store persists fetched records per metric. Every write merges the
// new batch into what is already stored, keeping one row per record id with
// the most recently ingested version winning.
package store

import (
	"sync"
	"time"

	"github.com/goccy/go-json"

	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/gateway"
	"codeberg.org/mutker/hcgsync/internal/isotime"
	"codeberg.org/mutker/hcgsync/internal/logger"
)

type options struct {
	now func() time.Time
	log logger.Logger
}

type Option func(*options)

// WithClock sets the clock used for ingested_at stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Open returns the backend selected by cfg.Backend.
func Open(cfg Config, opts ...Option) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.New("store").With("backend", cfg.Backend)
	}

	switch cfg.Backend {
	case BackendSQLite:
		return newSQLiteStore(cfg, o)
	default:
		return newCSVStore(cfg, o)
	}
}

// toRows converts a fetched batch into rows stamped with ingestedAt.
func toRows(records []gateway.RawRecord, ingestedAt string) ([]Row, error) {
	errFactory := errors.New()

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(payloadOf(rec))
		if err != nil {
			return nil, errFactory.Wrap(ErrStoreWrite, err)
		}

		external := rec.ExternalID
		if external != nil && *external == "" {
			external = nil
		}

		rows = append(rows, Row{
			RecordID:   rec.RecordID,
			ExternalID: external,
			Start:      rec.Start,
			End:        rec.End,
			SourceApp:  rec.SourceApp,
			Payload:    string(data),
			IngestedAt: ingestedAt,
		})
	}

	return rows, nil
}

// payloadOf substitutes an empty object for a missing payload.
func payloadOf(rec gateway.RawRecord) any {
	switch p := rec.Payload.(type) {
	case nil:
		return gateway.Payload{}
	case gateway.Payload:
		if p == nil {
			return gateway.Payload{}
		}
	}
	return rec.Payload
}

// merge concatenates existing and incoming and keeps only the last
// occurrence of each record id, at that occurrence's position.
func merge(existing, incoming []Row) []Row {
	all := make([]Row, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)

	last := make(map[string]int, len(all))
	for i, row := range all {
		last[row.RecordID] = i
	}

	out := make([]Row, 0, len(last))
	for i, row := range all {
		if last[row.RecordID] == i {
			out = append(out, row)
		}
	}

	return out
}

func stamp(now func() time.Time) string {
	return isotime.Format(now())
}

// metricLocks serializes writers of the same metric.
type metricLocks struct {
	mu    sync.Mutex
	locks map[gateway.Metric]*sync.Mutex
}

func (l *metricLocks) lock(metric gateway.Metric) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[gateway.Metric]*sync.Mutex)
	}
	m, ok := l.locks[metric]
	if !ok {
		m = &sync.Mutex{}
		l.locks[metric] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
