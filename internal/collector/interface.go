package collector

import (
	"time"

	"codeberg.org/mutker/hcgsync/internal/gateway"
	"codeberg.org/mutker/hcgsync/internal/state"
)

// StateStore persists the per-metric cursor.
type StateStore interface {
	Load(metric gateway.Metric) (state.State, error)
	Save(metric gateway.Metric, st state.State) error
}

// RecordStore receives each fetched batch.
type RecordStore interface {
	Append(metric gateway.Metric, records []gateway.RawRecord) error
}

// StateReader is the read side of the state store used for status reports.
type StateReader interface {
	Load(metric gateway.Metric) (state.State, error)
	LastUpdate(metric gateway.Metric) (time.Time, bool)
}

// RecordCounter is the read side of the record store used for status reports.
type RecordCounter interface {
	Count(metric gateway.Metric) (int, error)
}

// Window selects an explicit date range. The zero Window means an
// incremental run from the persisted cursor.
type Window struct {
	Start string
	End   string
}

// Explicit reports whether w is an explicit range. Explicit runs never move
// the cursor.
func (w Window) Explicit() bool {
	return w.Start != ""
}

// Result of one metric's cycle. Cursor is the new cursor after an
// incremental run that stored records, otherwise the previous one.
type Result struct {
	Count  int
	Cursor string
}

// Outcome is the per-metric entry of a batch run. A failed metric has a zero
// Count, an empty Cursor and a non-nil Err.
type Outcome struct {
	Count  int
	Cursor string
	Err    error
}

// Message returns the error text of a failed outcome, or "".
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
