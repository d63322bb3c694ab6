package store

import "codeberg.org/mutker/hcgsync/internal/gateway"

// Columns is the fixed column set of a metric store, in order.
var Columns = []string{"record_id", "external_id", "start", "end", "source_app", "payload", "ingested_at"}

// Row is a stored record. Payload holds the record's data as JSON text.
type Row struct {
	RecordID   string
	ExternalID *string
	Start      string
	End        string
	SourceApp  string
	Payload    string
	IngestedAt string
}

// Store is a per-metric record store with last-write-wins merge on the
// record id.
type Store interface {
	// Append merges records into metric's store. All rows of one call share
	// the same ingested_at. An empty batch is a no-op.
	Append(metric gateway.Metric, records []gateway.RawRecord) error
	// Rows returns every stored row of metric in merge order.
	Rows(metric gateway.Metric) ([]Row, error)
	Count(metric gateway.Metric) (int, error)
	Close() error
}
