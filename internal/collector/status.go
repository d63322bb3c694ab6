package collector

import (
	"time"

	"codeberg.org/mutker/hcgsync/internal/gateway"
)

// MetricStatus summarizes what is persisted for one metric.
type MetricStatus struct {
	Metric     gateway.Metric
	Rows       int
	LastSince  string
	LastUpdate time.Time
	// Collected is false until the metric's cursor has been saved once.
	Collected bool
}

// Status reads the persisted stores of every metric without contacting the
// gateway.
func Status(metrics []gateway.Metric, states StateReader, records RecordCounter) ([]MetricStatus, error) {
	out := make([]MetricStatus, 0, len(metrics))
	for _, metric := range metrics {
		rows, err := records.Count(metric)
		if err != nil {
			return nil, err
		}

		st := MetricStatus{Metric: metric, Rows: rows}
		if updated, ok := states.LastUpdate(metric); ok {
			cur, err := states.Load(metric)
			if err != nil {
				return nil, err
			}
			st.LastSince = cur.LastSince
			st.LastUpdate = updated
			st.Collected = true
		}

		out = append(out, st)
	}

	return out, nil
}
