package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hcgsync"

var (
	fetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "fetch_attempts_total",
		Help:      "Fetch calls against the gateway grouped by method and outcome.",
	}, []string{"method", "outcome"})

	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "token_refreshes_total",
		Help:      "Token refresh calls grouped by trigger.",
	}, []string{"reason"})

	recordsStored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "records_total",
		Help:      "Records handed to the record store per method.",
	}, []string{"method"})

	collectErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "errors_total",
		Help:      "Failed collection cycles per method and error code.",
	}, []string{"method", "code"})

	cursorGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "cursor_timestamp_seconds",
		Help:      "Unix timestamp of the persisted last_since cursor per method.",
	}, []string{"method"})

	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of a full collection cycle across all methods.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(fetchAttempts, tokenRefreshes, recordsStored, collectErrors, cursorGauge, cycleDuration)
}

// Outcomes recorded for fetch attempts.
const (
	OutcomeSuccess      = "success"
	OutcomeUnauthorized = "unauthorized"
	OutcomeError        = "error"
)

// Reasons recorded for token refreshes.
const (
	RefreshExpiring     = "expiring"
	RefreshUnauthorized = "unauthorized"
)

func RecordFetchAttempt(method, outcome string) {
	fetchAttempts.WithLabelValues(method, outcome).Inc()
}

func RecordTokenRefresh(reason string) {
	tokenRefreshes.WithLabelValues(reason).Inc()
}

func RecordStored(method string, n int) {
	if n <= 0 {
		return
	}
	recordsStored.WithLabelValues(method).Add(float64(n))
}

func RecordCollectError(method, code string) {
	collectErrors.WithLabelValues(method, code).Inc()
}

// RecordCursor updates the watermark gauge for method.
func RecordCursor(method string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	cursorGauge.WithLabelValues(method).Set(float64(ts.Unix()))
}

func ObserveCycle(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}
