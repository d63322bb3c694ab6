// Package isotime normalizes the ISO-8601 timestamps exchanged with the
// Health Connect Gateway. Values without a zone are taken to be UTC.
package isotime

import (
	"fmt"
	"strings"
	"time"
)

const (
	layoutSeconds = "2006-01-02T15:04:05-07:00"
	layoutMicros  = "2006-01-02T15:04:05.000000-07:00"
)

// Epoch is the sentinel used when a record carries no usable timestamp.
var Epoch = time.Unix(0, 0).UTC()

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Parse reads s as an instant and returns it in UTC.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Format renders t in the canonical form, e.g. 2025-01-02T00:05:00+00:00.
// Sub-second precision is kept to microseconds and omitted when zero.
func Format(t time.Time) string {
	t = t.UTC().Truncate(time.Microsecond)
	if t.Nanosecond() == 0 {
		return t.Format(layoutSeconds)
	}

	return t.Format(layoutMicros)
}

// Normalize parses s and re-formats it canonically.
func Normalize(s string) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}

	return Format(t), nil
}

// HoursAgo returns the canonical form of now minus h hours at second precision.
func HoursAgo(now time.Time, h int) string {
	return Format(now.UTC().Add(-time.Duration(h) * time.Hour).Truncate(time.Second))
}
