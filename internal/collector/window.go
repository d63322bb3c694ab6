package collector

import (
	"fmt"
	"strings"
	"time"

	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/isotime"
)

const dateOnly = "2006-01-02"

// NewWindow builds an explicit window from user supplied bounds. Both bounds
// are normalized; a date-only end covers that whole day. Empty start and end
// give the zero (incremental) Window.
func NewWindow(start, end string) (Window, error) {
	errFactory := errors.New()
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)

	if start == "" {
		if end != "" {
			return Window{}, errFactory.WithData(ErrInvalidWindow, "end given without start")
		}
		return Window{}, nil
	}

	from, err := isotime.Parse(start)
	if err != nil {
		return Window{}, errFactory.Wrap(ErrInvalidWindow, fmt.Errorf("start: %w", err))
	}
	w := Window{Start: isotime.Format(from)}

	if end == "" {
		return w, nil
	}

	until, err := isotime.Parse(end)
	if err != nil {
		return Window{}, errFactory.Wrap(ErrInvalidWindow, fmt.Errorf("end: %w", err))
	}
	if _, err := time.Parse(dateOnly, end); err == nil {
		until = until.Add(24*time.Hour - time.Second)
	}
	if until.Before(from) {
		return Window{}, errFactory.WithData(ErrInvalidWindow, fmt.Sprintf("end %s is before start %s", end, start))
	}
	w.End = isotime.Format(until)

	return w, nil
}
