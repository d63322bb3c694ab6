// Package state persists the per-metric collection cursor as small JSON
// documents, one file per metric.
package state

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/gateway"
	"codeberg.org/mutker/hcgsync/internal/isotime"
	"codeberg.org/mutker/hcgsync/internal/logger"
)

// State is the persisted cursor of one metric. Only LastSince drives
// collection; the other fields are bookkeeping.
type State struct {
	LastSince string `json:"last_since"`
	UpdatedAt string `json:"updated_at,omitempty"`
	LastRunID string `json:"last_run_id,omitempty"`
	LastCount int    `json:"last_count,omitempty"`
}

// Store reads and writes <dir>/<metric>.json.
type Store struct {
	cfg Config
	now func() time.Time
	log logger.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

func New(cfg Config, opts ...Option) (*Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStateWrite, err)
	}

	s := &Store{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.New("state")
	}

	return s, nil
}

// Dir returns the directory holding the state documents.
func (s *Store) Dir() string {
	return s.cfg.Dir
}

// Load returns the state of metric. A missing document yields the default
// lookback cursor; a corrupt document or cursor is reset to it with a
// warning.
func (s *Store) Load(metric gateway.Metric) (State, error) {
	errFactory := errors.New()

	raw, err := os.ReadFile(s.path(metric))
	if errors.Is(err, fs.ErrNotExist) {
		return s.defaultState(), nil
	}
	if err != nil {
		return State{}, errFactory.Wrap(ErrStateRead, fmt.Errorf("%s: %w", metric, err))
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		s.malformed(metric, err).Msg("State document unreadable, resetting cursor")
		return s.defaultState(), nil
	}

	since, err := isotime.Normalize(st.LastSince)
	if err != nil {
		s.malformed(metric, err).
			Str("last_since", st.LastSince).
			Msg("Cursor unparsable, resetting to default lookback")
		st.LastSince = s.defaultState().LastSince
		return st, nil
	}
	st.LastSince = since

	return st, nil
}

// Save persists st for metric, replacing the previous document atomically.
// A LastSince that cannot be normalized is written as given.
func (s *Store) Save(metric gateway.Metric, st State) error {
	errFactory := errors.New()

	if since, err := isotime.Normalize(st.LastSince); err != nil {
		s.log.Warn().
			Err(err).
			Str("method", string(metric)).
			Str("last_since", st.LastSince).
			Msg("Persisting cursor that could not be normalized")
	} else {
		st.LastSince = since
	}
	st.UpdatedAt = isotime.Format(s.now())

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errFactory.Wrap(ErrStateWrite, err)
	}

	if err := writeFileAtomic(s.path(metric), data); err != nil {
		return errFactory.Wrap(ErrStateWrite, fmt.Errorf("%s: %w", metric, err))
	}

	s.log.Debug().
		Str("method", string(metric)).
		Str("last_since", st.LastSince).
		Msg("State saved")

	return nil
}

// LastUpdate reports when metric's state was last written. ok is false when
// the metric has never been collected.
func (s *Store) LastUpdate(metric gateway.Metric) (time.Time, bool) {
	path := s.path(metric)

	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}

	var st State
	if raw, err := os.ReadFile(path); err == nil && json.Unmarshal(raw, &st) == nil {
		if t, err := isotime.Parse(st.UpdatedAt); err == nil {
			return t, true
		}
	}

	return info.ModTime().UTC(), true
}

func (s *Store) path(metric gateway.Metric) string {
	return filepath.Join(s.cfg.Dir, string(metric)+".json")
}

func (s *Store) defaultState() State {
	return State{LastSince: isotime.HoursAgo(s.now(), s.cfg.LookbackHours)}
}

func (s *Store) malformed(metric gateway.Metric, err error) *logger.LogEvent {
	return &logger.LogEvent{Event: s.log.Warn().
		Err(err).
		Str("method", string(metric)).
		Str("error_code", string(ErrMalformedState))}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, defaultFilePerm); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}
