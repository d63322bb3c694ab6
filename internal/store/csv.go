package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/gateway"
	"codeberg.org/mutker/hcgsync/internal/logger"
)

// csvStore keeps one <dir>/<metric>.csv per metric and rewrites it in full
// on every append. An empty external_id cell reads back as nil.
type csvStore struct {
	dir   string
	now   func() time.Time
	log   logger.Logger
	locks metricLocks
}

func newCSVStore(cfg Config, o options) (*csvStore, error) {
	if err := os.MkdirAll(cfg.Dir, defaultDirPerm); err != nil {
		return nil, errors.New().WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.Dir,
			Error: err.Error(),
		})
	}

	o.log.Debug().Str("dir", cfg.Dir).Msg("CSV record store initialized")

	return &csvStore{dir: cfg.Dir, now: o.now, log: o.log}, nil
}

func (s *csvStore) Append(metric gateway.Metric, records []gateway.RawRecord) error {
	if len(records) == 0 {
		return nil
	}

	unlock := s.locks.lock(metric)
	defer unlock()

	incoming, err := toRows(records, stamp(s.now))
	if err != nil {
		return err
	}

	existing, err := s.read(metric)
	if err != nil {
		return err
	}

	merged := merge(existing, incoming)
	if err := s.write(metric, merged); err != nil {
		return err
	}

	s.log.Debug().
		Str("method", string(metric)).
		Int("incoming", len(incoming)).
		Int("total", len(merged)).
		Msg("Merged records")

	return nil
}

func (s *csvStore) Rows(metric gateway.Metric) ([]Row, error) {
	return s.read(metric)
}

func (s *csvStore) Count(metric gateway.Metric) (int, error) {
	rows, err := s.read(metric)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (*csvStore) Close() error {
	return nil
}

func (s *csvStore) path(metric gateway.Metric) string {
	return filepath.Join(s.dir, string(metric)+".csv")
}

func (s *csvStore) read(metric gateway.Metric) ([]Row, error) {
	errFactory := errors.New()
	path := s.path(metric)

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Row{}, nil
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStoreRead, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Columns)

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []Row{}, nil
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStoreRead, fmt.Errorf("%s: %w", path, err))
	}
	if !slices.Equal(header, Columns) {
		return nil, errFactory.WithData(ErrStoreRead, fmt.Sprintf("%s: unexpected header %v", path, header))
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errFactory.Wrap(ErrStoreRead, fmt.Errorf("%s: %w", path, err))
		}
		rows = append(rows, rowFromCSV(rec))
	}
	if rows == nil {
		rows = []Row{}
	}

	return rows, nil
}

func (s *csvStore) write(metric gateway.Metric, rows []Row) error {
	errFactory := errors.New()
	path := s.path(metric)

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errFactory.Wrap(ErrStoreWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(Columns); err != nil {
		tmp.Close()
		return errFactory.Wrap(ErrStoreWrite, err)
	}
	for _, row := range rows {
		if err := w.Write(rowToCSV(row)); err != nil {
			tmp.Close()
			return errFactory.Wrap(ErrStoreWrite, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return errFactory.Wrap(ErrStoreWrite, err)
	}

	if err := tmp.Close(); err != nil {
		return errFactory.Wrap(ErrStoreWrite, err)
	}
	if err := os.Chmod(tmpName, defaultFilePerm); err != nil {
		return errFactory.Wrap(ErrStoreWrite, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errFactory.Wrap(ErrStoreWrite, err)
	}

	return nil
}

func rowToCSV(row Row) []string {
	external := ""
	if row.ExternalID != nil {
		external = *row.ExternalID
	}
	return []string{row.RecordID, external, row.Start, row.End, row.SourceApp, row.Payload, row.IngestedAt}
}

func rowFromCSV(rec []string) Row {
	row := Row{
		RecordID:   rec[0],
		Start:      rec[2],
		End:        rec[3],
		SourceApp:  rec[4],
		Payload:    rec[5],
		IngestedAt: rec[6],
	}
	if rec[1] != "" {
		external := rec[1]
		row.ExternalID = &external
	}
	return row
}
