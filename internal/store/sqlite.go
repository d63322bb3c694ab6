package store

import (
	"database/sql"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/gateway"
	"codeberg.org/mutker/hcgsync/internal/logger"
)

// sqliteStore keeps every metric in one records table keyed by
// (method, record_id) and merges through upserts.
type sqliteStore struct {
	db    *sql.DB
	path  string
	now   func() time.Time
	log   logger.Logger
	locks metricLocks
}

func newSQLiteStore(cfg Config, o options) (*sqliteStore, error) {
	errFactory := errors.New()
	path := cfg.DBPath()

	if err := os.MkdirAll(cfg.Dir, defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.Dir,
			Error: err.Error(),
		})
	}

	dsn := path + "?_journal=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// A single connection keeps writers from racing for the WAL lock.
	db.SetMaxOpenConns(1)

	backupDir := ""
	if cfg.BackupOnMigrate {
		backupDir = cfg.backupDir()
	}
	if err := ValidateAndUpdateSchema(db, backupDir, o.log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	o.log.Info().
		Str("path", path).
		Int("schema_version", SchemaVersion).
		Msg("Record store initialized")

	return &sqliteStore{db: db, path: path, now: o.now, log: o.log}, nil
}

func (s *sqliteStore) Append(metric gateway.Metric, records []gateway.RawRecord) error {
	if len(records) == 0 {
		return nil
	}

	unlock := s.locks.lock(metric)
	defer unlock()

	errFactory := errors.New()

	rows, err := toRows(records, stamp(s.now))
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrStoreWrite, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.log.Error().Err(err).Msg("Failed to roll back transaction")
			}
		}
	}()

	var seq int64
	if err := tx.QueryRow(nextSeqSQL, string(metric)).Scan(&seq); err != nil {
		return errFactory.Wrap(ErrStoreWrite, err)
	}

	stmt, err := tx.Prepare(upsertRecordSQL)
	if err != nil {
		return errFactory.Wrap(ErrStoreWrite, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		seq++
		var external any
		if row.ExternalID != nil {
			external = *row.ExternalID
		}

		if _, err := stmt.Exec(
			string(metric), row.RecordID, external,
			row.Start, row.End, row.SourceApp,
			row.Payload, row.IngestedAt, seq,
		); err != nil {
			s.log.Error().Err(err).Str("record_id", row.RecordID).Msg("Failed to execute upsert")
			return errFactory.Wrap(ErrStoreWrite, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrStoreWrite, err)
	}
	committed = true

	s.log.Debug().
		Str("method", string(metric)).
		Int("incoming", len(rows)).
		Msg("Upserted records")

	return nil
}

func (s *sqliteStore) Rows(metric gateway.Metric) ([]Row, error) {
	errFactory := errors.New()

	result, err := s.db.Query(selectRowsSQL, string(metric))
	if err != nil {
		return nil, errFactory.Wrap(ErrStoreRead, err)
	}
	defer result.Close()

	rows := []Row{}
	for result.Next() {
		var (
			row      Row
			external sql.NullString
		)
		if err := result.Scan(&row.RecordID, &external, &row.Start, &row.End,
			&row.SourceApp, &row.Payload, &row.IngestedAt); err != nil {
			return nil, errFactory.Wrap(ErrStoreRead, err)
		}
		if external.Valid {
			row.ExternalID = &external.String
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStoreRead, err)
	}

	return rows, nil
}

func (s *sqliteStore) Count(metric gateway.Metric) (int, error) {
	var n int
	if err := s.db.QueryRow(countRowsSQL, string(metric)).Scan(&n); err != nil {
		return 0, errors.New().Wrap(ErrStoreRead, err)
	}
	return n, nil
}

func (s *sqliteStore) Close() error {
	// Checkpoint WAL and cleanup on close
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := s.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	s.log.Info().Str("path", s.path).Msg("Record store closed")

	return nil
}
