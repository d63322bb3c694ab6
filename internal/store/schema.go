package store

import (
	"database/sql"

	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS records (
	       method       TEXT NOT NULL,
	       record_id    TEXT NOT NULL,
	       external_id  TEXT,
	       start        TEXT NOT NULL DEFAULT '',
	       "end"        TEXT NOT NULL DEFAULT '',
	       source_app   TEXT NOT NULL DEFAULT '',
	       payload      TEXT NOT NULL,
	       ingested_at  TEXT NOT NULL,
	       seq          INTEGER NOT NULL CHECK (typeof(seq) = 'integer'),
	       PRIMARY KEY (method, record_id)
	   );
	   CREATE INDEX IF NOT EXISTS records_method_seq ON records (method, seq);`

	// seq orders rows the way a whole-file merge would: a replaced row moves
	// to the position of its newest occurrence.
	upsertRecordSQL = `
    INSERT INTO records (
        method, record_id, external_id,
        start, "end", source_app,
        payload, ingested_at, seq
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (method, record_id) DO UPDATE SET
        external_id = excluded.external_id,
        start       = excluded.start,
        "end"       = excluded."end",
        source_app  = excluded.source_app,
        payload     = excluded.payload,
        ingested_at = excluded.ingested_at,
        seq         = excluded.seq`

	nextSeqSQL = `SELECT COALESCE(MAX(seq), 0) FROM records WHERE method = ?`

	selectRowsSQL = `
    SELECT record_id, external_id, start, "end", source_app, payload, ingested_at
    FROM records
    WHERE method = ?
    ORDER BY seq`

	countRowsSQL = `SELECT COUNT(*) FROM records WHERE method = ?`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for a new database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
