package storage

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/logger"
)

const (
	SchemaVersion = 1

	insertVersionSQL = `INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)`

	selectPileColumns = `id, name, longitude, latitude, pipeline_id, description, created_at`

	listPilesSQL  = `SELECT ` + selectPileColumns + ` FROM test_piles ORDER BY id`
	pileByIDSQL   = `SELECT ` + selectPileColumns + ` FROM test_piles WHERE id = ?`
	pileByNameSQL = `SELECT ` + selectPileColumns + ` FROM test_piles WHERE name = ?`

	insertPileSQL = `
    INSERT INTO test_piles (name, longitude, latitude, pipeline_id, description, created_at)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT (name) DO NOTHING
    RETURNING id`

	insertReadingSQL = `
    INSERT INTO voltage_readings (pile_id, voltage, reading_ts)
    VALUES (?, ?, ?)
    RETURNING id`

	latestReadingsSQL = `
    SELECT r.id, r.pile_id, r.voltage, r.reading_ts
    FROM voltage_readings r
    INNER JOIN (
        SELECT pile_id, MAX(reading_ts) AS max_ts
        FROM voltage_readings
        GROUP BY pile_id
    ) m ON r.pile_id = m.pile_id AND r.reading_ts = m.max_ts
    ORDER BY r.pile_id, r.id`

	clearReadingsSQL = `DELETE FROM voltage_readings`
)

// InitSchema creates a new database schema with the current version
func InitSchema(ctx context.Context, db *sql.DB, d dialect, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Str("dialect", d.name).Msg("Creating database...")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	for _, stmt := range d.createTables {
		log.Debug().Str("sql", stmt).Msg("Executing SQL statement")
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errFactory.WithData(ErrSchemaInitFailed, struct {
				Error string
				SQL   string
			}{
				Error: err.Error(),
				SQL:   stmt,
			})
		}
	}

	if _, err := tx.ExecContext(ctx, d.rebind(insertVersionSQL),
		SchemaVersion, time.Now().UTC().Format(time.RFC3339)); err != nil {
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
		Str("dialect", d.name).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty database
func GetSchemaVersion(ctx context.Context, db *sql.DB, d dialect) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(ctx, db, d, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRowContext(ctx, `
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
func TableExists(ctx context.Context, db *sql.DB, d dialect, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRowContext(ctx, d.rebind(d.tableExistsSQL), tableName).Scan(&exists)
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
