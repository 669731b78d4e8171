package storage

import (
	"strconv"
	"strings"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgForeignKeyViolation = "23503"

// dialect carries what differs between the supported engines. Queries are
// written with '?' placeholders and rebound for engines that number them.
type dialect struct {
	name           string
	driverName     string
	numbered       bool
	createTables   []string
	tableExistsSQL string
	canBackup      bool
}

var sqliteDialect = dialect{
	name:       "sqlite",
	driverName: "sqlite3",
	createTables: []string{
		`CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			applied_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS test_piles (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL UNIQUE,
			longitude   REAL NOT NULL,
			latitude    REAL NOT NULL,
			pipeline_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS voltage_readings (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			pile_id     INTEGER NOT NULL REFERENCES test_piles(id) ON DELETE CASCADE,
			voltage     REAL NOT NULL,
			reading_ts  INTEGER NOT NULL CHECK (typeof(reading_ts) = 'integer')
		)`,
		`CREATE INDEX IF NOT EXISTS idx_voltage_readings_pile_ts ON voltage_readings(pile_id, reading_ts)`,
	},
	tableExistsSQL: `
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )`,
	canBackup: true,
}

var postgresDialect = dialect{
	name:       "postgres",
	driverName: "pgx",
	numbered:   true,
	createTables: []string{
		`CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			applied_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS test_piles (
			id          BIGSERIAL PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			longitude   DOUBLE PRECISION NOT NULL,
			latitude    DOUBLE PRECISION NOT NULL,
			pipeline_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS voltage_readings (
			id          BIGSERIAL PRIMARY KEY,
			pile_id     BIGINT NOT NULL REFERENCES test_piles(id) ON DELETE CASCADE,
			voltage     DOUBLE PRECISION NOT NULL,
			reading_ts  BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_voltage_readings_pile_ts ON voltage_readings(pile_id, reading_ts)`,
	},
	tableExistsSQL: `
        SELECT EXISTS (
            SELECT 1 FROM information_schema.tables
            WHERE table_schema = current_schema() AND table_name = ?
        )`,
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect, nil
	default:
		return dialect{}, errors.New().WithData(ErrInvalidDriver, driver)
	}
}

// rebind rewrites '?' placeholders as $1, $2, ... when the engine needs it.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqliteDSN adds the pragmas the repository relies on unless the caller
// already chose their own.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_journal=WAL&_fk=1&_busy_timeout=5000"
}

// isForeignKeyViolation reports whether err is either engine's rejection of a
// row that references a missing parent.
func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}
	return false
}
