package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/logger"
	"codeberg.org/mutker/pilewatch/internal/pile"
)

type repository struct {
	db      *sql.DB
	dialect dialect
	logger  logger.Logger
	loc     *time.Location
}

// Open connects to the configured database, brings its schema to the
// current version and returns a ready Store.
func Open(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if d.name == sqliteDialect.name {
		if err := ensureDir(dsn); err != nil {
			return nil, errFactory.WithData(ErrStorageInit, struct {
				Phase string
				Path  string
				Error string
			}{
				Phase: "create_directory",
				Path:  dsn,
				Error: err.Error(),
			})
		}
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if d.name == sqliteDialect.name {
		// One writer at a time; also keeps ":memory:" databases on one connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "ping",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(ctx, db, d, cfg.BackupDir, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("driver", d.name).
		Int("schema_version", SchemaVersion).
		Msg("Pile repository initialized")

	return &repository{
		db:      db,
		dialect: d,
		logger:  log,
		loc:     cfg.location(),
	}, nil
}

func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), defaultDirPerm)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *repository) scanPile(row rowScanner) (pile.Pile, error) {
	var (
		p       pile.Pile
		created int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Longitude, &p.Latitude, &p.PipelineID, &p.Description, &created); err != nil {
		return pile.Pile{}, err
	}
	p.CreatedAt = time.Unix(created, 0).In(r.loc)
	return p, nil
}

func (r *repository) scanReading(row rowScanner) (pile.Reading, error) {
	var (
		rd pile.Reading
		ts int64
	)
	if err := row.Scan(&rd.ID, &rd.PileID, &rd.Voltage, &ts); err != nil {
		return pile.Reading{}, err
	}
	rd.Timestamp = time.Unix(ts, 0).In(r.loc)
	return rd, nil
}

func (r *repository) ListPiles(ctx context.Context) ([]pile.Pile, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, listPilesSQL)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	piles := make([]pile.Pile, 0)
	for rows.Next() {
		p, err := r.scanPile(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		piles = append(piles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return piles, nil
}

func (r *repository) PileByID(ctx context.Context, id int64) (pile.Pile, error) {
	errFactory := errors.New()

	p, err := r.scanPile(r.db.QueryRowContext(ctx, r.dialect.rebind(pileByIDSQL), id))
	if errors.Is(err, sql.ErrNoRows) {
		return pile.Pile{}, errFactory.WithData(ErrPileNotFound, id)
	}
	if err != nil {
		return pile.Pile{}, errFactory.Wrap(ErrStorageAccess, err)
	}
	return p, nil
}

func (r *repository) PileByName(ctx context.Context, name string) (pile.Pile, bool, error) {
	p, err := r.scanPile(r.db.QueryRowContext(ctx, r.dialect.rebind(pileByNameSQL), name))
	if errors.Is(err, sql.ErrNoRows) {
		return pile.Pile{}, false, nil
	}
	if err != nil {
		return pile.Pile{}, false, errors.New().Wrap(ErrStorageAccess, err)
	}
	return p, true, nil
}

func (r *repository) EnsurePile(ctx context.Context, p pile.Pile) (int64, bool, error) {
	errFactory := errors.New()

	if strings.TrimSpace(p.Name) == "" {
		return 0, false, errFactory.WithMessage(errors.ErrInvalidArgument, "pile name is required")
	}

	existing, found, err := r.PileByName(ctx, p.Name)
	if err != nil {
		return 0, false, err
	}
	if found {
		r.logger.Debug().Str("name", p.Name).Int64("id", existing.ID).Msg("Test pile already exists")
		return existing.ID, false, nil
	}

	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	var id int64
	err = r.db.QueryRowContext(ctx, r.dialect.rebind(insertPileSQL),
		p.Name, p.Longitude, p.Latitude, p.PipelineID, p.Description, created.Unix(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost a race with a concurrent insert of the same name.
		existing, found, err = r.PileByName(ctx, p.Name)
		if err != nil {
			return 0, false, err
		}
		if !found {
			return 0, false, errFactory.WithData(ErrStorageAccess, "pile vanished after conflict: "+p.Name)
		}
		return existing.ID, false, nil
	}
	if err != nil {
		return 0, false, errFactory.Wrap(ErrStorageAccess, err)
	}

	r.logger.Info().Str("name", p.Name).Int64("id", id).Msg("Test pile inserted")

	return id, true, nil
}

func validReading(rd pile.Reading) error {
	if rd.PileID <= 0 {
		return errors.New().WithData(ErrInvalidReading, "pile id must be positive")
	}
	if rd.Timestamp.IsZero() {
		return errors.New().WithData(ErrInvalidReading, "timestamp is required")
	}
	return nil
}

func (r *repository) InsertReading(ctx context.Context, rd pile.Reading) (int64, error) {
	if err := validReading(rd); err != nil {
		return 0, err
	}

	var id int64
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(insertReadingSQL),
		rd.PileID, rd.Voltage, rd.Timestamp.Unix(),
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, errors.New().WithData(ErrPileNotFound, rd.PileID)
		}
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	r.logger.Debug().
		Int64("pile_id", rd.PileID).
		Float64("voltage", rd.Voltage).
		Time("timestamp", rd.Timestamp).
		Int64("id", id).
		Msg("Voltage reading inserted")

	return id, nil
}

func (r *repository) InsertReadings(ctx context.Context, readings []pile.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	errFactory := errors.New()

	for _, rd := range readings {
		if err := validReading(rd); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, r.dialect.rebind(insertReadingSQL))
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, rd := range readings {
		var id int64
		if err := stmt.QueryRowContext(ctx, rd.PileID, rd.Voltage, rd.Timestamp.Unix()).Scan(&id); err != nil {
			r.logger.Error().Err(err).Int64("pile_id", rd.PileID).Msg("Failed to execute insert")
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	r.logger.Debug().Int("records", len(readings)).Msg("Flushed readings to database")

	return nil
}

func (r *repository) Readings(ctx context.Context, pileID int64, rng pile.Range, limit int) ([]pile.Reading, error) {
	errFactory := errors.New()

	var (
		q    strings.Builder
		args = []any{pileID}
	)
	q.WriteString(`SELECT id, pile_id, voltage, reading_ts FROM voltage_readings WHERE pile_id = ?`)
	if !rng.Start.IsZero() {
		q.WriteString(` AND reading_ts >= ?`)
		args = append(args, rng.Start.Unix())
	}
	if !rng.End.IsZero() {
		q.WriteString(` AND reading_ts <= ?`)
		args = append(args, rng.End.Unix())
	}
	q.WriteString(` ORDER BY reading_ts DESC, id DESC`)
	if limit > 0 {
		q.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(q.String()), args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	readings := make([]pile.Reading, 0)
	for rows.Next() {
		rd, err := r.scanReading(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return readings, nil
}

func (r *repository) LatestReadings(ctx context.Context) (map[int64]pile.Reading, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, latestReadingsSQL)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	latest := make(map[int64]pile.Reading)
	for rows.Next() {
		rd, err := r.scanReading(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		// Rows are ordered by id, so on a timestamp tie the last insert wins.
		latest[rd.PileID] = rd
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return latest, nil
}

func (r *repository) ClearReadings(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, clearReadingsSQL)
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	r.logger.Info().Int64("rows", n).Msg("Cleared voltage readings")

	return n, nil
}

func (r *repository) Close() error {
	errFactory := errors.New()

	if r.dialect.name == sqliteDialect.name {
		// Checkpoint WAL and cleanup on close
		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			r.logger.Debug().Err(err).Msg("WAL checkpoint failed")
		}
	}

	if err := r.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Pile repository closed gracefully")

	return nil
}
