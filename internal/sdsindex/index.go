// Package sdsindex is the durable catalog of the archive: which
// (network, station, location, channel, time-range) intervals exist on disk,
// and the precomputed event/station arrival geometry. It owns the SQLite
// file exclusively; the SDS tree itself is written by the fetch pipeline.
package sdsindex

import (
	"context"
	"database/sql"
	"embed"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/seismica/seedvault/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var (
	// Error is a schema or I/O failure on the index. Fatal.
	Error = errs.Class("index")
	// ErrBusy is a transient database lock. Retried with backoff and
	// promoted to Error once the retry budget is spent.
	ErrBusy = errs.Class("index busy")
)

const (
	// connTimeout bounds how long one operation may spend retrying a
	// locked database before the error surfaces.
	connTimeout = 20 * time.Second

	initialRetryInterval = 50 * time.Millisecond
)

// Index provides concurrent-safe access to the archive catalog.
type Index struct {
	db  *sql.DB
	log *zap.Logger

	// clock stamps importtime columns; tests swap in a MockClock.
	clock timeutil.Clock
}

// Open opens (creating if needed) the index database at path and brings the
// schema up to date.
func Open(path string, log *zap.Logger) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	// One writer at a time: SQLite serializes writes anyway, and funnelling
	// all statements through a single pooled connection avoids SQLITE_BUSY
	// between our own workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, Error.Wrap(err)
	}

	ix := &Index{db: db, log: log, clock: timeutil.RealClock{}}
	if err := ix.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

// Close releases the underlying pool.
func (ix *Index) Close() error {
	return Error.Wrap(ix.db.Close())
}

// DB exposes the raw handle for the admin SQL surface and migration CLI.
func (ix *Index) DB() *sql.DB { return ix.db }

func (ix *Index) migrateUp() error {
	m, err := ix.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return Error.New("migration up failed: %v", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (ix *Index) MigrateDown() error {
	m, err := ix.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && err != migrate.ErrNoChange {
		return Error.New("migration down failed: %v", err)
	}
	return nil
}

// MigrateVersion reports the current schema version and dirty flag.
func (ix *Index) MigrateVersion() (uint, bool, error) {
	m, err := ix.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}
	return version, dirty, Error.Wrap(err)
}

// MigrateForce pins the schema version without running migrations. Recovery
// tool for a dirty state.
func (ix *Index) MigrateForce(version int) error {
	m, err := ix.newMigrate()
	if err != nil {
		return err
	}
	return Error.Wrap(m.Force(version))
}

func (ix *Index) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	driver, err := migratesqlite.WithInstance(ix.db, &migratesqlite.Config{})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return m, nil
}

// isBusy reports whether err is a transient SQLite lock.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// withRetry runs op, retrying lock errors under capped exponential backoff
// with jitter. Any other error, or exhaustion of the retry budget, is
// surfaced to the caller.
func (ix *Index) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryInterval
	bo.MaxElapsedTime = connTimeout

	err := backoff.Retry(func() error {
		if err := op(ctx); err != nil {
			if isBusy(err) {
				ix.log.Debug("index busy, retrying", zap.Error(err))
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))

	if err == nil {
		return nil
	}
	if isBusy(err) {
		return ErrBusy.Wrap(err)
	}
	return Error.Wrap(err)
}
