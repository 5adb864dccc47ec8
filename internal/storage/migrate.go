package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	mpostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// migrateUp applies all pending migrations for the dialect.
//
// For sqlite the migrate instance shares db and is left open, since closing
// its driver would close db. Postgres migrates over its own pool opened from
// dsn, which is closed afterwards.
func migrateUp(db *sql.DB, d dialect, dsn string) error {
	var (
		m   *migrate.Migrate
		err error
	)
	switch d {
	case dialectSQLite:
		src, serr := iofs.New(migrationsFS, "migrations/sqlite")
		if serr != nil {
			return fmt.Errorf("migrations source: %w", serr)
		}
		drv, derr := msqlite.WithInstance(db, &msqlite.Config{})
		if derr != nil {
			return fmt.Errorf("migrations driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
	case dialectPostgres:
		src, serr := iofs.New(migrationsFS, "migrations/postgres")
		if serr != nil {
			return fmt.Errorf("migrations source: %w", serr)
		}
		mdb, oerr := sql.Open("postgres", dsn)
		if oerr != nil {
			return fmt.Errorf("migrations db: %w", oerr)
		}
		drv, derr := mpostgres.WithInstance(mdb, &mpostgres.Config{})
		if derr != nil {
			_ = mdb.Close()
			return fmt.Errorf("migrations driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", drv)
		if err == nil {
			defer m.Close()
		}
	default:
		return fmt.Errorf("migrate: unknown dialect %d", d)
	}
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
