package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/postgres/*.sql files/sqlite3/*.sql
var migrationFiles embed.FS

// MigrateUp applies all pending migrations for driver.
// The caller owns db; it is not closed here.
func MigrateUp(db *sql.DB, driver string) error {
	m, release, err := newMigrate(db, driver)
	if err != nil {
		return err
	}
	defer release()
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// MigrateDown reverts every migration.
func MigrateDown(db *sql.DB, driver string) error {
	m, release, err := newMigrate(db, driver)
	if err != nil {
		return err
	}
	defer release()
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrationStatus returns the applied and the latest available versions.
func MigrationStatus(db *sql.DB, driver string) (current, latest uint, dirty bool, err error) {
	m, release, err := newMigrate(db, driver)
	if err != nil {
		return 0, 0, false, err
	}
	defer release()
	current, dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, 0, false, fmt.Errorf("failed to get database version: %w", err)
	}

	src, err := iofs.New(migrationFiles, "files/"+driver)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to read migration files: %w", err)
	}
	defer src.Close()
	latest, err = latestVersion(src)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to determine latest version: %w", err)
	}
	return current, latest, dirty, nil
}

// newMigrate builds a migrator over db. release frees what the migrator
// holds (the source, and the dedicated postgres connection) but never closes
// db itself: both database drivers close the *sql.DB they were built with.
func newMigrate(db *sql.DB, driver string) (*migrate.Migrate, func(), error) {
	src, err := iofs.New(migrationFiles, "files/"+driver)
	if err != nil {
		return nil, nil, fmt.Errorf("no migrations for driver %q: %w", driver, err)
	}

	var (
		dbDriver database.Driver
		release  = func() { src.Close() }
	)
	switch driver {
	case DriverPostgres:
		ctx := context.Background()
		conn, cerr := db.Conn(ctx)
		if cerr != nil {
			err = cerr
			break
		}
		var pg *postgres.Postgres
		pg, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
		if err != nil {
			conn.Close()
			break
		}
		dbDriver = pg
		// built from a conn, so Close releases only that conn
		release = func() {
			src.Close()
			pg.Close()
		}
	case DriverSQLite:
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDriver)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, release, nil
}

func latestVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
