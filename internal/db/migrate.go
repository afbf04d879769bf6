package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies all pending up-migrations for the driver. It opens and
// closes its own connection so the caller's pool is left untouched.
// Returns the schema version after migrating.
func Migrate(driver, dsn string) (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return 0, fmt.Errorf("migrations source for %s: %w", driver, err)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		_ = src.Close()
		return 0, fmt.Errorf("open %s: %w", driver, err)
	}

	var target database.Driver
	switch driver {
	case "mysql":
		target, err = migratemysql.WithInstance(conn, &migratemysql.Config{})
	case "sqlite3":
		target, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		_ = src.Close()
		_ = conn.Close()
		return 0, fmt.Errorf("migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		_ = src.Close()
		_ = target.Close()
		return 0, fmt.Errorf("migrate init: %w", err)
	}
	// closes both the source and the dedicated connection
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("migrate version: %w", err)
	}
	return version, nil
}
