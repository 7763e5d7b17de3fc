package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/noah-isme/recordkeeper/pkg/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies pending schema migrations on a dedicated connection that is
// released before returning, so the application pool is never pinned by the
// migration driver.
func Migrate(cfg config.DatabaseConfig) (err error) {
	db, err := Open(cfg)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	driver := cfg.Driver

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("load migrations: %w", err)
	}

	var target migratedb.Driver
	switch driver {
	case config.DriverSQLite:
		target, err = sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	case config.DriverPostgres, config.DriverPGX:
		target, err = postgres.WithInstance(db.DB, &postgres.Config{})
	default:
		_ = db.Close()
		return fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		_ = target.Close()
		return fmt.Errorf("init migrations: %w", err)
	}
	defer func() {
		if _, dbErr := m.Close(); err == nil && dbErr != nil {
			err = fmt.Errorf("close migration connection: %w", dbErr)
		}
	}()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
