// Package migrations embeds the SQL schema migrations and applies them
// with golang-migrate against either supported driver.
package migrations

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"embed"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// Up applies all pending migrations. driver is the database/sql driver
// name the connection was opened with ("sqlite3" or "postgres").
func Up(db *sql.DB, driver string) error {
	m, err := newMigrate(db, driver)
	if err != nil {
		return err
	}
	// The migrate instance shares the caller's connection; closing it here
	// would close the db out from under the caller.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB, driver string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var dbDriver database.Driver
	switch driver {
	case "sqlite3":
		dbDriver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case "postgres":
		dbDriver, err = migratepg.WithInstance(db, &migratepg.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s migration driver: %w", driver, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}
