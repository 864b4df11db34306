package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/GyroZepelix/mithril-engine/migrations"
)

// RunMigrations brings the system tables (admins, files, audit_log,
// schema_meta) up to date using the embedded migration set of db's dialect.
func RunMigrations(db *DB) error {
	m, release, err := db.migrator()
	if err != nil {
		return err
	}
	upErr := m.Up()
	relErr := release()

	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("database: migrate up: %w", upErr)
	}
	return relErr
}

// migrator builds a migrate instance and the function that releases it.
// On SQLite the driver borrows db's handle, so release only closes the
// source and leaves the handle open.
func (db *DB) migrator() (*migrate.Migrate, func() error, error) {
	src, err := iofs.New(migrations.FS, db.dialect.Name())
	if err != nil {
		return nil, nil, fmt.Errorf("database: migration source: %w", err)
	}

	if db.sql == nil {
		m, err := migrate.NewWithSourceInstance("iofs", src, db.url)
		if err != nil {
			return nil, nil, fmt.Errorf("database: migrate %s: %w", db.dialect.Name(), err)
		}
		return m, func() error {
			return closeErrs(m.Close())
		}, nil
	}

	driver, err := sqlite.WithInstance(db.sql, &sqlite.Config{})
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("database: sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("database: migrate sqlite: %w", err)
	}
	return m, src.Close, nil
}

func closeErrs(sourceErr, dbErr error) error {
	return errors.Join(sourceErr, dbErr)
}
