// Package migrations applies the embedded SQL schema to the SQLite database.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/slok/webq/internal/log"
)

//go:embed sql/*.sql
var schemaFiles embed.FS

// Up applies all pending schema migrations. Already-applied migrations are
// skipped, so it is safe to call on every startup.
func Up(db *sql.DB, logger log.Logger) error {
	return apply(db, logger, func(inst *migrate.Migrate) error { return inst.Up() })
}

// Down reverts all applied schema migrations.
func Down(db *sql.DB, logger log.Logger) error {
	return apply(db, logger, func(inst *migrate.Migrate) error { return inst.Down() })
}

func apply(db *sql.DB, logger log.Logger, step func(*migrate.Migrate) error) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = log.Noop
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(schemaFiles, "sql")
	if err != nil {
		return fmt.Errorf("could not load embedded schema: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Errorf("Could not close schema source: %s", err)
		}
	}()

	inst, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}

	if err := step(inst); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not apply migrations: %w", err)
	}

	logger.Debugf("Schema migrations up to date")
	return nil
}
