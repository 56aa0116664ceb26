// Package migrations embeds and applies the local index schema: the
// local_state table (authoritative mirror of tracked paths) and the
// glacier_state advisory secondary index (path -> hash, to accelerate
// the Deleter's usual case) described in the data model.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sqlite/*.sql
var sqliteFiles embed.FS

//go:embed postgres/*.sql
var postgresFiles embed.FS

// MigrateUp brings db, of the given dialect ("sqlite" or "postgres"), to
// the latest schema version. It is a no-op if the database is already
// current.
func MigrateUp(db *sql.DB, dialect string) error {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB, dialect string) (*migrate.Migrate, error) {
	switch dialect {
	case "sqlite":
		src, err := iofs.New(sqliteFiles, "sqlite")
		if err != nil {
			return nil, err
		}
		dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", src, "sqlite3", dbDriver)
	case "postgres":
		src, err := iofs.New(postgresFiles, "postgres")
		if err != nil {
			return nil, err
		}
		dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", src, "postgres", dbDriver)
	default:
		return nil, fmt.Errorf("unknown dialect: %s", dialect)
	}
}
