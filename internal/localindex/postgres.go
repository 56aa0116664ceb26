package localindex

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"

	"coldbackup/internal/localindex/migrations"
)

// NewPostgres opens a Postgres-backed LocalIndex using the given
// connection string and applies pending migrations. It registers the
// pgx stdlib driver so the same database/sql machinery golang-migrate
// expects works unchanged.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := migrations.MigrateUp(db.DB, "postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating postgres database: %w", err)
	}

	return &Store{db: db}, nil
}
