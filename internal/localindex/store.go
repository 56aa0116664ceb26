// Package localindex implements engine.LocalIndex over a relational
// database reached through sqlx: SQLite for a single-machine install,
// or Postgres when DB_ENGINE selects it. Both dialects share the same
// two-table schema and query set; only the driver, DSN, and migration
// source differ between NewSQLite and NewPostgres.
package localindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"coldbackup/internal/engine"
	"coldbackup/internal/model"
)

// Store is the shared engine.LocalIndex implementation for both
// supported dialects.
type Store struct {
	db *sqlx.DB
}

var _ engine.LocalIndex = (*Store)(nil)

func (s *Store) Upsert(ctx context.Context, path string, modifiedAt time.Time, hash string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO local_state (file_path, modified) VALUES (:file_path, :modified)
		ON CONFLICT(file_path) DO UPDATE SET modified = excluded.modified
	`, map[string]any{"file_path": path, "modified": modifiedAt.UTC()}); err != nil {
		return fmt.Errorf("upserting local_state: %w", err)
	}

	if hash != "" {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO glacier_state (file_path, file_hash, modified) VALUES (:file_path, :file_hash, :modified)
			ON CONFLICT(file_path) DO UPDATE SET file_hash = excluded.file_hash, modified = excluded.modified
		`, map[string]any{"file_path": path, "file_hash": hash, "modified": modifiedAt.UTC()}); err != nil {
			return fmt.Errorf("upserting glacier_state: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM glacier_state WHERE file_path = ?`), path); err != nil {
			return fmt.Errorf("clearing stale glacier_state: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, path string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM local_state WHERE file_path = ?`), path); err != nil {
		return fmt.Errorf("deleting local_state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM glacier_state WHERE file_path = ?`), path); err != nil {
		return fmt.Errorf("deleting glacier_state: %w", err)
	}
	return tx.Commit()
}

type localStateRow struct {
	FilePath string    `db:"file_path"`
	Modified time.Time `db:"modified"`
}

// Diff computes the three-way split between what the walker just saw on
// disk (live) and what local_state remembers, at second-precision mtime
// equality as the spec requires.
func (s *Store) Diff(ctx context.Context, live map[string]time.Time) (model.ChangeSet, error) {
	var rows []localStateRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT file_path, modified FROM local_state`); err != nil {
		return model.ChangeSet{}, fmt.Errorf("reading local_state: %w", err)
	}

	stored := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		stored[r.FilePath] = r.Modified
	}

	var changes model.ChangeSet
	for path, mtime := range live {
		prior, tracked := stored[path]
		if !tracked {
			changes.New = append(changes.New, path)
			continue
		}
		if !mtime.Truncate(time.Second).Equal(prior.Truncate(time.Second)) {
			changes.Changed = append(changes.Changed, path)
		}
	}
	for path := range stored {
		if _, present := live[path]; !present {
			changes.Missing = append(changes.Missing, path)
		}
	}
	return changes, nil
}

type allPathsRow struct {
	FilePath string         `db:"file_path"`
	Modified time.Time      `db:"modified"`
	FileHash sql.NullString `db:"file_hash"`
}

func (s *Store) AllPaths(ctx context.Context) ([]model.LocalStateRecord, error) {
	var rows []allPathsRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT l.file_path AS file_path, l.modified AS modified, g.file_hash AS file_hash
		FROM local_state l
		LEFT JOIN glacier_state g ON g.file_path = l.file_path
	`)
	if err != nil {
		return nil, fmt.Errorf("reading local_state: %w", err)
	}

	out := make([]model.LocalStateRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.LocalStateRecord{
			Path:       r.FilePath,
			ModifiedAt: r.Modified,
			FileHash:   r.FileHash.String,
		})
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, path string) (model.LocalStateRecord, bool, error) {
	var row allPathsRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT l.file_path AS file_path, l.modified AS modified, g.file_hash AS file_hash
		FROM local_state l
		LEFT JOIN glacier_state g ON g.file_path = l.file_path
		WHERE l.file_path = ?
	`), path)
	if err == sql.ErrNoRows {
		return model.LocalStateRecord{}, false, nil
	}
	if err != nil {
		return model.LocalStateRecord{}, false, fmt.Errorf("reading local_state: %w", err)
	}
	return model.LocalStateRecord{
		Path:       row.FilePath,
		ModifiedAt: row.Modified,
		FileHash:   row.FileHash.String,
	}, true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
