package engine

import (
	"context"
	"io"
	"time"

	"coldbackup/internal/model"
)

// LocalIndex is the durable local record of every tracked path and the
// mtime it had the last time it was reconciled. It never talks to the
// network; a missing or corrupt LocalIndex blocks a run (FatalError),
// it never silently resets.
type LocalIndex interface {
	// Upsert records that path was reconciled with the given mtime and
	// (optionally empty) advisory hash.
	Upsert(ctx context.Context, path string, modifiedAt time.Time, hash string) error

	// Delete removes a path's record entirely.
	Delete(ctx context.Context, path string) error

	// Diff compares the live set of (path, mtime) pairs discovered by the
	// walker against the stored records and returns the three-way split
	// the reconciliation protocol needs.
	Diff(ctx context.Context, live map[string]time.Time) (model.ChangeSet, error)

	// AllPaths returns every path currently tracked, for restore/rebuild.
	AllPaths(ctx context.Context) ([]model.LocalStateRecord, error)

	// Get returns the stored record for a single path, or (zero, false)
	// if it is not tracked.
	Get(ctx context.Context, path string) (model.LocalStateRecord, bool, error)

	Close() error
}

// RemoteIndex is the remote key-value store mapping content hash to the
// set of live paths pointing at it and the expiration of that record
// once the path set becomes empty.
type RemoteIndex interface {
	// Get returns the record for a hash, or (zero, false) if absent.
	Get(ctx context.Context, hash string) (model.RemoteHashRecord, bool, error)

	// Put writes a record, replacing whatever was there.
	Put(ctx context.Context, rec model.RemoteHashRecord) error

	// Delete removes a record entirely. Deleting an absent record is not
	// an error (NotFound-as-success, per the deleter's self-heal policy).
	Delete(ctx context.Context, hash string) error

	// Scan iterates every record in the index, invoking fn for each. fn
	// returning an error stops the scan and propagates the error.
	Scan(ctx context.Context, fn func(model.RemoteHashRecord) error) error
}

// BlobStore is the content-addressed object store, keyed by hash, with
// version history so a deleted blob can be undeleted while it is still
// within the backing store's retention window.
type BlobStore interface {
	// Put uploads content under hash as its new current version.
	// Uploading the same hash twice is safe; each call stores another
	// version, whether or not a live one already exists.
	Put(ctx context.Context, hash string, r io.Reader, size int64) error

	// Get streams content for hash to w.
	Get(ctx context.Context, hash string, w io.Writer) error

	// Delete tombstones the object for hash. It remains recoverable via
	// Undelete until the backing store's retention window lapses.
	Delete(ctx context.Context, hash string) error

	// Undelete removes the tombstone for hash, making the most recent
	// prior version current again. Returns false if no recoverable
	// tombstoned version exists.
	Undelete(ctx context.Context, hash string) (bool, error)

	// Exists reports whether hash currently has a live (non-tombstoned)
	// version.
	Exists(ctx context.Context, hash string) (bool, error)

	// DeleteAllVersions permanently removes every version of hash,
	// bypassing the tombstone/undelete mechanism. Used only by the
	// operator-triggered bulk destroy path.
	DeleteAllVersions(ctx context.Context, hash string) error
}
