package engine

import (
	"context"
	"errors"

	"coldbackup/internal/model"
)

// Reaper sweeps RemoteHashRecords whose path set emptied out and whose
// retention window has lapsed, permanently deleting the underlying blob
// and the record itself. It never touches a record with a non-empty
// path set or an expiration still in the future, so it can never delete
// content that's still referenced or still inside the object store's
// minimum storage duration.
type Reaper struct {
	remote RemoteIndex
	blobs  BlobStore
	clock  Clock
	log    Logger
}

// NewReaper builds a Reaper.
func NewReaper(remote RemoteIndex, blobs BlobStore, clock Clock, log Logger) *Reaper {
	return &Reaper{remote: remote, blobs: blobs, clock: clock, log: log}
}

// Sweep visits every RemoteIndex record and reaps the ones eligible for
// permanent deletion. It returns the number reaped.
func (r *Reaper) Sweep(ctx context.Context, dryRun bool) (int, error) {
	now := r.clock.Now()
	var due []string

	err := r.remote.Scan(ctx, func(rec model.RemoteHashRecord) error {
		if len(rec.FileNames) != 0 {
			return nil
		}
		if rec.Expiration.IsZero() || rec.Expiration.After(now) {
			return nil
		}
		due = append(due, rec.Hash)
		return nil
	})
	if err != nil {
		return 0, classifyRemoteErr("remoteindex.scan", err)
	}

	reaped := 0
	for _, hash := range due {
		if dryRun {
			r.log.Info("dry-run: would reap", "hash", hash)
			reaped++
			continue
		}
		if err := r.reapOne(ctx, hash); err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

func (r *Reaper) reapOne(ctx context.Context, hash string) error {
	if err := withRetry(ctx, func() error {
		if err := r.blobs.DeleteAllVersions(ctx, hash); err != nil {
			return classifyRemoteErr("blobstore.deleteallversions", err)
		}
		return nil
	}); err != nil {
		return err
	}

	// Re-read before deleting the index record: a concurrent upsert
	// might have re-attached a path to this hash between the scan and
	// now, in which case deleting the record here would be wrong.
	rec, found, err := r.remote.Get(ctx, hash)
	if err != nil {
		return classifyRemoteErr("remoteindex.get", err)
	}
	if !found {
		return nil
	}
	if len(rec.FileNames) != 0 {
		r.log.Warn("hash re-attached during reap, leaving record", "hash", hash)
		return nil
	}

	if err := withRetry(ctx, func() error {
		if err := r.remote.Delete(ctx, hash); err != nil {
			if errors.Is(err, errNotFound) {
				return nil
			}
			return classifyRemoteErr("remoteindex.delete", err)
		}
		return nil
	}); err != nil {
		return err
	}

	r.log.Info("reaped", "hash", hash)
	return nil
}

// errNotFound is treated as success by the Reaper's record delete. It is
// unexported, so drivers outside this package do not return it; the
// RemoteIndex contract already makes deleting an absent record a success.
var errNotFound = errors.New("not found")
