package engine

import (
	"context"
	"errors"

	"coldbackup/internal/model"
)

var errStopScan = errors.New("stop scan")

// Deleter reconciles a path the walker no longer found on disk: it
// detaches the path from whatever hash it pointed at and drops the
// LocalIndex record. If detaching empties the hash's file_names, the
// blob is tombstoned immediately; the emptied RemoteHashRecord's own
// expiration is left untouched for the Reaper to judge, since that
// clock belongs to the blob's creation/re-upload, not to this detach.
type Deleter struct {
	local  LocalIndex
	remote RemoteIndex
	blobs  BlobStore
	log    Logger
	locks  *hashLocks
}

// NewDeleter builds a Deleter. locks must be the same hashLocks instance
// given to the Upserter reconciling the same RemoteIndex, so attach and
// detach on one hash never race each other.
func NewDeleter(local LocalIndex, remote RemoteIndex, blobs BlobStore, log Logger, locks *hashLocks) *Deleter {
	return &Deleter{local: local, remote: remote, blobs: blobs, log: log, locks: locks}
}

// Delete reconciles one path LocalIndex still tracks but the walker no
// longer found.
func (d *Deleter) Delete(ctx context.Context, path string, dryRun bool) error {
	rec, tracked, err := d.local.Get(ctx, path)
	if err != nil {
		return &LocalIOError{Path: path, Err: err}
	}
	if !tracked {
		return nil
	}

	hash := rec.FileHash
	if hash != "" {
		// The advisory hash may be stale: only trust it if its record
		// still lists path.
		current, found, err := d.remote.Get(ctx, hash)
		if err != nil {
			return classifyRemoteErr("remoteindex.get", err)
		}
		if !found || !containsStr(current.FileNames, path) {
			hash = ""
		}
	}
	if hash == "" {
		found, err := d.findHashByScan(ctx, path)
		if err != nil {
			return err
		}
		if found == "" {
			// Path isn't referenced anywhere in RemoteIndex either;
			// LocalIndex was already out of sync with reality. Drop the
			// stale record and move on rather than failing the run.
			if dryRun {
				d.log.Info("dry-run: would drop stale local record", "path", path)
				return nil
			}
			return d.dropLocal(ctx, path)
		}
		hash = found
	}

	if dryRun {
		d.log.Info("dry-run: would detach and remove", "path", path, "hash", hash)
		return nil
	}

	if err := withRetry(ctx, func() error { return d.detach(ctx, hash, path) }); err != nil {
		return err
	}

	return d.dropLocal(ctx, path)
}

func (d *Deleter) dropLocal(ctx context.Context, path string) error {
	if err := d.local.Delete(ctx, path); err != nil {
		return &LocalIOError{Path: path, Err: err}
	}
	return nil
}

// detach removes path from hash's live path set. A record that's
// already gone, or already missing path, counts as success: the
// deleter's job was to make sure path isn't live anywhere, and it
// isn't. If the path set becomes empty, the blob is tombstoned right
// away (NotFound treated as success) rather than left live until the
// Reaper's next sweep; expiration is left exactly as it was, since that
// clock is owned by the blob's own creation/re-upload, not by detach.
func (d *Deleter) detach(ctx context.Context, hash, path string) error {
	unlock := d.locks.Lock(hash)
	defer unlock()

	record, found, err := d.remote.Get(ctx, hash)
	if err != nil {
		return classifyRemoteErr("remoteindex.get", err)
	}
	if !found {
		return nil
	}

	record.FileNames = removeStr(record.FileNames, path)
	if len(record.FileNames) == 0 {
		if err := d.blobs.Delete(ctx, hash); err != nil {
			return classifyRemoteErr("blobstore.delete", err)
		}
	}
	if err := d.remote.Put(ctx, record); err != nil {
		return classifyRemoteErr("remoteindex.put", err)
	}
	return nil
}

// findHashByScan is the fallback path when LocalIndex's advisory hash
// column is empty or stale: walk every RemoteIndex record until one is
// found whose file_names contains path. Bounded by however many hashes
// RemoteIndex holds; acceptable because the advisory column makes this
// the rare path, not the common one.
func (d *Deleter) findHashByScan(ctx context.Context, path string) (string, error) {
	var match string
	err := d.remote.Scan(ctx, func(rec model.RemoteHashRecord) error {
		if containsStr(rec.FileNames, path) {
			match = rec.Hash
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return "", classifyRemoteErr("remoteindex.scan", err)
	}
	return match, nil
}
