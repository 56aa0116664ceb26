package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"coldbackup/internal/model"
)

// Upserter reconciles one new or changed local path: it makes sure the
// path's current content hash is the one RemoteIndex points live paths
// at, uploading it to BlobStore only if nobody has uploaded that hash
// before, and only detaches the path's previous hash (if any) once the
// new hash's record has safely landed in RemoteIndex.
type Upserter struct {
	local  LocalIndex
	remote RemoteIndex
	blobs  BlobStore
	clock  Clock
	log    Logger
	// retention is the minimum-storage-duration window stamped onto a
	// RemoteHashRecord's expiration whenever a blob is freshly uploaded
	// (new content, or a re-upload after an old version expired). It is
	// never touched on detach; that clock belongs to the blob's own
	// creation, not to whichever path last stopped referencing it.
	retention time.Duration
	locks     *hashLocks
}

// NewUpserter builds an Upserter. locks must be the same hashLocks
// instance given to the Deleter reconciling the same RemoteIndex, so
// attach and detach on one hash never race each other.
func NewUpserter(local LocalIndex, remote RemoteIndex, blobs BlobStore, clock Clock, log Logger, retention time.Duration, locks *hashLocks) *Upserter {
	return &Upserter{local: local, remote: remote, blobs: blobs, clock: clock, log: log, retention: retention, locks: locks}
}

// Upsert reconciles a single path discovered as new or changed by the
// walker/diff step. hash is the path's already-computed content hash;
// open reopens the file's content for streaming to BlobStore (called
// only when BlobStore has no live copy of hash and none could be
// undeleted). dryRun logs the intended
// action without mutating LocalIndex, RemoteIndex, or BlobStore.
func (u *Upserter) Upsert(ctx context.Context, path, hash string, size int64, modifiedAt time.Time, open func() (io.ReadCloser, error), dryRun bool) error {
	prior, tracked, err := u.local.Get(ctx, path)
	if err != nil {
		return &LocalIOError{Path: path, Err: err}
	}
	if tracked && prior.FileHash == hash {
		// Content is unchanged; only the mtime moved without the bytes
		// changing (touch, permission-preserving copy, etc). Just record
		// the new mtime so the next diff doesn't flag it again.
		if dryRun {
			u.log.Info("dry-run: would refresh mtime", "path", path)
			return nil
		}
		if err := u.local.Upsert(ctx, path, modifiedAt, hash); err != nil {
			return &LocalIOError{Path: path, Err: err}
		}
		return nil
	}

	if dryRun {
		u.log.Info("dry-run: would upsert", "path", path, "hash", hash)
		return nil
	}

	// The blob must land before the record points at it: a crash in
	// between would otherwise leave a live RemoteHashRecord referencing
	// a hash BlobStore has never heard of.
	var freshBlob bool
	if err := withRetry(ctx, func() error {
		fresh, err := u.ensureBlob(ctx, hash, size, open)
		freshBlob = fresh
		return err
	}); err != nil {
		return err
	}

	if err := u.attach(ctx, path, hash, freshBlob); err != nil {
		return err
	}

	// Only now that the new hash is safely live does the old hash (if
	// this is a changed, not new, path) get detached. Reordering this
	// before attach would leave a window where a crash drops the path's
	// only live reference to content.
	if tracked && prior.FileHash != "" && prior.FileHash != hash {
		if err := withRetry(ctx, func() error { return u.detach(ctx, prior.FileHash, path) }); err != nil {
			return err
		}
	}

	if err := u.local.Upsert(ctx, path, modifiedAt, hash); err != nil {
		return &LocalIOError{Path: path, Err: err}
	}

	u.log.Info("upserted", "path", path, "hash", hash)
	return nil
}

// ensureBlob makes sure hash has a live blob, uploading it if this is
// the first time this content has been seen, or undeleting a
// still-retained tombstoned version instead of re-uploading. Reports
// whether a fresh upload actually happened, so the caller knows whether
// the record's retention window needs to be (re)started.
func (u *Upserter) ensureBlob(ctx context.Context, hash string, size int64, open func() (io.ReadCloser, error)) (bool, error) {
	exists, err := u.blobs.Exists(ctx, hash)
	if err != nil {
		return false, classifyRemoteErr("blobstore.exists", err)
	}
	if exists {
		return false, nil
	}

	undeleted, err := u.blobs.Undelete(ctx, hash)
	if err != nil {
		return false, classifyRemoteErr("blobstore.undelete", err)
	}
	if undeleted {
		liveAgain, err := u.blobs.Exists(ctx, hash)
		if err != nil {
			return false, classifyRemoteErr("blobstore.exists", err)
		}
		if liveAgain {
			u.log.Debug("blob undeleted instead of re-uploaded", "hash", hash)
			return false, nil
		}
		// The tombstone was removed but the object didn't come back live
		// (e.g. the resurrected version already transitioned to a cold
		// storage tier that needs a restore request before it's
		// readable). Fall through and re-upload rather than leave the
		// path pointing at content that can't be fetched.
		u.log.Warn("undeleted blob still unavailable, re-uploading", "hash", hash,
			"err", (&ConsistencyDriftError{Hash: hash, Err: errors.New("undeleted but not live")}).Error())
	}

	r, err := open()
	if err != nil {
		return false, &LocalIOError{Err: err}
	}
	defer r.Close()

	if err := u.blobs.Put(ctx, hash, r, size); err != nil {
		return false, classifyRemoteErr("blobstore.put", err)
	}
	return true, nil
}

// attach adds path to hash's live path set in RemoteIndex, creating the
// record if this is the first path ever to reference this content.
// freshBlob marks that ensureBlob just uploaded new bytes under hash (a
// brand new hash, or a re-upload after the prior version expired); only
// then does the record's retention window get (re)started, per the
// protocol's "leave expiration as previously set" rule otherwise.
func (u *Upserter) attach(ctx context.Context, path, hash string, freshBlob bool) error {
	unlock := u.locks.Lock(hash)
	defer unlock()

	return withRetry(ctx, func() error {
		rec, found, err := u.remote.Get(ctx, hash)
		if err != nil {
			return classifyRemoteErr("remoteindex.get", err)
		}
		if !found {
			rec = model.RemoteHashRecord{Hash: hash}
		}
		if !containsStr(rec.FileNames, path) {
			rec.FileNames = append(rec.FileNames, path)
		}
		if freshBlob {
			rec.Expiration = u.clock.Now().Add(u.retention)
		}
		if err := u.remote.Put(ctx, rec); err != nil {
			return classifyRemoteErr("remoteindex.put", err)
		}
		return nil
	})
}

// detach removes path from hash's live path set. If the record is
// already gone, that's the self-heal end state we wanted anyway. If the
// path set empties out, the blob is tombstoned immediately (NotFound
// treated as success); expiration is left exactly as it was, since that
// clock is owned by the blob's creation/re-upload, not by this detach.
func (u *Upserter) detach(ctx context.Context, hash, path string) error {
	unlock := u.locks.Lock(hash)
	defer unlock()

	rec, found, err := u.remote.Get(ctx, hash)
	if err != nil {
		return classifyRemoteErr("remoteindex.get", err)
	}
	if !found {
		return nil
	}
	rec.FileNames = removeStr(rec.FileNames, path)
	if len(rec.FileNames) == 0 {
		if err := u.blobs.Delete(ctx, hash); err != nil {
			return classifyRemoteErr("blobstore.delete", err)
		}
	}
	if err := u.remote.Put(ctx, rec); err != nil {
		return classifyRemoteErr("remoteindex.put", err)
	}
	return nil
}

func classifyRemoteErr(op string, err error) error {
	var transient *TransientRemoteError
	var permanent *PermanentRemoteError
	if errors.As(err, &transient) || errors.As(err, &permanent) {
		return err
	}
	// Drivers are expected to classify their own errors; an
	// unclassified error from a driver is treated as permanent so it
	// doesn't get retried forever against a request that will never
	// succeed.
	return &PermanentRemoteError{Op: op, Err: fmt.Errorf("unclassified driver error: %w", err)}
}

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func removeStr(ss []string, s string) []string {
	out := make([]string, 0, len(ss))
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
