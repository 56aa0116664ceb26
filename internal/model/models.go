// Package model holds the plain data types shared across the backup
// engine and its storage drivers. None of these types know how they are
// persisted; that is the job of internal/localindex, internal/remoteindex,
// and internal/blobstore.
package model

import "time"

// LocalStateRecord is one row of the local change-detection table: a
// tracked path and the mtime it had the last time it was reconciled.
type LocalStateRecord struct {
	Path       string
	ModifiedAt time.Time

	// FileHash is the advisory secondary index described by the local
	// index's design notes: it lets the deleter skip straight to a
	// hash's file_names set without a linear RemoteIndex scan. It may be
	// empty (never populated, or stale after an out-of-band edit); callers
	// must always be able to fall back to the scan path.
	FileHash string
}

// RemoteHashRecord is the remote key-value record keyed by content hash:
// the set of live paths currently pointing at that content, and the
// expiration of the blob's current minimum-storage-duration window.
// Expiration is stamped whenever the blob is freshly uploaded (new
// content, or a re-upload after the previous version's window lapsed)
// and otherwise left untouched by attach/detach; the Reaper only
// consults it once file_names has emptied out.
type RemoteHashRecord struct {
	Hash       string
	FileNames  []string
	Expiration time.Time
}

// ChangeSet is the output of diffing a fresh walk of the filesystem
// against LocalIndex: paths that are new, paths whose mtime moved, and
// paths that used to be tracked but are no longer present on disk.
type ChangeSet struct {
	New     []string
	Changed []string
	Missing []string
}

// IsEmpty reports whether the change set has nothing to reconcile.
func (c ChangeSet) IsEmpty() bool {
	return len(c.New) == 0 && len(c.Changed) == 0 && len(c.Missing) == 0
}

// RunSummary is the terminal report of a single backup pass. Clean and
// restore report a plain count instead.
type RunSummary struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// Total returns the number of paths the run attempted to reconcile.
func (s RunSummary) Total() int {
	return s.Succeeded + s.Failed + s.Skipped
}
