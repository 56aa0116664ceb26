// Package engine is the core of coldbackup: change detection against
// LocalIndex, content-addressed reconciliation against RemoteIndex and
// BlobStore, and the reaping/restoring operations that round out a full
// backup lifecycle. Nothing in this package knows about CLI flags,
// config files, or AWS credentials; it is handed already-constructed
// drivers and a Clock/Logger/IDGenerator and does the reconciling.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"coldbackup/internal/model"
)

// Options configures an Engine's concurrency and retention behavior.
// All fields have sane defaults; NewEngine fills in the zero ones.
type Options struct {
	// RemotePoolSize bounds concurrent RemoteIndex/BlobStore operations.
	RemotePoolSize int
	// Retention is the minimum storage duration stamped onto a
	// RemoteHashRecord's expiration when its blob is freshly uploaded;
	// the Reaper may delete the blob once the record has emptied and
	// that expiration has passed.
	Retention time.Duration
	// Filters excludes matching relative paths from the walk.
	Filters []*regexp.Regexp
	DryRun  bool
}

const defaultRemotePoolSize = 8

// Engine wires LocalIndex, RemoteIndex, and BlobStore together with the
// Hasher, Walker, Upserter, Deleter, Reaper, and Restorer, and runs full
// reconciliation passes against them.
type Engine struct {
	local  LocalIndex
	remote RemoteIndex
	blobs  BlobStore
	clock  Clock
	idgen  IDGenerator
	log    Logger

	walker   *Walker
	hasher   *Hasher
	upserter *Upserter
	deleter  *Deleter
	reaper   *Reaper
	restorer *Restorer

	opts Options
}

// NewEngine builds an Engine from its storage drivers and options.
func NewEngine(local LocalIndex, remote RemoteIndex, blobs BlobStore, clock Clock, idgen IDGenerator, log Logger, opts Options) *Engine {
	if opts.RemotePoolSize <= 0 {
		opts.RemotePoolSize = defaultRemotePoolSize
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}

	locks := newHashLocks()

	return &Engine{
		local:  local,
		remote: remote,
		blobs:  blobs,
		clock:  clock,
		idgen:  idgen,
		log:    log,

		walker:   NewWalker(opts.Filters),
		hasher:   NewHasher(func(path string) (io.ReadCloser, error) { return os.Open(path) }),
		upserter: NewUpserter(local, remote, blobs, clock, log, opts.Retention, locks),
		deleter:  NewDeleter(local, remote, blobs, log, locks),
		reaper:   NewReaper(remote, blobs, clock, log),
		restorer: NewRestorer(remote, blobs, log),

		opts: opts,
	}
}

// Backup walks targetDir, diffs the result against LocalIndex, and
// reconciles every new, changed, and missing path it finds. Remote and
// blob work for the change set runs across a bounded worker pool so
// network-bound uploads overlap instead of serializing.
func (e *Engine) Backup(ctx context.Context, targetDir string) (model.RunSummary, error) {
	runID := e.idgen.New()
	e.log.Info("backup started", "run_id", runID, "target", targetDir)

	files, err := e.walker.Walk(targetDir)
	if err != nil {
		return model.RunSummary{}, &FatalError{Err: fmt.Errorf("walking target: %w", err)}
	}

	live := make(map[string]time.Time, len(files))
	sizes := make(map[string]int64, len(files))
	for _, f := range files {
		live[f.Path] = f.ModifiedAt
		sizes[f.Path] = f.Size
	}

	changes, err := e.local.Diff(ctx, live)
	if err != nil {
		return model.RunSummary{}, &FatalError{Err: fmt.Errorf("diffing local index: %w", err)}
	}

	var succeeded, failed int64
	p := pool.New().WithMaxGoroutines(e.opts.RemotePoolSize).WithContext(ctx)

	toUpsert := append(append([]string{}, changes.New...), changes.Changed...)
	for _, path := range toUpsert {
		path, modTime, size := path, live[path], sizes[path]
		p.Go(func(ctx context.Context) error {
			hash, err := e.hasher.HashFile(path)
			if err != nil {
				e.log.Warn("hash failed, path will retry next run", "path", path, "err", err)
				atomic.AddInt64(&failed, 1)
				return nil
			}
			open := func() (io.ReadCloser, error) { return os.Open(path) }
			if err := e.upserter.Upsert(ctx, path, hash, size, modTime, open, e.opts.DryRun); err != nil {
				e.log.Error("upsert failed", "path", path, "err", err)
				atomic.AddInt64(&failed, 1)
				return nil
			}
			atomic.AddInt64(&succeeded, 1)
			return nil
		})
	}

	for _, path := range changes.Missing {
		path := path
		p.Go(func(ctx context.Context) error {
			if err := e.deleter.Delete(ctx, path, e.opts.DryRun); err != nil {
				e.log.Error("delete failed", "path", path, "err", err)
				atomic.AddInt64(&failed, 1)
				return nil
			}
			atomic.AddInt64(&succeeded, 1)
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return model.RunSummary{}, &FatalError{Err: err}
	}

	summary := model.RunSummary{Succeeded: int(succeeded), Failed: int(failed)}
	e.log.Info("backup complete", "run_id", runID, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, nil
}

// Clean runs the Reaper over RemoteIndex, permanently deleting blobs
// whose RemoteHashRecord emptied out and whose retention window has
// lapsed.
func (e *Engine) Clean(ctx context.Context) (int, error) {
	return e.reaper.Sweep(ctx, e.opts.DryRun)
}

// Restore rebuilds targetDir from RemoteIndex and BlobStore alone.
func (e *Engine) Restore(ctx context.Context, targetDir string) (int, error) {
	return e.restorer.RestoreAll(ctx, targetDir)
}

// RebuildLocalIndex repopulates LocalIndex from RemoteIndex's current
// path set, for the bootstrap case where LocalIndex is empty (a fresh
// machine, or an operator-triggered rebuild) but the remote side already
// has history. Every restored path is stamped with the rebuild time as
// its mtime and the record's hash as its advisory hash. The next Backup
// run's diff therefore reports each such path as changed (its on-disk
// mtime differs from the rebuild time); the Upserter, finding the same
// hash recorded, only refreshes the mtime and uploads nothing.
func (e *Engine) RebuildLocalIndex(ctx context.Context) (int, error) {
	now := e.clock.Now()
	count := 0
	err := e.remote.Scan(ctx, func(rec model.RemoteHashRecord) error {
		for _, path := range rec.FileNames {
			if e.opts.DryRun {
				e.log.Info("dry-run: would rebuild local record", "path", path)
				count++
				continue
			}
			if err := e.local.Upsert(ctx, path, now, rec.Hash); err != nil {
				return &LocalIOError{Path: path, Err: err}
			}
			count++
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	e.log.Info("local index rebuilt", "paths", count)
	return count, nil
}

// DestroyAll empties RemoteIndex and permanently deletes every blob
// version it referenced. It is an operator escape hatch, not part of
// the normal backup/clean/restore lifecycle; callers are expected to
// have already confirmed the action interactively.
func (e *Engine) DestroyAll(ctx context.Context) (int, error) {
	var hashes []string
	if err := e.remote.Scan(ctx, func(rec model.RemoteHashRecord) error {
		hashes = append(hashes, rec.Hash)
		return nil
	}); err != nil {
		return 0, classifyRemoteErr("remoteindex.scan", err)
	}

	destroyed := 0
	for _, hash := range hashes {
		if err := e.blobs.DeleteAllVersions(ctx, hash); err != nil {
			return destroyed, classifyRemoteErr("blobstore.deleteallversions", err)
		}
		if err := e.remote.Delete(ctx, hash); err != nil {
			return destroyed, classifyRemoteErr("remoteindex.delete", err)
		}
		destroyed++
	}
	e.log.Warn("destroyed all backup data", "hashes", destroyed)
	return destroyed, nil
}
