package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"coldbackup/internal/model"
)

// Restorer rebuilds a directory tree from RemoteIndex and BlobStore
// alone, without ever consulting LocalIndex. It fetches each hash's
// content exactly once and fans it out to every live path that
// references it, so a file duplicated a thousand times over costs one
// BlobStore.Get, not a thousand.
type Restorer struct {
	remote RemoteIndex
	blobs  BlobStore
	log    Logger
}

// NewRestorer builds a Restorer.
func NewRestorer(remote RemoteIndex, blobs BlobStore, log Logger) *Restorer {
	return &Restorer{remote: remote, blobs: blobs, log: log}
}

// RestoreAll writes every live path recorded in RemoteIndex under
// targetDir, preserving the path as it was recorded (joined onto
// targetDir). Errors restoring one hash or path are collected and
// reported; the run continues through the rest of RemoteIndex rather
// than aborting on the first failure. Returns the number of files
// written.
func (r *Restorer) RestoreAll(ctx context.Context, targetDir string) (int, error) {
	written := 0
	var errs []error
	err := r.remote.Scan(ctx, func(rec model.RemoteHashRecord) error {
		if len(rec.FileNames) == 0 {
			return nil
		}
		n, hashErrs := r.restoreHash(ctx, targetDir, rec)
		written += n
		errs = append(errs, hashErrs...)
		return nil
	})
	if err != nil {
		return written, err
	}
	if len(errs) > 0 {
		r.log.Warn("restore completed with errors", "files", written, "errors", len(errs))
		return written, errors.Join(errs...)
	}
	r.log.Info("restore complete", "files", written)
	return written, nil
}

// restoreHash fetches rec.Hash's content exactly once into a scratch
// file, then copies it out to every path in rec.FileNames, so a file
// duplicated a thousand times over costs one BlobStore.Get, not a
// thousand. Each path's copy failure is collected rather than aborting
// the rest of the fan-out.
func (r *Restorer) restoreHash(ctx context.Context, targetDir string, rec model.RemoteHashRecord) (int, []error) {
	exists, err := r.blobs.Exists(ctx, rec.Hash)
	if err != nil {
		return 0, []error{classifyRemoteErr("blobstore.exists", err)}
	}
	if !exists {
		return 0, []error{&ConsistencyDriftError{Hash: rec.Hash, Err: fmt.Errorf("remote index record has no corresponding blob")}}
	}

	tmp, err := os.CreateTemp("", "coldbackup-restore-*")
	if err != nil {
		return 0, []error{&LocalIOError{Err: err}}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	err = withRetry(ctx, func() error {
		if _, err := tmp.Seek(0, 0); err != nil {
			return err
		}
		if err := tmp.Truncate(0); err != nil {
			return err
		}
		if err := r.blobs.Get(ctx, rec.Hash, tmp); err != nil {
			return classifyRemoteErr("blobstore.get", err)
		}
		return nil
	})
	closeErr := tmp.Close()
	if err != nil {
		return 0, []error{err}
	}
	if closeErr != nil {
		return 0, []error{&LocalIOError{Path: tmpPath, Err: closeErr}}
	}

	written := 0
	var errs []error
	for _, relPath := range rec.FileNames {
		outPath := filepath.Join(targetDir, relPath)
		if err := copyRestoredFile(tmpPath, outPath); err != nil {
			errs = append(errs, err)
			continue
		}
		r.log.Debug("restored file", "path", outPath, "hash", rec.Hash)
		written++
	}
	return written, errs
}

// copyRestoredFile copies the already-fetched blob content at srcPath
// to outPath, creating any missing parent directories.
func copyRestoredFile(srcPath, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return &LocalIOError{Path: outPath, Err: err}
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return &LocalIOError{Path: outPath, Err: err}
	}
	defer src.Close()

	dst, err := os.Create(outPath)
	if err != nil {
		return &LocalIOError{Path: outPath, Err: err}
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(outPath)
		return &LocalIOError{Path: outPath, Err: err}
	}
	if err := dst.Close(); err != nil {
		return &LocalIOError{Path: outPath, Err: err}
	}
	return nil
}
