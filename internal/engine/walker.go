package engine

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// WalkedFile is one regular file discovered under the target directory.
type WalkedFile struct {
	Path       string // absolute
	ModifiedAt time.Time
	Size       int64
}

// Walker recursively discovers regular files under a target directory,
// in lexicographic path order, skipping anything matched by its filters.
// Symlinks, devices, and other non-regular entries are skipped rather
// than erroring the whole walk, since a backup run shouldn't fail
// outright because of one socket file left in the tree.
type Walker struct {
	filters []*regexp.Regexp
}

// NewWalker builds a Walker from a set of compiled exclusion patterns.
// A path is skipped if any pattern matches it, tested against the path
// relative to the walk root.
func NewWalker(filters []*regexp.Regexp) *Walker {
	return &Walker{filters: filters}
}

// Walk returns every regular file under root, sorted lexicographically
// by absolute path.
func (w *Walker) Walk(root string) ([]WalkedFile, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absRoot)
	}

	var files []WalkedFile
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return fmt.Errorf("relativizing %s: %w", p, err)
		}
		if w.excluded(rel) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return &LocalIOError{Path: p, Err: err}
		}
		files = append(files, WalkedFile{
			Path:       p,
			ModifiedAt: fi.ModTime(),
			Size:       fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", absRoot, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (w *Walker) excluded(relPath string) bool {
	for _, re := range w.filters {
		if re.MatchString(relPath) {
			return true
		}
	}
	return false
}
