package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldbackup/internal/blobstore"
	"coldbackup/internal/engine"
	"coldbackup/internal/localindex"
	"coldbackup/internal/model"
	"coldbackup/internal/remoteindex"
)

type testEnv struct {
	local  *localindex.Store
	remote *remoteindex.Memory
	blobs  *blobstore.Memory
	clock  *stubClock
	eng    *engine.Engine
	dir    string
}

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time { return c.now }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	local, err := localindex.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	remote := remoteindex.NewMemory()
	blobs := blobstore.NewMemory()
	clock := &stubClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	opts := engine.Options{Retention: 24 * time.Hour}
	eng := engine.NewEngine(local, remote, blobs, clock, engine.UUIDGenerator{}, engine.NopLogger{}, opts)

	return &testEnv{local: local, remote: remote, blobs: blobs, clock: clock, eng: eng, dir: t.TempDir()}
}

func (e *testEnv) writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), []byte(content), 0o644))
}

func TestBackup_DedupsIdenticalContent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.writeFile(t, "a.txt", "hi")
	env.writeFile(t, "b.txt", "hi")
	env.writeFile(t, "c.txt", "bye")

	summary, err := env.eng.Backup(ctx, env.dir)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)

	var hashes []string
	require.NoError(t, env.remote.Scan(ctx, func(r model.RemoteHashRecord) error {
		hashes = append(hashes, r.Hash)
		return nil
	}))
	assert.Len(t, hashes, 2, "two distinct content hashes")

	hiRec, ok, err := findRecordWithPath(ctx, env.remote, filepath.Join(env.dir, "a.txt"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{filepath.Join(env.dir, "a.txt"), filepath.Join(env.dir, "b.txt")}, hiRec.FileNames)

	all, err := env.local.AllPaths(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBackup_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.writeFile(t, "a.txt", "hi")

	_, err := env.eng.Backup(ctx, env.dir)
	require.NoError(t, err)

	before, err := env.local.AllPaths(ctx)
	require.NoError(t, err)

	summary, err := env.eng.Backup(ctx, env.dir)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Succeeded+summary.Failed, "nothing changed, nothing to reconcile")

	after, err := env.local.AllPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBackup_RenameIsFreeWithinBlobStore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.writeFile(t, "a.txt", "hi")
	_, err := env.eng.Backup(ctx, env.dir)
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(env.dir, "a.txt"), filepath.Join(env.dir, "a2.txt")))

	summary, err := env.eng.Backup(ctx, env.dir)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Failed)

	var hashes []string
	require.NoError(t, env.remote.Scan(ctx, func(r model.RemoteHashRecord) error {
		hashes = append(hashes, r.Hash)
		return nil
	}))
	require.Len(t, hashes, 1)

	rec, ok, err := env.remote.Get(ctx, hashes[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{filepath.Join(env.dir, "a2.txt")}, rec.FileNames)
}

func TestBackup_DeleteThenReappearBeforeExpirationUndeletesInsteadOfReuploading(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.writeFile(t, "a.txt", "hi")
	_, err := env.eng.Backup(ctx, env.dir)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(env.dir, "a.txt")))
	_, err = env.eng.Backup(ctx, env.dir)
	require.NoError(t, err)

	var hashes []string
	require.NoError(t, env.remote.Scan(ctx, func(r model.RemoteHashRecord) error {
		hashes = append(hashes, r.Hash)
		return nil
	}))
	require.Len(t, hashes, 1)
	hash := hashes[0]

	exists, err := env.blobs.Exists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists, "blob tombstoned once the record emptied")

	env.writeFile(t, "a.txt", "hi")
	summary, err := env.eng.Backup(ctx, env.dir)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Failed)

	exists, err = env.blobs.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists, "undeleted, not re-uploaded")
}

func TestBackup_FiltersExcludeMatchedPaths(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.writeFile(t, "x.txt", "keep")
	env.writeFile(t, "y.md", "skip")

	filter := regexp.MustCompile(`\.md$`)

	eng := engine.NewEngine(env.local, env.remote, env.blobs, env.clock, engine.UUIDGenerator{}, engine.NopLogger{}, engine.Options{
		Retention: 24 * time.Hour,
		Filters:   []*regexp.Regexp{filter},
	})

	_, err := eng.Backup(ctx, env.dir)
	require.NoError(t, err)

	all, err := env.local.AllPaths(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, filepath.Join(env.dir, "x.txt"), all[0].Path)
}

func TestClean_ReapsExpiredEmptyRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.writeFile(t, "a.txt", "hi")
	_, err := env.eng.Backup(ctx, env.dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(env.dir, "a.txt")))
	_, err = env.eng.Backup(ctx, env.dir)
	require.NoError(t, err)

	env.clock.now = env.clock.now.Add(48 * time.Hour)

	reaped, err := env.eng.Clean(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	var count int
	require.NoError(t, env.remote.Scan(ctx, func(model.RemoteHashRecord) error { count++; return nil }))
	assert.Equal(t, 0, count)
}

func TestRestore_RoundTripsEveryByte(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.writeFile(t, "a.txt", "hi")
	env.writeFile(t, "b.txt", "hi")
	require.NoError(t, os.MkdirAll(filepath.Join(env.dir, "sub"), 0o755))
	env.writeFile(t, "sub/c.txt", "bye")

	_, err := env.eng.Backup(ctx, env.dir)
	require.NoError(t, err)

	restoreDir := t.TempDir()
	n, err := env.eng.Restore(ctx, restoreDir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, name := range []string{"a.txt", "b.txt", "sub/c.txt"} {
		orig, err := os.ReadFile(filepath.Join(env.dir, name))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(restoreDir, filepath.Join(env.dir, name)))
		require.NoError(t, err)
		assert.Equal(t, orig, got)
	}
}

func findRecordWithPath(ctx context.Context, remote *remoteindex.Memory, path string) (model.RemoteHashRecord, bool, error) {
	var found model.RemoteHashRecord
	var ok bool
	err := remote.Scan(ctx, func(r model.RemoteHashRecord) error {
		for _, p := range r.FileNames {
			if p == path {
				found = r
				ok = true
			}
		}
		return nil
	})
	return found, ok, err
}
