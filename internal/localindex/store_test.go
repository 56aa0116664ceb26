package localindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mtime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, "/a.txt", mtime, "hash1"))

	rec, ok, err := s.Get(ctx, "/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/a.txt", rec.Path)
	assert.Equal(t, "hash1", rec.FileHash)
	assert.True(t, mtime.Equal(rec.ModifiedAt.UTC()))

	_, ok, err = s.Get(ctx, "/missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_UpsertClearsStaleHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now()
	require.NoError(t, s.Upsert(ctx, "/a.txt", now, "hash1"))
	require.NoError(t, s.Upsert(ctx, "/a.txt", now, ""))

	rec, ok, err := s.Get(ctx, "/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, rec.FileHash)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "/a.txt", time.Now(), "hash1"))
	require.NoError(t, s.Delete(ctx, "/a.txt"))

	_, ok, err := s.Get(ctx, "/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Diff(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, "/unchanged.txt", base, "h1"))
	require.NoError(t, s.Upsert(ctx, "/changed.txt", base, "h2"))
	require.NoError(t, s.Upsert(ctx, "/removed.txt", base, "h3"))

	live := map[string]time.Time{
		"/unchanged.txt": base,
		"/changed.txt":   base.Add(time.Hour),
		"/new.txt":       base,
	}

	changes, err := s.Diff(ctx, live)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/new.txt"}, changes.New)
	assert.ElementsMatch(t, []string{"/changed.txt"}, changes.Changed)
	assert.ElementsMatch(t, []string{"/removed.txt"}, changes.Missing)
}

func TestStore_AllPaths(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "/a.txt", time.Now(), "h1"))
	require.NoError(t, s.Upsert(ctx, "/b.txt", time.Now(), "h2"))

	all, err := s.AllPaths(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
