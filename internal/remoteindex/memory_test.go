package remoteindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldbackup/internal/model"
)

func TestMemory_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	rec := model.RemoteHashRecord{Hash: "h1", FileNames: []string{"/a.txt"}}
	require.NoError(t, m.Put(ctx, rec))

	got, ok, err := m.Get(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"/a.txt"}, got.FileNames)

	require.NoError(t, m.Delete(ctx, "h1"))
	_, ok, err = m.Get(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_GetIsIsolatedFromMutation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, model.RemoteHashRecord{Hash: "h1", FileNames: []string{"/a.txt"}}))

	got, _, err := m.Get(ctx, "h1")
	require.NoError(t, err)
	got.FileNames[0] = "/mutated.txt"

	got2, _, err := m.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", got2.FileNames[0])
}

func TestMemory_Scan(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, model.RemoteHashRecord{Hash: "h2", Expiration: time.Now()}))
	require.NoError(t, m.Put(ctx, model.RemoteHashRecord{Hash: "h1"}))

	var seen []string
	require.NoError(t, m.Scan(ctx, func(r model.RemoteHashRecord) error {
		seen = append(seen, r.Hash)
		return nil
	}))
	assert.Equal(t, []string{"h1", "h2"}, seen)
}
