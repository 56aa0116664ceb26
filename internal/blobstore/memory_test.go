package blobstore

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PutGetExists(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	exists, err := m.Exists(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, exists)

	content := "hello"
	require.NoError(t, m.Put(ctx, "h1", strings.NewReader(content), int64(len(content))))

	exists, err = m.Exists(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, exists)

	var buf bytes.Buffer
	require.NoError(t, m.Get(ctx, "h1", &buf))
	assert.Equal(t, content, buf.String())
}

func TestMemory_DeleteThenUndelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "h1", strings.NewReader("x"), 1))
	require.NoError(t, m.Delete(ctx, "h1"))

	exists, err := m.Exists(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, exists)

	undeleted, err := m.Undelete(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, undeleted)

	exists, err = m.Exists(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemory_UndeleteWithNoTombstoneIsNoop(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	undeleted, err := m.Undelete(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, undeleted)
}

func TestMemory_DeleteAllVersions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "h1", strings.NewReader("x"), 1))
	require.NoError(t, m.Put(ctx, "h1", strings.NewReader("y"), 1))
	require.NoError(t, m.DeleteAllVersions(ctx, "h1"))

	exists, err := m.Exists(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, exists)

	undeleted, err := m.Undelete(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, undeleted)
}
