package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"coldbackup/internal/engine"
)

// version is one uploaded copy of a hash's content, in upload order.
// The memory store keeps every version rather than overwriting so
// Undelete has something to resurrect.
type version struct {
	data     []byte
	tombstoned bool
}

// Memory is an in-memory BlobStore, safe for concurrent use. It models
// versioning and tombstones closely enough to exercise the reconciler's
// undelete path without talking to S3.
type Memory struct {
	mu       sync.Mutex
	versions map[string][]version // hash -> versions, most recent last
}

var _ engine.BlobStore = (*Memory)(nil)

// NewMemory returns an empty in-memory BlobStore.
func NewMemory() *Memory {
	return &Memory{versions: make(map[string][]version)}
}

func (m *Memory) Put(_ context.Context, hash string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &engine.LocalIOError{Err: err}
	}
	if int64(len(data)) != size {
		return &engine.PermanentRemoteError{Op: "memory.put", Err: fmt.Errorf("size mismatch: expected %d, got %d", size, len(data))}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[hash] = append(m.versions[hash], version{data: data})
	return nil
}

func (m *Memory) Get(_ context.Context, hash string, w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vs := m.versions[hash]
	if len(vs) == 0 || vs[len(vs)-1].tombstoned {
		return &engine.PermanentRemoteError{Op: "memory.get", Err: fmt.Errorf("no live version for %s", hash)}
	}
	_, err := io.Copy(w, bytes.NewReader(vs[len(vs)-1].data))
	return err
}

func (m *Memory) Exists(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := m.versions[hash]
	return len(vs) > 0 && !vs[len(vs)-1].tombstoned, nil
}

func (m *Memory) Delete(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := m.versions[hash]
	if len(vs) == 0 {
		return nil // NotFound-as-success
	}
	vs[len(vs)-1].tombstoned = true
	return nil
}

func (m *Memory) Undelete(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := m.versions[hash]
	if len(vs) == 0 || !vs[len(vs)-1].tombstoned {
		return false, nil
	}
	vs[len(vs)-1].tombstoned = false
	return true, nil
}

func (m *Memory) DeleteAllVersions(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.versions, hash)
	return nil
}
