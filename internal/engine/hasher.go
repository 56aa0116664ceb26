package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// hashChunkSize bounds how much of a file Hasher reads into memory at
// once, so hashing a large file never needs more than one buffer's
// worth of memory.
const hashChunkSize = 32 * 1024

// Hasher computes the content hash the rest of the engine addresses
// blobs by. It is stateless; HashFile opens, reads, and closes its own
// handle so callers never have to manage file lifetime around it.
type Hasher struct {
	open func(path string) (io.ReadCloser, error)
}

// NewHasher returns a Hasher that reads files through open. NewEngine
// passes os.Open; any function returning an io.ReadCloser works.
func NewHasher(open func(path string) (io.ReadCloser, error)) *Hasher {
	return &Hasher{open: open}
}

// HashFile returns the lowercase hex SHA-256 digest of path's contents.
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := h.open(path)
	if err != nil {
		return "", &HashError{Path: path, Err: err}
	}
	defer f.Close()

	digest, err := h.HashReader(f)
	if err != nil {
		return "", &HashError{Path: path, Err: err}
	}
	return digest, nil
}

// HashReader returns the lowercase hex SHA-256 digest of everything read
// from r.
func (h *Hasher) HashReader(r io.Reader) (string, error) {
	sum := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(sum, r, buf); err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
