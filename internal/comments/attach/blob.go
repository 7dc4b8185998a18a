package attach

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// BlobStore is the binary storage collaborator. Refs are opaque to the
// rest of the engine.
type BlobStore interface {
	Store(ctx context.Context, data []byte, suggestedName string) (ref string, err error)
	Delete(ctx context.Context, ref string) error
}

// FSBlobStore keeps blobs as files under a single directory. Good enough
// for development and single-node deployments.
type FSBlobStore struct {
	dir string
}

func NewFSBlobStore(dir string) (*FSBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob dir %s: %w", dir, err)
	}
	return &FSBlobStore{dir: dir}, nil
}

func (s *FSBlobStore) Store(_ context.Context, data []byte, suggestedName string) (string, error) {
	// Only the extension survives from the suggested name; the rest is
	// replaced to keep client-controlled paths out of the filesystem.
	ref := uuid.NewString() + filepath.Ext(filepath.Base(suggestedName))
	if err := os.WriteFile(filepath.Join(s.dir, ref), data, 0o644); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *FSBlobStore) Delete(_ context.Context, ref string) error {
	return os.Remove(filepath.Join(s.dir, filepath.Base(ref)))
}

// MemoryBlobStore is a test double.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Store(_ context.Context, data []byte, suggestedName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := uuid.NewString() + filepath.Ext(filepath.Base(suggestedName))
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[ref] = cp
	return ref, nil
}

func (s *MemoryBlobStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		return os.ErrNotExist
	}
	delete(s.blobs, ref)
	return nil
}

// Get returns a stored blob; tests use it to assert on normalized output.
func (s *MemoryBlobStore) Get(ref string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[ref]
	return b, ok
}

// Len reports how many blobs are held.
func (s *MemoryBlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
