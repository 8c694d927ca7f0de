// Package storage stores ingested road images and hands back their references.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ImageStore persists raw image bytes and returns an opaque reference string.
type ImageStore interface {
	Store(ctx context.Context, id uuid.UUID, data []byte) (string, error)
}

// LocalStore writes images to a directory on local disk, one file per damage id.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a LocalStore rooted at dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &LocalStore{dir: dir}, nil
}

// Store writes the image as {dir}/{id}.jpg and returns the file path.
func (s *LocalStore) Store(_ context.Context, id uuid.UUID, data []byte) (string, error) {
	path := filepath.Join(s.dir, id.String()+".jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}

	return path, nil
}

// MemoryStore keeps images in memory. For tests.
type MemoryStore struct {
	mu     sync.Mutex
	images map[uuid.UUID][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{images: make(map[uuid.UUID][]byte)}
}

// Store retains the image bytes and returns a synthetic reference.
func (s *MemoryStore) Store(_ context.Context, id uuid.UUID, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.images[id] = buf

	return "mem://" + id.String(), nil
}

// Len reports how many images are stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.images)
}

var (
	_ ImageStore = (*LocalStore)(nil)
	_ ImageStore = (*MemoryStore)(nil)
)
