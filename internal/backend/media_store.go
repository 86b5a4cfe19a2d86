package backend

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrRefNotFound = errors.New("media ref not found")

// MemoryMediaStore keeps media blobs in memory for local development.
type MemoryMediaStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryMediaStore() *MemoryMediaStore {
	return &MemoryMediaStore{blobs: make(map[string][]byte)}
}

func (s *MemoryMediaStore) Put(_ context.Context, data []byte) (string, error) {
	ref := "mem://" + uuid.NewString()
	s.mu.Lock()
	s.blobs[ref] = append([]byte(nil), data...)
	s.mu.Unlock()
	return ref, nil
}

func (s *MemoryMediaStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	blob, ok := s.blobs[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRefNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (s *MemoryMediaStore) Exists(_ context.Context, ref string) (bool, error) {
	s.mu.RLock()
	_, ok := s.blobs[ref]
	s.mu.RUnlock()
	return ok, nil
}
