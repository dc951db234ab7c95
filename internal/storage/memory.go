package storage

import (
	"context"
	"sync"
)

// MemoryStore is a map-backed RoomStore for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func memoryKey(roomKey string, kind Kind) string {
	return roomKey + "\x00" + string(kind)
}

// Get implements RoomStore.
func (s *MemoryStore) Get(_ context.Context, roomKey string, kind Kind) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.blobs[memoryKey(roomKey, kind)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, true, nil
}

// Put implements RoomStore.
func (s *MemoryStore) Put(_ context.Context, roomKey string, kind Kind, payload []byte) error {
	clone := make([]byte, len(payload))
	copy(clone, payload)
	s.mu.Lock()
	s.blobs[memoryKey(roomKey, kind)] = clone
	s.mu.Unlock()
	return nil
}

// Seed writes a blob without error handling ceremony, for test setup.
func (s *MemoryStore) Seed(roomKey string, kind Kind, payload []byte) {
	_ = s.Put(context.Background(), roomKey, kind, payload)
}
