package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

type jsonDataset struct {
	Rooms map[string]map[Kind]json.RawMessage `json:"rooms"`
}

// JSONStore persists all rooms into a single JSON file guarded by a mutex.
// Writes replace the file atomically via a temp-file rename so a crash never
// leaves a half-written dataset behind.
type JSONStore struct {
	mu       sync.RWMutex
	filePath string
	data     jsonDataset
}

// NewJSONStore opens (or creates) the file-backed store at path.
func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: json store path required")
	}
	store := &JSONStore{
		filePath: path,
		data:     jsonDataset{Rooms: make(map[string]map[Kind]json.RawMessage)},
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JSONStore) load() error {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("storage: read %s: %w", s.filePath, err)
	}
	if len(raw) == 0 {
		return nil
	}
	var data jsonDataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("storage: decode %s: %w", s.filePath, err)
	}
	if data.Rooms == nil {
		data.Rooms = make(map[string]map[Kind]json.RawMessage)
	}
	s.data = data
	return nil
}

// Get implements RoomStore.
func (s *JSONStore) Get(_ context.Context, roomKey string, kind Kind) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.data.Rooms[roomKey]
	if !ok {
		return nil, false, nil
	}
	payload, ok := room[kind]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, true, nil
}

// Put implements RoomStore.
func (s *JSONStore) Put(_ context.Context, roomKey string, kind Kind, payload []byte) error {
	clone := make(json.RawMessage, len(payload))
	copy(clone, payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.data.Rooms[roomKey]
	if room == nil {
		room = make(map[Kind]json.RawMessage, 2)
		s.data.Rooms[roomKey] = room
	}
	room[kind] = clone
	return s.persistLocked()
}

func (s *JSONStore) persistLocked() error {
	if dir := filepath.Dir(s.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("storage: create data dir: %w", err)
		}
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode dataset: %w", err)
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("storage: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("storage: replace %s: %w", s.filePath, err)
	}
	return nil
}
