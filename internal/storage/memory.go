package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put stores raw bytes directly, bypassing the local-file round trip.
func (s *MemoryStore) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
}

// Get returns the raw bytes for a key.
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	return data, ok
}

// Upload copies a local file into the store.
func (s *MemoryStore) Upload(_ context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}
	s.Put(key, data)
	return nil
}

// Download copies an object to a local path.
func (s *MemoryStore) Download(_ context.Context, key, localPath string) error {
	data, ok := s.Get(key)
	if !ok {
		return fmt.Errorf("download %s: %w", key, ErrNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", localPath, err)
	}
	return os.WriteFile(localPath, data, 0o644)
}

// ListFiles returns the sorted object keys under a prefix.
func (s *MemoryStore) ListFiles(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ReadJSON unmarshals an object into v.
func (s *MemoryStore) ReadJSON(_ context.Context, key string, v any) error {
	data, ok := s.Get(key)
	if !ok {
		return fmt.Errorf("read %s: %w", key, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}

// WriteJSON marshals v and stores it.
func (s *MemoryStore) WriteJSON(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.Put(key, data)
	return nil
}

// DeleteFolder removes every object under a prefix.
func (s *MemoryStore) DeleteFolder(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			delete(s.objects, k)
		}
	}
	return nil
}

// PresignedPutURL returns a synthetic URL; there is nothing to sign.
func (s *MemoryStore) PresignedPutURL(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "memory://" + key, nil
}
