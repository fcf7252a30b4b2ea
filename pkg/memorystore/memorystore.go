// Package memorystore provides an in-process protocol.MemoryStore. Contents live
// only as long as the process.
package memorystore

import (
	"context"
	"sync"

	"github.com/dukex/loom/pkg/models"
)

type Store struct {
	mu      sync.RWMutex
	buffers map[string][]map[string]any
	values  map[string]map[string]map[string]any
}

func New() *Store {
	return &Store{
		buffers: make(map[string][]map[string]any),
		values:  make(map[string]map[string]map[string]any),
	}
}

// Append adds entry to the namespace buffer, dropping the oldest entries beyond maxEntries.
func (s *Store) Append(_ context.Context, namespace string, entry map[string]any, maxEntries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buffer := append(s.buffers[namespace], models.CloneMap(entry))
	if maxEntries > 0 && len(buffer) > maxEntries {
		buffer = buffer[len(buffer)-maxEntries:]
	}

	s.buffers[namespace] = buffer

	return nil
}

// Load returns up to limit of the most recent entries, oldest first.
func (s *Store) Load(_ context.Context, namespace string, limit int) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buffer := s.buffers[namespace]
	if limit > 0 && len(buffer) > limit {
		buffer = buffer[len(buffer)-limit:]
	}

	entries := make([]map[string]any, len(buffer))
	for i, entry := range buffer {
		entries[i] = models.CloneMap(entry)
	}

	return entries, nil
}

func (s *Store) Put(_ context.Context, namespace, key string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.values[namespace] == nil {
		s.values[namespace] = make(map[string]map[string]any)
	}

	s.values[namespace][key] = models.CloneMap(value)

	return nil
}

func (s *Store) Get(_ context.Context, namespace, key string) (map[string]any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[namespace][key]
	if !ok {
		return nil, false, nil
	}

	return models.CloneMap(value), true, nil
}
