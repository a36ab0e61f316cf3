package logstore

import (
	"slices"
	"sync"

	"github.com/schovi/qrun/internal/progress"
)

const DefaultMaxEntries = 10000

// MemoryStore holds at most maxEntries entries, dropping the oldest.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    []progress.LogEntry
	maxEntries int
	dropped    int
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{maxEntries: maxEntries}
}

func (s *MemoryStore) Append(entry progress.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)

	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		excess := len(s.entries) - s.maxEntries
		s.entries = slices.Delete(s.entries, 0, excess)
		s.dropped += excess
	}
	return nil
}

func (s *MemoryStore) Since(seq int) ([]progress.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(since(s.entries, seq)), nil
}

func (s *MemoryStore) All() ([]progress.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries), nil
}

func (s *MemoryStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Dropped is the number of entries evicted since the last Reset.
func (s *MemoryStore) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

func (s *MemoryStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.dropped = 0
	return nil
}
