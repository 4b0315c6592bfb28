package storage

import (
	"sync"
	"time"
)

// Cursor marks the last upstream record ingested from one endpoint
type Cursor struct {
	LastID    int64     `json:"last_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists poll cursors keyed by backend endpoint
type Store interface {
	// LoadCursor returns the zero cursor when none has been saved
	LoadCursor(endpoint string) (Cursor, error)
	SaveCursor(endpoint string, cursor Cursor) error

	// Utility
	Close() error
}

// MemoryStore keeps cursors for the lifetime of the process
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[string]Cursor
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]Cursor)}
}

func (s *MemoryStore) LoadCursor(endpoint string) (Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[endpoint], nil
}

func (s *MemoryStore) SaveCursor(endpoint string, cursor Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[endpoint] = cursor
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
