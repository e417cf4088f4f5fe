package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tjfontaine/toolcall-gateway/internal/storage"
)

// DefaultMaxEntries bounds a Store created with a non-positive size.
const DefaultMaxEntries = 1000

// Store is an in-memory ToolCallStore. Once full, the oldest record is
// evicted first.
type Store struct {
	mu      sync.RWMutex
	max     int
	records map[string]storage.ToolCallRecord
	// order holds ids oldest first.
	order []string
}

var _ storage.ToolCallStore = (*Store)(nil)

// New creates a store holding at most maxEntries records.
func New(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		max:     maxEntries,
		records: make(map[string]storage.ToolCallRecord),
	}
}

func (s *Store) Store(ctx context.Context, rec storage.ToolCallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; !exists {
		for len(s.order) >= s.max {
			delete(s.records, s.order[0])
			s.order = s.order[1:]
		}
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *Store) Lookup(ctx context.Context, id string) (storage.ToolCallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return storage.ToolCallRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Close() error {
	return nil
}
