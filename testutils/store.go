// testutils/store.go
package testutils

import (
	"context"
	"sync"
	"time"

	"relay-warden/store"
)

// InMemoryStore is a store.Store backed by a map, for tests that need
// persistence semantics without BadgerDB.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]listRecord

	SaveCalls   int
	errToReturn error
}

type listRecord struct {
	entries   []string
	fetchedAt time.Time
}

var _ store.Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]listRecord)}
}

// SetError makes every subsequent call fail with err.
func (s *InMemoryStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errToReturn = err
}

func (s *InMemoryStore) SaveList(ctx context.Context, name string, entries []string, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errToReturn != nil {
		return s.errToReturn
	}
	s.SaveCalls++
	copied := make([]string, len(entries))
	copy(copied, entries)
	s.records[name] = listRecord{entries: copied, fetchedAt: fetchedAt}
	return nil
}

func (s *InMemoryStore) LoadList(ctx context.Context, name string) ([]string, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.errToReturn != nil {
		return nil, time.Time{}, s.errToReturn
	}
	rec, ok := s.records[name]
	if !ok {
		return nil, time.Time{}, store.ErrNotFound
	}
	return rec.entries, rec.fetchedAt, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
