package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps evaluation records in a map. It is safe for concurrent
// use and is the default backend for single-process runs; use RedisStore
// when several workers share one study.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Key]Record),
	}
}

// Put stores a record, replacing any existing record under the same key.
func (s *MemoryStore) Put(ctx context.Context, record Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.Key] = record
	return nil
}

// Get retrieves a record. The found flag is false when no record exists
// under the key; that is not an error.
func (s *MemoryStore) Get(ctx context.Context, key Key) (Record, bool, error) {
	select {
	case <-ctx.Done():
		return Record{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, found := s.records[key]
	return record, found, nil
}

// List returns the keys stored for one (dataset, nn, sim) triple.
func (s *MemoryStore) List(ctx context.Context, dataset, nn string, sim int) ([]Key, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []Key
	for k := range s.records {
		if k.Dataset == dataset && k.NN == nn && k.Sim == sim {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len returns the number of stored records, for tests and metrics.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Delete removes a record, reporting whether one existed.
func (s *MemoryStore) Delete(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.records[key]
	delete(s.records, key)
	return existed
}
