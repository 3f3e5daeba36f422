package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore provides an in-memory implementation of the Store interface.
// It is thread-safe and suitable for development, testing, and single-instance
// deployments. For distributed systems, use RedisStore.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]*RunResult
}

// NewMemoryStore creates a new in-memory run result store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]*RunResult),
	}
}

// Load retrieves a run result by ID.
// Returns a deep copy to prevent external mutations.
func (s *MemoryStore) Load(ctx context.Context, id string) (*RunResult, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result, exists := s.results[id]
	if !exists {
		return nil, ErrNotFound
	}

	return deepCopyResult(result)
}

// Save persists a run result. If it already exists, it will be updated.
func (s *MemoryStore) Save(ctx context.Context, result *RunResult) error {
	if result == nil {
		return ErrInvalidResult
	}
	if result.RunID == "" {
		return ErrInvalidID
	}

	copied, err := deepCopyResult(result)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.RunID] = copied

	return nil
}

// List returns the IDs of all stored runs in lexical order.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.results))
	for id := range s.results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}

// Delete removes a run result by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[id]; !exists {
		return ErrNotFound
	}
	delete(s.results, id)

	return nil
}

// deepCopyResult copies a run result via JSON round-trip so stored state
// never aliases caller-held slices or maps.
func deepCopyResult(result *RunResult) (*RunResult, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to copy run result: %w", err)
	}

	var copied RunResult
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to copy run result: %w", err)
	}
	return &copied, nil
}
