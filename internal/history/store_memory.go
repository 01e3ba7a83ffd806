package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps run records in process memory. Useful for tests and
// for running without a configured database.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*RunRecord
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*RunRecord),
	}
}

// Record stores a run summary.
func (s *MemoryStore) Record(_ context.Context, run *RunRecord) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	c, err := cloneRun(run)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[c.ID] = c
	return nil
}

// Get retrieves one run by id.
func (s *MemoryStore) Get(_ context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	run, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run)
}

// List returns runs ordered most recent first.
func (s *MemoryStore) List(_ context.Context, limit int) ([]*RunRecord, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	all := make([]*RunRecord, 0, len(s.items))
	for _, run := range s.items {
		all = append(all, run)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].StartedAt.After(all[j].StartedAt)
		}
		return all[i].ID > all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]*RunRecord, 0, len(all))
	for _, run := range all {
		c, err := cloneRun(run)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
