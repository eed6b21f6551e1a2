package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/retail-content-ingestor/internal/store"
)

// ChangeStore keeps the per-run change log in memory.
type ChangeStore struct {
	mu      sync.RWMutex
	changes map[uuid.UUID][]store.Change
}

// NewChangeStore constructs a ChangeStore.
func NewChangeStore() *ChangeStore {
	return &ChangeStore{changes: make(map[uuid.UUID][]store.Change)}
}

// AppendChanges adds changes to their runs.
func (s *ChangeStore) AppendChanges(_ context.Context, changes []store.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changes {
		s.changes[c.RunID] = append(s.changes[c.RunID], c)
	}
	return nil
}

// ListChanges pages through one run's changes in insertion order.
func (s *ChangeStore) ListChanges(_ context.Context, runID uuid.UUID, limit, offset int) ([]store.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.changes[runID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []store.Change{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return append([]store.Change(nil), all...), nil
}
