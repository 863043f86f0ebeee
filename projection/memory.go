package projection

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps views in a map.
type MemoryRepository struct {
	mu    sync.RWMutex
	views map[uuid.UUID]OrderView
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{views: make(map[uuid.UUID]OrderView)}
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (OrderView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[id]
	if !ok {
		return OrderView{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return v, nil
}

func (r *MemoryRepository) Save(_ context.Context, view OrderView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.views[view.ID]; ok && cur.Revision >= view.Revision {
		return nil
	}
	r.views[view.ID] = view
	return nil
}
