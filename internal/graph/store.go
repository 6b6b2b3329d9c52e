package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists relationships. DeleteForAccount removes edges in both
// directions and succeeds with zero when there are none. ApplyBatch deletes
// remove and inserts add as one unit: on error nothing has changed.
type Store interface {
	ParentLister
	Create(ctx context.Context, r Relationship) error
	Get(ctx context.Context, id string) (Relationship, error)
	Delete(ctx context.Context, id string) error
	ListChildren(ctx context.Context, parentID string) ([]Relationship, error)
	DeleteForAccount(ctx context.Context, accountID string) (int64, error)
	ApplyBatch(ctx context.Context, remove []string, add []Relationship) error
}

// MemoryStore implements Store in process.
type MemoryStore struct {
	mu    sync.RWMutex
	edges map[string]Relationship
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{edges: make(map[string]Relationship)}
}

func (s *MemoryStore) Create(ctx context.Context, r Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[r.ID]; ok {
		return ErrConflict
	}
	for _, e := range s.edges {
		if e.ParentAccountID == r.ParentAccountID && e.ChildAccountID == r.ChildAccountID {
			return ErrConflict
		}
	}
	s.edges[r.ID] = r
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Relationship, error) {
	if err := ctx.Err(); err != nil {
		return Relationship{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.edges[id]
	if !ok {
		return Relationship{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[id]; !ok {
		return ErrNotFound
	}
	delete(s.edges, id)
	return nil
}

func (s *MemoryStore) ListParents(ctx context.Context, childID string) ([]Relationship, error) {
	return s.filter(ctx, func(r Relationship) bool { return r.ChildAccountID == childID })
}

func (s *MemoryStore) ListChildren(ctx context.Context, parentID string) ([]Relationship, error) {
	return s.filter(ctx, func(r Relationship) bool { return r.ParentAccountID == parentID })
}

func (s *MemoryStore) DeleteForAccount(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.edges {
		if r.ParentAccountID == accountID || r.ChildAccountID == accountID {
			delete(s.edges, id)
			n++
		}
	}
	return n, nil
}

// ApplyBatch stages the change on a copy and swaps it in only if every step
// succeeds.
func (s *MemoryStore) ApplyBatch(ctx context.Context, remove []string, add []Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := make(map[string]Relationship, len(s.edges)+len(add))
	for id, r := range s.edges {
		staged[id] = r
	}
	for _, id := range remove {
		if _, ok := staged[id]; !ok {
			return fmt.Errorf("%w: relationship %s", ErrNotFound, id)
		}
		delete(staged, id)
	}
	for _, r := range add {
		if _, ok := staged[r.ID]; ok {
			return fmt.Errorf("%w: relationship %s", ErrConflict, r.ID)
		}
		for _, e := range staged {
			if e.ParentAccountID == r.ParentAccountID && e.ChildAccountID == r.ChildAccountID {
				return fmt.Errorf("%w: %s -> %s", ErrConflict, r.ParentAccountID, r.ChildAccountID)
			}
		}
		staged[r.ID] = r
	}
	s.edges = staged
	return nil
}

func (s *MemoryStore) filter(ctx context.Context, keep func(Relationship) bool) ([]Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []Relationship
	for _, r := range s.edges {
		if keep(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
