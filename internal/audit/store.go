package audit

import (
	"context"
	"sort"
	"sync"
)

// Store persists entries. List returns oldest first; DeleteEntity reports how
// many entries it removed and is a no-op for an entity with no entries.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, entityType, entityID string) ([]Entry, error)
	DeleteEntity(ctx context.Context, entityType, entityID string) (int64, error)
}

type entityKey struct {
	entityType string
	entityID   string
}

// MemoryStore keeps entries in process. Append assigns Seq.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     int64
	entries map[entityKey][]Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[entityKey][]Entry)}
}

func (s *MemoryStore) Append(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.Seq = s.seq
	key := entityKey{e.EntityType, e.EntityID}
	s.entries[key] = append(s.entries[key], e.Clone())
	return nil
}

func (s *MemoryStore) List(ctx context.Context, entityType, entityID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	stored := s.entries[entityKey{entityType, entityID}]
	out := make([]Entry, len(stored))
	for i, e := range stored {
		out[i] = e.Clone()
	}
	s.mu.RUnlock()
	SortOldestFirst(out)
	return out, nil
}

func (s *MemoryStore) DeleteEntity(ctx context.Context, entityType, entityID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKey{entityType, entityID}
	n := int64(len(s.entries[key]))
	delete(s.entries, key)
	return n, nil
}

// SortOldestFirst orders entries by timestamp, breaking ties by Seq.
func SortOldestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].Seq < entries[j].Seq
	})
}
