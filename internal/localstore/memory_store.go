package localstore

import (
	"context"
	"sync"

	"github.com/matchops/local-sync/internal/entity"
)

// MemoryStore is an in-memory Store used by unit tests across the module
// that need a Local Store double without BadgerDB's on-disk footprint. It
// implements the same contract as BadgerStore.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[entity.Key]entity.Entity
	dbs    map[string]bool
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[entity.Key]entity.Entity),
		dbs:  make(map[string]bool),
	}
}

// MarkDatabaseExists lets tests simulate a pre-existing on-disk database
// without touching a filesystem.
func (m *MemoryStore) MarkDatabaseExists(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dbs[name] = true
}

func (m *MemoryStore) Create(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Kind = kind
	m.data[entity.Key{Kind: kind, ID: e.ID}] = e
	return e, nil
}

func (m *MemoryStore) Get(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[entity.Key{Kind: kind, ID: id}]
	if !ok {
		return entity.Entity{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) Update(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entity.Key{Kind: kind, ID: e.ID}
	if _, ok := m.data[key]; !ok {
		return entity.Entity{}, ErrNotFound
	}
	e.Kind = kind
	m.data[key] = e
	return e, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Kind = kind
	m.data[entity.Key{Kind: kind, ID: e.ID}] = e
	return e, nil
}

func (m *MemoryStore) Delete(ctx context.Context, kind entity.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, entity.Key{Kind: kind, ID: id})
	return nil
}

func (m *MemoryStore) List(ctx context.Context, kind entity.Kind) ([]entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entity.Entity
	for k, e := range m.data {
		if k.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) DatabaseExists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dbs[name], nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
