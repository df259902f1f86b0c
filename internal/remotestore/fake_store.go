package remotestore

import (
	"context"
	"sync"

	"github.com/matchops/local-sync/internal/entity"
)

// FakeStore is an in-memory Remote Store double used across the module's
// tests. Calls can be scripted to fail via NextError/NextErrors so tests can
// exercise the executor's error classification and the engine's retry path.
type FakeStore struct {
	mu sync.Mutex

	data map[entity.Key]entity.Entity

	// queuedErrors is consumed FIFO, one error per Upsert/Delete call,
	// before falling back to nil (success).
	queuedErrors []error

	upsertCalls []entity.Key
	deleteCalls []entity.Key

	lastDeleteExtra interface{}

	online bool
	closed bool
}

// NewFakeStore creates an empty FakeStore that reports online by default.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		data:   make(map[entity.Key]entity.Entity),
		online: true,
	}
}

// QueueError schedules err to be returned by the next Upsert or Delete
// call; pass nil to schedule a success.
func (f *FakeStore) QueueError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queuedErrors = append(f.queuedErrors, err)
}

// SetOnline controls what TestConnection reports.
func (f *FakeStore) SetOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = online
}

func (f *FakeStore) nextError() error {
	if len(f.queuedErrors) == 0 {
		return nil
	}
	err := f.queuedErrors[0]
	f.queuedErrors = f.queuedErrors[1:]
	return err
}

// UpsertCalls returns the keys Upsert was invoked with, in call order.
func (f *FakeStore) UpsertCalls() []entity.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.Key, len(f.upsertCalls))
	copy(out, f.upsertCalls)
	return out
}

// DeleteCalls returns the keys Delete was invoked with, in call order.
func (f *FakeStore) DeleteCalls() []entity.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.Key, len(f.deleteCalls))
	copy(out, f.deleteCalls)
	return out
}

// LastDeleteExtra returns the extra payload passed to the most recent
// Delete call (nil for kinds other than PlayerAdjustment).
func (f *FakeStore) LastDeleteExtra() interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastDeleteExtra
}

// Get returns the entity stored at (kind, id), for test assertions.
func (f *FakeStore) Get(kind entity.Kind, id string) (entity.Entity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[entity.Key{Kind: kind, ID: id}]
	return e, ok
}

func (f *FakeStore) Upsert(ctx context.Context, kind entity.Kind, e entity.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls = append(f.upsertCalls, entity.Key{Kind: kind, ID: e.ID})
	if err := f.nextError(); err != nil {
		return err
	}
	f.data[entity.Key{Kind: kind, ID: e.ID}] = e
	return nil
}

func (f *FakeStore) Delete(ctx context.Context, kind entity.Kind, id string, extra interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, entity.Key{Kind: kind, ID: id})
	f.lastDeleteExtra = extra
	if err := f.nextError(); err != nil {
		return err
	}
	delete(f.data, entity.Key{Kind: kind, ID: id})
	return nil
}

func (f *FakeStore) Initialize(ctx context.Context) error { return nil }

func (f *FakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeStore) ClearAllUserData(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = make(map[entity.Key]entity.Entity)
	return nil
}

func (f *FakeStore) TestConnection(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online {
		return ErrOffline
	}
	return nil
}

var _ Store = (*FakeStore)(nil)
