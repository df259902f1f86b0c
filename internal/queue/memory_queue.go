package queue

import (
	"context"
	"sync"

	"github.com/matchops/local-sync/internal/entity"
)

// MemoryQueue is an in-process Queue implementation, the primary test
// double for the write-through wrapper, engine, and bulk pusher.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []*Entry
	failed  []*Entry
	nextSeq int64
	closed  bool
}

// NewMemoryQueue constructs an empty, uninitialized MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Initialize(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

func (q *MemoryQueue) Enqueue(ctx context.Context, op entity.Operation) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrClosed
	}

	remaining, appendNew := dedupe(q.entries, op)
	q.entries = remaining

	if appendNew {
		q.nextSeq++
		q.entries = append(q.entries, &Entry{
			ID:       newEntryID(),
			Sequence: q.nextSeq,
			Op:       op,
		})
	}
	return !appendNew, nil
}

func (q *MemoryQueue) GetStats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: int64(len(q.entries)), Failed: int64(len(q.failed))}, nil
}

func (q *MemoryQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
	q.failed = nil
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Next scans entries in sequence order and returns the oldest
// non-dispatched entry whose key has no earlier in-flight entry (per-entity
// FIFO).
func (q *MemoryQueue) Next(ctx context.Context) (*Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	inFlightKeys := make(map[entity.Key]bool)
	for _, e := range q.entries {
		if e.Dispatched {
			inFlightKeys[e.Key()] = true
		}
	}

	for _, e := range q.entries {
		if e.Dispatched {
			continue
		}
		if inFlightKeys[e.Key()] {
			continue
		}
		return e, true, nil
	}
	return nil, false, nil
}

func (q *MemoryQueue) MarkDispatched(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ID == id {
			e.Dispatched = true
			return nil
		}
	}
	return nil
}

func (q *MemoryQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *MemoryQueue) MarkRetry(ctx context.Context, id string, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ID == id {
			e.Attempts++
			e.LastError = lastErr
			e.Dispatched = false
			return nil
		}
	}
	return nil
}

func (q *MemoryQueue) MarkFailed(ctx context.Context, id string, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.ID == id {
			e.LastError = lastErr
			e.Dispatched = false
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.failed = append(q.failed, e)
			return nil
		}
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
