package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/matchops/local-sync/internal/entity"
	"github.com/matchops/local-sync/internal/localstore"
)

const (
	pendingPrefix = "queue:pending:"
	failedPrefix  = "queue:failed:"
	seqKey        = "queue:meta:nextSeq"
)

// rawStore is the narrow raw byte-oriented surface BadgerQueue needs,
// satisfied by localstore.BadgerStore.
type rawStore interface {
	GetRaw(ctx context.Context, key string) ([]byte, error)
	PutRaw(ctx context.Context, key string, val []byte) error
	RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error
	RawBatch(ctx context.Context, sets map[string][]byte, deletes []string) error
	Close() error
}

// BadgerQueue is a BadgerDB-backed Queue, one database directory per user,
// mirroring internal/localstore.BadgerStore's per-namespace approach.
// Entries are persisted under "queue:pending:<sequence padded>" keys so
// that BadgerDB's lexicographic iteration order is also enqueue order;
// failed entries move to "queue:failed:<id>".
type BadgerQueue struct {
	mu     sync.Mutex
	store  rawStore
	logger *logrus.Logger
}

// NewBadgerQueue wraps an already-open raw store (typically a
// *localstore.BadgerStore opened at "<dataDir>/<dbName>-queue") as a Queue.
func NewBadgerQueue(store rawStore, logger *logrus.Logger) *BadgerQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &BadgerQueue{store: store, logger: logger}
}

// OpenBadgerQueue opens (creating if absent) the BadgerDB queue store for a
// given local database name, following the "<name>-queue" directory
// convention.
func OpenBadgerQueue(dataDir, dbName string, logger *logrus.Logger) (*BadgerQueue, error) {
	bs, err := localstore.NewBadgerStore(localstore.BadgerOptions{
		DataDir:      dataDir,
		DatabaseName: dbName + "-queue",
		SyncWrites:   true,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: open badger queue store: %w", err)
	}
	return NewBadgerQueue(bs, logger), nil
}

func (q *BadgerQueue) Initialize(ctx context.Context) error {
	return nil
}

func (q *BadgerQueue) loadPending(ctx context.Context) ([]*Entry, error) {
	var out []*Entry
	err := q.store.RawScan(ctx, pendingPrefix, "", func(key string, val []byte) bool {
		var e Entry
		if err := json.Unmarshal(val, &e); err == nil {
			out = append(out, &e)
		}
		return true
	})
	return out, err
}

func pendingKey(seq int64) string {
	return fmt.Sprintf("%s%020d", pendingPrefix, seq)
}

func failedKey(id string) string {
	return failedPrefix + id
}

func (q *BadgerQueue) nextSeq(ctx context.Context) (int64, error) {
	raw, err := q.store.GetRaw(ctx, seqKey)
	if err != nil && err != localstore.ErrNotFound {
		return 0, err
	}
	var cur int64
	if raw != nil {
		if err := json.Unmarshal(raw, &cur); err != nil {
			return 0, err
		}
	}
	cur++
	buf, err := json.Marshal(cur)
	if err != nil {
		return 0, err
	}
	if err := q.store.PutRaw(ctx, seqKey, buf); err != nil {
		return 0, err
	}
	return cur, nil
}

func (q *BadgerQueue) Enqueue(ctx context.Context, op entity.Operation) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.loadPending(ctx)
	if err != nil {
		return false, fmt.Errorf("queue: load pending: %w", err)
	}

	remaining, appendNew := dedupe(pending, op)

	sets := make(map[string][]byte)
	var deletes []string

	removedBySeq := make(map[int64]bool)
	for _, e := range pending {
		removedBySeq[e.Sequence] = true
	}
	for _, e := range remaining {
		removedBySeq[e.Sequence] = false
	}
	for seq, gone := range removedBySeq {
		if gone {
			deletes = append(deletes, pendingKey(seq))
		}
	}
	for _, e := range remaining {
		raw, err := json.Marshal(e)
		if err != nil {
			return false, fmt.Errorf("queue: marshal entry: %w", err)
		}
		sets[pendingKey(e.Sequence)] = raw
	}

	if appendNew {
		seq, err := q.nextSeq(ctx)
		if err != nil {
			return false, fmt.Errorf("queue: assign sequence: %w", err)
		}
		e := &Entry{ID: newEntryID(), Sequence: seq, Op: op}
		raw, err := json.Marshal(e)
		if err != nil {
			return false, fmt.Errorf("queue: marshal entry: %w", err)
		}
		sets[pendingKey(seq)] = raw
	}

	deduped := !appendNew
	if len(sets) == 0 && len(deletes) == 0 {
		return deduped, nil
	}
	return deduped, q.store.RawBatch(ctx, sets, deletes)
}

func (q *BadgerQueue) GetStats(ctx context.Context) (Stats, error) {
	var pending, failedCount int64
	if err := q.store.RawScan(ctx, pendingPrefix, "", func(key string, val []byte) bool {
		pending++
		return true
	}); err != nil {
		return Stats{}, err
	}
	if err := q.store.RawScan(ctx, failedPrefix, "", func(key string, val []byte) bool {
		failedCount++
		return true
	}); err != nil {
		return Stats{}, err
	}
	return Stats{Pending: pending, Failed: failedCount}, nil
}

func (q *BadgerQueue) Clear(ctx context.Context) error {
	var deletes []string
	collect := func(key string, val []byte) bool {
		deletes = append(deletes, key)
		return true
	}
	if err := q.store.RawScan(ctx, pendingPrefix, "", collect); err != nil {
		return err
	}
	if err := q.store.RawScan(ctx, failedPrefix, "", collect); err != nil {
		return err
	}
	if len(deletes) == 0 {
		return nil
	}
	return q.store.RawBatch(ctx, nil, deletes)
}

func (q *BadgerQueue) Close() error {
	return q.store.Close()
}

func (q *BadgerQueue) findPending(ctx context.Context, id string) (*Entry, error) {
	entries, err := q.loadPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

// Next returns the oldest non-dispatched entry whose key has no earlier
// in-flight entry, preserving per-entity FIFO.
func (q *BadgerQueue) Next(ctx context.Context) (*Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.loadPending(ctx)
	if err != nil {
		return nil, false, err
	}

	inFlightKeys := make(map[entity.Key]bool)
	for _, e := range entries {
		if e.Dispatched {
			inFlightKeys[e.Key()] = true
		}
	}
	for _, e := range entries {
		if e.Dispatched || inFlightKeys[e.Key()] {
			continue
		}
		return e, true, nil
	}
	return nil, false, nil
}

func (q *BadgerQueue) MarkDispatched(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.findPending(ctx, id)
	if err != nil || e == nil {
		return err
	}
	e.Dispatched = true
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.store.PutRaw(ctx, pendingKey(e.Sequence), raw)
}

func (q *BadgerQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.findPending(ctx, id)
	if err != nil || e == nil {
		return err
	}
	return q.store.RawBatch(ctx, nil, []string{pendingKey(e.Sequence)})
}

func (q *BadgerQueue) MarkRetry(ctx context.Context, id string, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.findPending(ctx, id)
	if err != nil || e == nil {
		return err
	}
	e.Attempts++
	e.LastError = lastErr
	e.Dispatched = false
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.store.PutRaw(ctx, pendingKey(e.Sequence), raw)
}

func (q *BadgerQueue) MarkFailed(ctx context.Context, id string, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.findPending(ctx, id)
	if err != nil || e == nil {
		return err
	}
	e.LastError = lastErr
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	sets := map[string][]byte{failedKey(e.ID): raw}
	deletes := []string{pendingKey(e.Sequence)}
	return q.store.RawBatch(ctx, sets, deletes)
}

var _ Queue = (*BadgerQueue)(nil)
