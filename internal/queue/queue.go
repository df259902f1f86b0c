// Package queue implements the Sync Queue: a durable, per-user, ordered log
// of pending sync operations with in-queue deduplication. It never talks to
// the remote store directly; the Sync Engine drains it through the Sync
// Executor.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/matchops/local-sync/internal/entity"
)

// ErrClosed is returned by MemoryQueue's Initialize and Enqueue once Close
// has been called.
var ErrClosed = errors.New("queue: closed")

// Entry wraps one queued Operation with the bookkeeping the engine needs:
// a monotone ordering sequence, retry attempts, the last error seen, and
// whether it is currently in flight (and therefore immune to dedup
// coalescing per spec.md §4.2).
type Entry struct {
	ID         string
	Sequence   int64
	Op         entity.Operation
	Attempts   int
	LastError  string
	Dispatched bool
}

// Key returns the (Kind, ID) this entry's operation targets.
func (e *Entry) Key() entity.Key { return e.Op.Key() }

// Stats is the {pending, failed} summary returned by getStats().
type Stats struct {
	Pending int64
	Failed  int64
}

// Queue is the public Sync Queue surface consumed by the write-through
// wrapper (enqueue) and the sync engine (scan/mark/remove/fail).
type Queue interface {
	// Initialize opens the backing store for this userId, creating it if
	// absent. Idempotent.
	Initialize(ctx context.Context) error

	// Enqueue applies the deduplication rules in spec.md §3 rule 2 against
	// the current pending (non-dispatched) set, then persists. It returns
	// only after the durable write completes. deduped reports whether op
	// was coalesced into (or cancelled against) an existing pending entry
	// rather than appended as a new one.
	Enqueue(ctx context.Context, op entity.Operation) (deduped bool, err error)

	// GetStats returns the current {pending, failed} counts.
	GetStats(ctx context.Context) (Stats, error)

	// Clear removes every entry for this userId, pending and failed alike.
	Clear(ctx context.Context) error

	// Close releases the backing connection. Idempotent.
	Close() error

	// Next returns the oldest non-dispatched, non-failed entry respecting
	// per-entity FIFO (never returns an entry for a key whose earlier
	// entry is still in flight), or (nil, false) if none is ready.
	Next(ctx context.Context) (*Entry, bool, error)

	// MarkDispatched flags an entry in-flight, making it immune to dedup
	// coalescing until Remove or MarkFailed/MarkRetry resolves it.
	MarkDispatched(ctx context.Context, id string) error

	// Remove deletes an entry after a successful dispatch.
	Remove(ctx context.Context, id string) error

	// MarkRetry increments the attempt counter, records lastError, and
	// clears the in-flight flag, so the entry is again eligible for
	// redispatch and, like any other non-dispatched entry, for dedup
	// coalescing by later Enqueue calls.
	MarkRetry(ctx context.Context, id string, lastErr string) error

	// MarkFailed moves an entry to the failed shelf, counted in
	// failedCount and no longer eligible for dispatch.
	MarkFailed(ctx context.Context, id string, lastErr string) error
}

// dedupe mutates pending (in enqueue order) applying spec.md §3 rule 2
// against the incoming op, and reports whether op should still be
// appended as a new entry afterward. Only entries with Dispatched == false
// are candidates; in-flight entries are left untouched.
func dedupe(pending []*Entry, op entity.Operation) (still []*Entry, appendNew bool) {
	key := op.Key()
	appendNew = true
	out := pending[:0:0]
	out = append(out, pending...)

	for i := 0; i < len(out); i++ {
		e := out[i]
		if e.Dispatched || e.Key() != key {
			continue
		}
		switch {
		case e.Op.Op == entity.OpCreate && op.Op == entity.OpDelete:
			// Create+Delete not yet dispatched cancels both: the remote
			// never observed this entity.
			out = append(out[:i], out[i+1:]...)
			i--
			appendNew = false
		case e.Op.Op == entity.OpUpdate && op.Op == entity.OpDelete:
			// Delete supersedes a pending Update.
			out = append(out[:i], out[i+1:]...)
			i--
		case e.Op.Op == entity.OpCreate && op.Op == entity.OpUpdate:
			// Create followed by Update collapses to a single Create
			// carrying the updated payload.
			e.Op.Payload = op.Payload
			e.Op.EnqueuedAt = op.EnqueuedAt
			appendNew = false
		case e.Op.Op == entity.OpUpdate && op.Op == entity.OpUpdate:
			// Coalesce: replace the older pending Update's payload in
			// place, keeping its position (and so its enqueue order) for
			// FIFO purposes.
			e.Op.Payload = op.Payload
			e.Op.EnqueuedAt = op.EnqueuedAt
			appendNew = false
		}
	}
	return out, appendNew
}

func newEntryID() string {
	return uuid.NewString()
}
