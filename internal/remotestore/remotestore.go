// Package remotestore declares the contract consumed by the Sync Executor
// from the remote store — the authoritative cloud CRUD surface. Remote
// transport and auth are external concerns; this package specifies only
// the operations the executor calls, plus an S3 reference implementation
// so the module has a runnable remote backend.
package remotestore

import (
	"context"

	"github.com/matchops/local-sync/internal/entity"
)

// Store is the remote CRUD surface the executor dispatches operations
// against. Upsert MUST be idempotent since the write-through wrapper
// enqueues every upsert call as Create, relying on repeated delivery
// being harmless.
type Store interface {
	// Upsert creates-or-replaces the entity at (kind, id).
	Upsert(ctx context.Context, kind entity.Kind, e entity.Entity) error

	// Delete removes the entity at (kind, id). extra carries the
	// composite-identity payload for PlayerAdjustment deletes; it is
	// nil for every other kind.
	Delete(ctx context.Context, kind entity.Kind, id string, extra interface{}) error

	// Initialize prepares the remote connection.
	Initialize(ctx context.Context) error

	// Close releases the remote connection.
	Close() error

	// ClearAllUserData removes every remote entity for the current user.
	ClearAllUserData(ctx context.Context) error

	// TestConnection performs a cheap round-trip used to classify the
	// engine's online/connected signal.
	TestConnection(ctx context.Context) error
}
