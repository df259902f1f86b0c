// Package localstore declares the contract the sync core consumes from the
// local store — the durable, on-device entity database that is the sole
// source of truth. Its schema and persistence mechanics are an external
// concern; this package only specifies the operations the write-through
// wrapper and bulk pusher call through, plus a BadgerDB-backed reference
// implementation so the rest of the module has something concrete to run
// against in tests and the CLI.
package localstore

import (
	"context"
	"errors"

	"github.com/matchops/local-sync/internal/entity"
)

// ErrNotFound is returned by Get/Update when no entity exists at the given
// (kind, id).
var ErrNotFound = errors.New("localstore: entity not found")

// Store is the full entity-CRUD surface the write-through wrapper
// delegates to and the bulk pusher reads from directly.
type Store interface {
	// Create persists a brand new entity and returns the stored value
	// (which may have server-assigned fields such as ID filled in).
	Create(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error)

	// Get retrieves a single entity, or ErrNotFound.
	Get(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error)

	// Update overwrites an existing entity. Returns ErrNotFound if absent.
	Update(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error)

	// Upsert creates or overwrites, returning the stored value.
	Upsert(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error)

	// Delete removes an entity. Deleting an absent entity is not an error
	// (idempotent from the caller's perspective).
	Delete(ctx context.Context, kind entity.Kind, id string) error

	// List returns every entity of a given kind, used by the bulk pusher's
	// parallel read-all-into-memory step.
	List(ctx context.Context, kind entity.Kind) ([]entity.Entity, error)

	// DatabaseExists reports whether a named on-disk database is present,
	// used by userscope.LegacyExists.
	DatabaseExists(ctx context.Context, name string) (bool, error)

	// Close releases the backing connection. Idempotent.
	Close() error
}
