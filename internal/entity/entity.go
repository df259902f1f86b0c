// Package entity defines the domain model shared by every component of the
// sync core: the closed set of entity kinds, the opaque Entity envelope, and
// the tagged Operation variants the Sync Queue persists and the Sync
// Executor dispatches.
//
// The core never interprets payload internals beyond the two timestamp
// fields used for change detection (see CanonicalEqual). Everything else
// about an Entity's shape is the caller's concern.
package entity

import "fmt"

// Kind is the closed enumeration of entity categories the sync core knows
// how to route. Adding a kind requires updating Valid and AllKinds in
// lockstep.
type Kind string

const (
	KindPlayer           Kind = "Player"
	KindTeam             Kind = "Team"
	KindTeamRoster       Kind = "TeamRoster"
	KindSeason           Kind = "Season"
	KindTournament       Kind = "Tournament"
	KindPersonnel        Kind = "Personnel"
	KindGame             Kind = "Game"
	KindPlayerAdjustment Kind = "PlayerAdjustment"
	KindSettings         Kind = "Settings"
	KindWarmupPlan       Kind = "WarmupPlan"
)

// AllKinds enumerates every known Kind, in the dependency order the bulk
// pusher pushes them. The bulk pusher pushes TeamRoster and
// PlayerAdjustment sequentially and every other kind chunked-parallel.
var AllKinds = []Kind{
	KindPlayer,
	KindSeason,
	KindTournament,
	KindTeam,
	KindTeamRoster,
	KindPersonnel,
	KindGame,
	KindSettings,
	KindWarmupPlan,
	KindPlayerAdjustment,
}

// Valid reports whether k is one of the closed set of known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPlayer, KindTeam, KindTeamRoster, KindSeason, KindTournament,
		KindPersonnel, KindGame, KindPlayerAdjustment, KindSettings, KindWarmupPlan:
		return true
	}
	return false
}

// SingletonID returns the fixed id for kinds that have exactly one instance
// per user, and true if k is such a kind.
func SingletonID(k Kind) (string, bool) {
	switch k {
	case KindSettings:
		return "app", true
	case KindWarmupPlan:
		return "default", true
	}
	return "", false
}

// Entity is an opaque application record identified by (Kind, ID). Payload
// carries the caller's JSON-serializable data; CreatedAt/UpdatedAt are
// optional ISO-ish markers the core passes through and, for Settings and
// Game, compares structurally (see CanonicalEqual) but never otherwise
// interprets.
type Entity struct {
	Kind      Kind        `json:"kind"`
	ID        string      `json:"id"`
	Payload   interface{} `json:"payload"`
	CreatedAt string      `json:"createdAt,omitempty"`
	UpdatedAt string      `json:"updatedAt,omitempty"`
}

// Key identifies an entity uniquely within a user's data, independent of
// its payload. Queue dedup and the engine's per-entity FIFO ordering both
// key on this.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Kind, k.ID)
}

// OpType is the tagged-variant discriminator for a queued Operation.
type OpType string

const (
	OpCreate OpType = "Create"
	OpUpdate OpType = "Update"
	OpDelete OpType = "Delete"
)

// PlayerAdjustmentDeletePayload is the composite identity a PlayerAdjustment
// delete carries, since its remote identity is (playerId, adjustmentId)
// rather than id alone.
type PlayerAdjustmentDeletePayload struct {
	PlayerID string `json:"playerId"`
}

// Operation is one queued intent to mutate a remote entity. EnqueuedAt is a
// monotonic-ish wall clock reading used only for human-facing ordering
// display; the queue's actual ordering authority is its persisted sequence
// number, assigned at enqueue time.
type Operation struct {
	Kind       Kind        `json:"kind"`
	ID         string      `json:"id"`
	Op         OpType      `json:"op"`
	Payload    interface{} `json:"payload"`
	EnqueuedAt int64       `json:"enqueuedAt"`
}

// Key returns the (Kind, ID) this operation targets.
func (o Operation) Key() Key {
	return Key{Kind: o.Kind, ID: o.ID}
}
