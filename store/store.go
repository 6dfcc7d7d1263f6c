// Package store defines the persistence protocol the entity runtime depends
// on: an append-only, optimistically-versioned event log plus a
// latest-snapshot slot per entity, holding opaque bytes.
//
// Concrete backends live in subpackages: store/memstore (in-process,
// reference implementation), store/boltstore (embedded, bbolt-backed),
// store/pgstore (PostgreSQL-backed, with LISTEN/NOTIFY-driven subscriptions)
// and the store/redisnotify decorator that adds subscription support to any
// of the above via Redis Pub/Sub.
package store

import (
	"context"
	"errors"
)

// ErrVersionConflict is returned by CommitEvent when version does not equal
// one past the store's current max(snapshot version, latest event version)
// for that entity ID — the optimistic-concurrency rejection spec §3 and §6
// require.
var ErrVersionConflict = errors.New("store: commit version conflict")

// Event is one persisted (version, opaque-bytes) record.
type Event struct {
	Version int
	Data    []byte
}

// Snapshot is the persisted full-state record for an entity.
type Snapshot struct {
	Version int
	Data    []byte
}

// Store is the persistence protocol the entity runtime requires. All
// methods operate on opaque bytes — the runtime is responsible for encoding
// and decoding its own event, snapshot and stream-log records (see package
// entity's eventcodec.go and streamlog.go).
type Store interface {
	// GetEvents returns events for entityID with version strictly greater
	// than fromVersion, ascending, contiguous.
	GetEvents(ctx context.Context, entityID string, fromVersion int) ([]Event, error)

	// CommitEvent appends one event. It must fail with ErrVersionConflict
	// (wrapped or bare; callers use errors.Is) iff version is not exactly
	// one past the entity's current max(snapshot version, latest event
	// version).
	CommitEvent(ctx context.Context, entityID string, version int, data []byte) error

	// GetLatestSnapshot returns the most recently committed snapshot for
	// entityID, or ok=false if none exists.
	GetLatestSnapshot(ctx context.Context, entityID string) (snap Snapshot, ok bool, err error)

	// CommitSnapshot upserts the snapshot for entityID. It is best-effort
	// durable and may be called for a version not at the event log's
	// current tail.
	CommitSnapshot(ctx context.Context, entityID string, version int, data []byte) error
}

// Clearer is an optional Store capability: deleting all events and
// snapshots for an entity ID, used by the supervisor's "reset" strategy.
// Implementations that do not support it simply don't satisfy this
// interface; callers type-assert and no-op if absent.
type Clearer interface {
	ClearEntity(ctx context.Context, entityID string) error
}

// WakeFunc is invoked (with no arguments) when new events may have appeared
// for the subscribed entity ID. It may be called spuriously; subscribers
// must re-check the log themselves.
type WakeFunc func()

// Subscriber is an optional Store capability: push notification of new
// events, letting manager.ReadStream avoid polling. Implementations that do
// not support it simply don't satisfy this interface.
type Subscriber interface {
	SubscribeEvents(ctx context.Context, entityID string, onWake WakeFunc) (unsubscribe func(), err error)
}
