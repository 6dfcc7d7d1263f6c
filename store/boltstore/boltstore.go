// Package boltstore is an embedded, single-file store.Store backed by
// go.etcd.io/bbolt, adapted from eve's db/bolt wrapper: one top-level bucket
// per concern (events, snapshots), JSON-valued keys, bbolt's own
// single-writer transaction serializing concurrent commits.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"eve.evalgo.org/entityrt/store"
)

var (
	eventsBucket    = []byte("events")
	snapshotsBucket = []byte("snapshots")
)

// Store is a bbolt-backed store.Store. Each entity's events live in the
// events bucket under a sub-bucket named after the entity ID, keyed by an
// 8-byte big-endian version so bbolt's native key ordering gives ascending
// version order for free.
type Store struct {
	db *bolt.DB
}

// Open opens or creates a bbolt database file at path and ensures the
// top-level buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(eventsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(snapshotsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
var _ store.Clearer = (*Store)(nil)

func versionKey(v int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

type snapshotRecord struct {
	Version int    `json:"version"`
	Data    []byte `json:"data"`
}

func (s *Store) currentVersion(tx *bolt.Tx, entityID string) int {
	v := 0
	if sb := tx.Bucket(snapshotsBucket); sb != nil {
		if raw := sb.Get([]byte(entityID)); raw != nil {
			var rec snapshotRecord
			if json.Unmarshal(raw, &rec) == nil {
				v = rec.Version
			}
		}
	}
	if eb := tx.Bucket(eventsBucket); eb != nil {
		if sub := eb.Bucket([]byte(entityID)); sub != nil {
			if k, _ := sub.Cursor().Last(); k != nil {
				if last := int(binary.BigEndian.Uint64(k)); last > v {
					v = last
				}
			}
		}
	}
	return v
}

// CommitEvent implements store.Store.
func (s *Store) CommitEvent(_ context.Context, entityID string, version int, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if version != s.currentVersion(tx, entityID)+1 {
			return store.ErrVersionConflict
		}
		eb := tx.Bucket(eventsBucket)
		sub, err := eb.CreateBucketIfNotExists([]byte(entityID))
		if err != nil {
			return fmt.Errorf("boltstore: create entity bucket: %w", err)
		}
		return sub.Put(versionKey(version), data)
	})
}

// GetEvents implements store.Store. fromVersion is exclusive.
func (s *Store) GetEvents(_ context.Context, entityID string, fromVersion int) ([]store.Event, error) {
	var out []store.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		eb := tx.Bucket(eventsBucket)
		sub := eb.Bucket([]byte(entityID))
		if sub == nil {
			return nil
		}
		return sub.ForEach(func(k, v []byte) error {
			ver := int(binary.BigEndian.Uint64(k))
			if ver > fromVersion {
				cp := make([]byte, len(v))
				copy(cp, v)
				out = append(out, store.Event{Version: ver, Data: cp})
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: get events: %w", err)
	}
	return out, nil
}

// GetLatestSnapshot implements store.Store.
func (s *Store) GetLatestSnapshot(_ context.Context, entityID string) (store.Snapshot, bool, error) {
	var rec snapshotRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket(snapshotsBucket)
		raw := sb.Get([]byte(entityID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("boltstore: get snapshot: %w", err)
	}
	if !found {
		return store.Snapshot{}, false, nil
	}
	return store.Snapshot{Version: rec.Version, Data: rec.Data}, true, nil
}

// CommitSnapshot implements store.Store.
func (s *Store) CommitSnapshot(_ context.Context, entityID string, version int, data []byte) error {
	raw, err := json.Marshal(snapshotRecord{Version: version, Data: data})
	if err != nil {
		return fmt.Errorf("boltstore: marshal snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(snapshotsBucket)
		return sb.Put([]byte(entityID), raw)
	})
}

// ClearEntity implements store.Clearer.
func (s *Store) ClearEntity(_ context.Context, entityID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(eventsBucket)
		if eb.Bucket([]byte(entityID)) != nil {
			if err := eb.DeleteBucket([]byte(entityID)); err != nil {
				return fmt.Errorf("boltstore: delete entity bucket: %w", err)
			}
		}
		sb := tx.Bucket(snapshotsBucket)
		return sb.Delete([]byte(entityID))
	})
}
