// Package memstore is an in-process store.Store implementation: events and
// snapshots live in maps guarded by a mutex and are lost on process restart.
// It is the reference implementation other store.Store backends are checked
// against, and the default for tests and local runs that don't need
// durability.
package memstore

import (
	"context"
	"sort"
	"sync"

	"eve.evalgo.org/entityrt/store"
)

// Store is a concurrency-safe, in-memory store.Store.
type Store struct {
	mu        sync.RWMutex
	events    map[string][]store.Event
	snapshots map[string]store.Snapshot
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		events:    make(map[string][]store.Event),
		snapshots: make(map[string]store.Snapshot),
	}
}

var _ store.Store = (*Store)(nil)
var _ store.Clearer = (*Store)(nil)

func (s *Store) currentVersion(entityID string) int {
	v := 0
	if snap, ok := s.snapshots[entityID]; ok {
		v = snap.Version
	}
	if seq := s.events[entityID]; len(seq) > 0 {
		if last := seq[len(seq)-1].Version; last > v {
			v = last
		}
	}
	return v
}

// CommitEvent implements store.Store.
func (s *Store) CommitEvent(_ context.Context, entityID string, version int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version != s.currentVersion(entityID)+1 {
		return store.ErrVersionConflict
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.events[entityID] = append(s.events[entityID], store.Event{Version: version, Data: cp})
	return nil
}

// GetEvents implements store.Store. fromVersion is exclusive.
func (s *Store) GetEvents(_ context.Context, entityID string, fromVersion int) ([]store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.events[entityID]
	out := make([]store.Event, 0, len(seq))
	for _, e := range seq {
		if e.Version > fromVersion {
			cp := make([]byte, len(e.Data))
			copy(cp, e.Data)
			out = append(out, store.Event{Version: e.Version, Data: cp})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// GetLatestSnapshot implements store.Store.
func (s *Store) GetLatestSnapshot(_ context.Context, entityID string) (store.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[entityID]
	if !ok {
		return store.Snapshot{}, false, nil
	}
	cp := make([]byte, len(snap.Data))
	copy(cp, snap.Data)
	return store.Snapshot{Version: snap.Version, Data: cp}, true, nil
}

// CommitSnapshot implements store.Store.
func (s *Store) CommitSnapshot(_ context.Context, entityID string, version int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	s.snapshots[entityID] = store.Snapshot{Version: version, Data: cp}
	return nil
}

// ClearEntity implements store.Clearer: drops all events and the snapshot
// for entityID, used by the supervisor's reset strategy.
func (s *Store) ClearEntity(_ context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, entityID)
	delete(s.snapshots, entityID)
	return nil
}
