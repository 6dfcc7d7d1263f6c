package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/entityrt/store"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entityrt.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CommitAndGetEvents_OrderedByVersion(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("a")))
	require.NoError(t, s.CommitEvent(ctx, "e1", 2, []byte("b")))

	events, err := s.GetEvents(ctx, "e1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, 2, events[1].Version)
}

func TestStore_CommitEvent_RejectsVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("a")))
	err := s.CommitEvent(ctx, "e1", 1, []byte("dup"))
	assert.True(t, errors.Is(err, store.ErrVersionConflict))
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, ok, err := s.GetLatestSnapshot(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CommitSnapshot(ctx, "e1", 3, []byte("state-v3")))
	snap, ok, err := s.GetLatestSnapshot(ctx, "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, snap.Version)
	assert.Equal(t, []byte("state-v3"), snap.Data)
}

func TestStore_ClearEntity_RemovesEventsAndSnapshot(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("a")))
	require.NoError(t, s.CommitSnapshot(ctx, "e1", 1, []byte("snap")))

	require.NoError(t, s.ClearEntity(ctx, "e1"))

	events, err := s.GetEvents(ctx, "e1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("fresh")))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "entityrt.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.CommitEvent(ctx, "e1", 1, []byte("a")))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	events, err := s2.GetEvents(ctx, "e1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []byte("a"), events[0].Data)
}
