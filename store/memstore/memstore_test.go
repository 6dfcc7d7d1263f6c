package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/entityrt/store"
)

func TestStore_CommitEvent_SequentialVersionsSucceed(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("a")))
	require.NoError(t, s.CommitEvent(ctx, "e1", 2, []byte("b")))

	events, err := s.GetEvents(ctx, "e1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, []byte("a"), events[0].Data)
	assert.Equal(t, []byte("b"), events[1].Data)
}

func TestStore_CommitEvent_RejectsNonSequentialVersion(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("a")))
	err := s.CommitEvent(ctx, "e1", 3, []byte("c"))
	assert.True(t, errors.Is(err, store.ErrVersionConflict))

	err = s.CommitEvent(ctx, "e1", 1, []byte("dup"))
	assert.True(t, errors.Is(err, store.ErrVersionConflict))
}

func TestStore_GetEvents_FromVersionIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("a")))
	require.NoError(t, s.CommitEvent(ctx, "e1", 2, []byte("b")))
	require.NoError(t, s.CommitEvent(ctx, "e1", 3, []byte("c")))

	events, err := s.GetEvents(ctx, "e1", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].Version)
	assert.Equal(t, 3, events[1].Version)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.GetLatestSnapshot(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CommitSnapshot(ctx, "e1", 5, []byte("state-v5")))
	snap, ok, err := s.GetLatestSnapshot(ctx, "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, snap.Version)
	assert.Equal(t, []byte("state-v5"), snap.Data)
}

func TestStore_VersionCheckAccountsForSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CommitSnapshot(ctx, "e1", 10, []byte("state-v10")))

	err := s.CommitEvent(ctx, "e1", 5, []byte("stale"))
	assert.True(t, errors.Is(err, store.ErrVersionConflict))

	require.NoError(t, s.CommitEvent(ctx, "e1", 11, []byte("next")))
}

func TestStore_ClearEntity_RemovesEventsAndSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("a")))
	require.NoError(t, s.CommitSnapshot(ctx, "e1", 1, []byte("snap")))

	require.NoError(t, s.ClearEntity(ctx, "e1"))

	events, err := s.GetEvents(ctx, "e1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
	_, ok, err := s.GetLatestSnapshot(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("fresh")))
}

func TestStore_DataIsCopiedNotAliased(t *testing.T) {
	ctx := context.Background()
	s := New()
	buf := []byte("original")
	require.NoError(t, s.CommitEvent(ctx, "e1", 1, buf))
	buf[0] = 'X'

	events, err := s.GetEvents(ctx, "e1", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), events[0].Data)
}
